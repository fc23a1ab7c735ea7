// Package config holds the settings of the customer-copy example that are not part of
// the batch framework configuration.
package config

import (
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	batchconfig "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// Config is read from the "customer_copy" section of the application YAML.
type Config struct {
	SourceDBRef string `yaml:"source_db_ref"` // SourceDBRef names the database holding the customer table.
	TargetDBRef string `yaml:"target_db_ref"` // TargetDBRef names the database receiving customer_copy rows.
	SeedCount   int    `yaml:"seed_count"`    // SeedCount customers are inserted when the source table is empty.
	JobKey      string `yaml:"job_key"`       // JobKey identifies the JobInstance. Empty means today's date.
	MetricsAddr string `yaml:"metrics_addr"`  // MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
}

type document struct {
	CustomerCopy Config `yaml:"customer_copy"`
}

// Load reads the example section from the embedded YAML after expanding ${VAR}
// placeholders.
func Load(embedded batchconfig.EmbeddedConfig, expander batchconfig.EnvironmentExpander) (*Config, error) {
	expanded, err := expander.Expand(embedded)
	if err != nil {
		return nil, exception.NewBatchError("customer_copy", "failed to expand config", err, false, false)
	}
	doc := document{CustomerCopy: Config{SourceDBRef: "workload", TargetDBRef: "workload"}}
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, exception.NewBatchError("customer_copy", "failed to unmarshal config", err, false, false)
	}
	if doc.CustomerCopy.SeedCount < 0 {
		return nil, exception.NewConfigError("customer_copy", "seed_count", "must not be negative")
	}
	return &doc.CustomerCopy, nil
}

// Module provides *Config.
var Module = fx.Options(
	fx.Provide(Load),
)
