// Package database holds database connection settings shared by the GORM adapter,
// the SQL job repository and the JDBC paging readers.
package database

import (
	"fmt"

	"github.com/tigerroll/pagebatch/pkg/batch/core/config"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string            `yaml:"type"`     // "mysql", "postgres", "sqlite".
	Host     string            `yaml:"host"`     // Database host address.
	Port     int               `yaml:"port"`     // Database port number.
	Database string            `yaml:"database"` // Database name, or file path for SQLite.
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Sslmode  string            `yaml:"sslmode"`
	Params   map[string]string `yaml:"params"` // Extra DSN parameters.
	Pool     PoolConfig        `yaml:"pool"`
}

// Lookup decodes the database entry name from cfg.
func Lookup(cfg *config.Config, name string) (DatabaseConfig, error) {
	var dbConfig DatabaseConfig
	raw, ok := cfg.PageBatch.AdapterConfigs[name]
	if !ok {
		return dbConfig, exception.NewConfigError("database", name, "is not configured")
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return dbConfig, exception.NewConfigError("database", name, fmt.Sprintf("has unexpected type %T", raw))
	}
	if err := configbinder.BindProperties(props, &dbConfig); err != nil {
		return dbConfig, exception.NewBatchError("database", fmt.Sprintf("failed to decode database config '%s'", name), err, false, false)
	}
	if dbConfig.Type == "" {
		return dbConfig, exception.NewConfigError("database", name+".type", "must be specified")
	}
	return dbConfig, nil
}
