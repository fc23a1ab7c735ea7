package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig so components can depend on it alone.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.PageBatch.System.Logging
}

// NewBatchConfigProvider extracts *BatchConfig.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.PageBatch.Batch
}

// Module provides *Config and its sections. The application supplies EmbeddedConfig.
var Module = fx.Options(
	fx.Provide(
		NewConfigProvider,
		NewLoggingConfigProvider,
		NewBatchConfigProvider,
		fx.Annotate(NewOsEnvironmentExpander, fx.As(new(EnvironmentExpander))),
	),
)
