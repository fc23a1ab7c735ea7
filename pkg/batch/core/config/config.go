// Package config provides the configuration structures of the batch module and
// their loading from YAML, .env files and environment variables.
package config

import (
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// Partition handler modes.
const (
	PartitionModeReply = "reply"
	PartitionModePoll  = "poll"
)

// ReaderConfig holds defaults for paging readers.
type ReaderConfig struct {
	PageSize     int   `yaml:"page_size"`      // PageSize is the number of rows fetched per query.
	MaxItemCount int64 `yaml:"max_item_count"` // MaxItemCount caps the items read per execution. Zero means unlimited.
}

// PartitionConfig holds settings of the manager side of remote partitioning.
type PartitionConfig struct {
	// GridSize is the requested number of partitions.
	GridSize int `yaml:"grid_size"`
	// Mode is "reply" (wait for aggregated replies) or "poll" (poll the job repository).
	Mode string `yaml:"mode"`
	// PollIntervalSeconds is the repository polling interval in poll mode.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// TimeoutSeconds bounds the wait for all partitions. Zero means no timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// AllowStartIfComplete re-runs completed partitions on restart.
	AllowStartIfComplete bool `yaml:"allow_start_if_complete"`
}

// PollInterval returns the polling interval as a duration.
func (c PartitionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Timeout returns the partition timeout as a duration.
func (c PartitionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MessagingConfig holds settings of the in-process message channels.
type MessagingConfig struct {
	// ChannelCapacity is the buffer size of queue channels.
	ChannelCapacity int `yaml:"channel_capacity"`
	// WorkerCount is the number of concurrent request consumers on the worker side.
	WorkerCount int `yaml:"worker_count"`
	// GroupTimeoutSeconds expires incomplete reply groups. Zero means never.
	GroupTimeoutSeconds int `yaml:"group_timeout_seconds"`
	// SendPartialResultsOnExpiry releases expired groups instead of discarding them.
	SendPartialResultsOnExpiry bool `yaml:"send_partial_results_on_expiry"`
}

// GroupTimeout returns the group timeout as a duration.
func (c MessagingConfig) GroupTimeout() time.Duration {
	return time.Duration(c.GroupTimeoutSeconds) * time.Second
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// JobName is the default job name.
	JobName string `yaml:"job_name"`
	// ChunkSize is the default commit interval of chunk steps.
	ChunkSize int `yaml:"chunk_size"`
	// Reader holds paging reader defaults.
	Reader ReaderConfig `yaml:"reader"`
	// Partition holds remote partitioning settings.
	Partition PartitionConfig `yaml:"partition"`
	// Messaging holds channel settings.
	Messaging MessagingConfig `yaml:"messaging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// JobRepositoryType selects the job repository: "inmemory" or "sql".
	JobRepositoryType string `yaml:"job_repository_type"`
	// JobRepositoryDBRef is the name of the database entry used by the SQL job repository.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ServiceName         string `yaml:"service_name"`
	Protocol            string `yaml:"protocol"` // "grpc" or "http"
	Endpoint            string `yaml:"endpoint"`
	Insecure            bool   `yaml:"insecure"`
	MetricsIntervalSecs int    `yaml:"metrics_interval_seconds"`
	PrometheusNamespace string `yaml:"prometheus_namespace"`
}

// PageBatchConfig holds all configuration under the "pagebatch" top-level key.
type PageBatchConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	// AdapterConfigs holds raw database entries keyed by connection name.
	// They are decoded with configbinder by the database adapter.
	AdapterConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	PageBatch PageBatchConfig `yaml:"pagebatch"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		PageBatch: PageBatchConfig{
			Batch: BatchConfig{
				ChunkSize: 10,
				Reader:    ReaderConfig{PageSize: 10},
				Partition: PartitionConfig{
					GridSize:            4,
					Mode:                PartitionModeReply,
					PollIntervalSeconds: 10,
				},
				Messaging: MessagingConfig{
					ChannelCapacity: 100,
					WorkerCount:     2,
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  "inmemory",
				JobRepositoryDBRef: "metadata",
			},
			Telemetry: TelemetryConfig{
				ServiceName:         "pagebatch",
				Protocol:            "grpc",
				MetricsIntervalSecs: 30,
				PrometheusNamespace: "pagebatch",
			},
			AdapterConfigs: map[string]interface{}{},
		},
	}
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	b := c.PageBatch.Batch
	switch {
	case b.ChunkSize <= 0:
		return exception.NewConfigError("batch", "chunk_size", "must be greater than zero")
	case b.Reader.PageSize <= 0:
		return exception.NewConfigError("batch.reader", "page_size", "must be greater than zero")
	case b.Reader.MaxItemCount < 0:
		return exception.NewConfigError("batch.reader", "max_item_count", "must not be negative")
	case b.Partition.GridSize <= 0:
		return exception.NewConfigError("batch.partition", "grid_size", "must be greater than zero")
	case b.Partition.Mode != PartitionModeReply && b.Partition.Mode != PartitionModePoll:
		return exception.NewConfigError("batch.partition", "mode", "must be \"reply\" or \"poll\"")
	case b.Partition.Mode == PartitionModePoll && b.Partition.PollIntervalSeconds <= 0:
		return exception.NewConfigError("batch.partition", "poll_interval_seconds", "must be greater than zero in poll mode")
	case b.Partition.TimeoutSeconds < 0:
		return exception.NewConfigError("batch.partition", "timeout_seconds", "must not be negative")
	case b.Messaging.ChannelCapacity < 0:
		return exception.NewConfigError("batch.messaging", "channel_capacity", "must not be negative")
	case b.Messaging.WorkerCount <= 0:
		return exception.NewConfigError("batch.messaging", "worker_count", "must be greater than zero")
	}
	switch c.PageBatch.Infrastructure.JobRepositoryType {
	case "inmemory", "sql":
	default:
		return exception.NewConfigError("infrastructure", "job_repository_type", "must be \"inmemory\" or \"sql\"")
	}
	return nil
}
