// Package metrics defines the metric and tracing ports used by readers, steps and
// partition handlers. Concrete Prometheus and OpenTelemetry implementations live in
// infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

// MetricRecorder records batch metrics.
type MetricRecorder interface {
	// RecordStepStart records the start of a step execution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a step execution with its final status.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordPageFetch records one page fetched by a paging reader.
	RecordPageFetch(ctx context.Context, readerName string, pageSize int, rows int, duration time.Duration)

	// RecordItemRead records one item returned by a reader.
	RecordItemRead(ctx context.Context, readerName string)

	// RecordChunkCommit records a committed chunk of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordPartitionsDispatched records the number of partition requests sent for a step.
	RecordPartitionsDispatched(ctx context.Context, stepName string, count int)

	// RecordPartitionResult records the final status of one partition.
	RecordPartitionResult(ctx context.Context, stepName string, status model.JobStatus)

	// RecordDuration records an arbitrary named duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
