package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
)

// OpenTelemetryRecorder records batch metrics as OpenTelemetry instruments so they
// can be pushed through an OTLP exporter.
type OpenTelemetryRecorder struct {
	stepDuration         metric.Float64Histogram
	stepStatus           metric.Int64Counter
	pageFetchDuration    metric.Float64Histogram
	pageRows             metric.Int64Counter
	itemsRead            metric.Int64Counter
	chunkCommits         metric.Int64Counter
	chunkItems           metric.Int64Counter
	partitionsDispatched metric.Int64Counter
	partitionResults     metric.Int64Counter
	operationDuration    metric.Float64Histogram
}

// NewOpenTelemetryRecorder creates the instruments on provider. A nil provider uses
// the global one.
func NewOpenTelemetryRecorder(provider metric.MeterProvider) (*OpenTelemetryRecorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(InstrumentationName)

	var errs []error
	f64Histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}
	i64Counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	r := &OpenTelemetryRecorder{
		stepDuration:         f64Histogram("batch.step.duration", "Duration of batch step executions."),
		stepStatus:           i64Counter("batch.step.status", "Batch step executions by status."),
		pageFetchDuration:    f64Histogram("batch.reader.page_fetch.duration", "Duration of page queries."),
		pageRows:             i64Counter("batch.reader.page_rows", "Rows returned by page queries."),
		itemsRead:            i64Counter("batch.reader.items", "Items handed out by readers."),
		chunkCommits:         i64Counter("batch.chunk.commits", "Committed chunks."),
		chunkItems:           i64Counter("batch.chunk.items", "Items in committed chunks."),
		partitionsDispatched: i64Counter("batch.partition.dispatched", "Partition requests sent."),
		partitionResults:     i64Counter("batch.partition.results", "Partition results by status."),
		operationDuration:    f64Histogram("batch.operation.duration", "Duration of named batch operations."),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OpenTelemetryRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step.name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OpenTelemetryRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := metric.WithAttributes(
		attribute.String("step.name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	)
	r.stepStatus.Add(ctx, 1, attrs)
	if execution.EndTime != nil && !execution.StartTime.IsZero() {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func (r *OpenTelemetryRecorder) RecordPageFetch(ctx context.Context, readerName string, pageSize int, rows int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("reader", readerName))
	r.pageFetchDuration.Record(ctx, duration.Seconds(), attrs)
	r.pageRows.Add(ctx, int64(rows), attrs)
}

func (r *OpenTelemetryRecorder) RecordItemRead(ctx context.Context, readerName string) {
	r.itemsRead.Add(ctx, 1, metric.WithAttributes(attribute.String("reader", readerName)))
}

func (r *OpenTelemetryRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	attrs := metric.WithAttributes(attribute.String("step.name", stepName))
	r.chunkCommits.Add(ctx, 1, attrs)
	r.chunkItems.Add(ctx, int64(count), attrs)
}

func (r *OpenTelemetryRecorder) RecordPartitionsDispatched(ctx context.Context, stepName string, count int) {
	r.partitionsDispatched.Add(ctx, int64(count), metric.WithAttributes(attribute.String("step.name", stepName)))
}

func (r *OpenTelemetryRecorder) RecordPartitionResult(ctx context.Context, stepName string, status model.JobStatus) {
	r.partitionResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step.name", stepName),
		attribute.String("status", status.String()),
	))
}

func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)

// CompositeRecorder forwards every call to each of its recorders.
type CompositeRecorder []metrics.MetricRecorder

func (c CompositeRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c {
		r.RecordStepStart(ctx, execution)
	}
}

func (c CompositeRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c {
		r.RecordStepEnd(ctx, execution)
	}
}

func (c CompositeRecorder) RecordPageFetch(ctx context.Context, readerName string, pageSize int, rows int, duration time.Duration) {
	for _, r := range c {
		r.RecordPageFetch(ctx, readerName, pageSize, rows, duration)
	}
}

func (c CompositeRecorder) RecordItemRead(ctx context.Context, readerName string) {
	for _, r := range c {
		r.RecordItemRead(ctx, readerName)
	}
}

func (c CompositeRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordChunkCommit(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordPartitionsDispatched(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordPartitionsDispatched(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordPartitionResult(ctx context.Context, stepName string, status model.JobStatus) {
	for _, r := range c {
		r.RecordPartitionResult(ctx, stepName, status)
	}
}

func (c CompositeRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range c {
		r.RecordDuration(ctx, name, duration, tags)
	}
}

var _ metrics.MetricRecorder = CompositeRecorder(nil)
