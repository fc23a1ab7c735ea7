package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
)

func newRecordingTracer() (*OpenTelemetryTracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewOpenTelemetryTracer(tp), sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOpenTelemetryTracer_StepSpan(t *testing.T) {
	tracer, sr := newRecordingTracer()
	se := &model.StepExecution{ID: 7, JobExecutionID: 3, StepName: "worker", Status: model.BatchStatusStarted}

	ctx, end := tracer.StartStepSpan(context.Background(), se)
	tracer.RecordEvent(ctx, "page.fetched", map[string]interface{}{"rows": 10, "reader": "customers"})
	se.Status = model.BatchStatusFailed
	se.ExitStatus = model.ExitStatusFailed
	se.ReadCount = 10
	end()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "step.worker", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	v, ok := attrValue(span.Attributes(), "step.execution_id")
	require.True(t, ok)
	assert.EqualValues(t, 7, v.AsInt64())
	v, ok = attrValue(span.Attributes(), "step.status")
	require.True(t, ok)
	assert.Equal(t, "FAILED", v.AsString())

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "page.fetched", span.Events()[0].Name)
	v, ok = attrValue(span.Events()[0].Attributes, "rows")
	require.True(t, ok)
	assert.EqualValues(t, 10, v.AsInt64())
}

func TestOpenTelemetryTracer_NestedSpanRecordsError(t *testing.T) {
	tracer, sr := newRecordingTracer()

	ctx, endOuter := tracer.StartSpan(context.Background(), "partition.handle", map[string]interface{}{"grid.size": 4})
	tracer.RecordError(ctx, "partition_handler", errors.New("send failed"))
	tracer.RecordError(ctx, "partition_handler", nil)
	endOuter()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "partition.handle", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "send failed", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestOpenTelemetryRecorder_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := NewOpenTelemetryRecorder(mp)
	require.NoError(t, err)
	ctx := context.Background()

	r.RecordPageFetch(ctx, "customers", 10, 10, time.Millisecond)
	r.RecordItemRead(ctx, "customers")
	r.RecordChunkCommit(ctx, "worker", 10)
	r.RecordPartitionsDispatched(ctx, "manager", 3)
	r.RecordPartitionResult(ctx, "manager", model.BatchStatusCompleted)
	r.RecordStepEnd(ctx, finishedStep("worker", model.BatchStatusCompleted))
	r.RecordDuration(ctx, "partition.handle", time.Second, nil)

	sums := collectSums(t, reader)
	assert.EqualValues(t, 10, sums["batch.reader.page_rows"])
	assert.EqualValues(t, 1, sums["batch.reader.items"])
	assert.EqualValues(t, 1, sums["batch.chunk.commits"])
	assert.EqualValues(t, 10, sums["batch.chunk.items"])
	assert.EqualValues(t, 3, sums["batch.partition.dispatched"])
	assert.EqualValues(t, 1, sums["batch.partition.results"])
	assert.EqualValues(t, 1, sums["batch.step.status"])
}

type countingRecorder struct {
	metrics.NoOpMetricRecorder
	commits int
}

func (c *countingRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	c.commits += count
}

func TestCompositeRecorder_FansOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	c := CompositeRecorder{a, b}
	c.RecordChunkCommit(context.Background(), "worker", 5)
	c.RecordItemRead(context.Background(), "customers")
	assert.Equal(t, 5, a.commits)
	assert.Equal(t, 5, b.commits)
}
