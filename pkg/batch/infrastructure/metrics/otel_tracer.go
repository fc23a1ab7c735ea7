package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// InstrumentationName is the tracer and meter name used by pagebatch.
const InstrumentationName = "github.com/tigerroll/pagebatch"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from provider. A nil provider uses the
// global one.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &OpenTelemetryTracer{tracer: provider.Tracer(InstrumentationName)}
}

// StartStepSpan starts a span for a StepExecution. The end function records the
// status the execution has when it is called.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step."+execution.StepName, trace.WithAttributes(
		attribute.String("step.name", execution.StepName),
		attribute.Int64("step.execution_id", execution.ID),
		attribute.Int64("job.execution_id", execution.JobExecutionID),
	))
	logger.Debugf("Tracer: started span for Step '%s'.", execution.StepName)
	return ctx, func() {
		span.SetAttributes(
			attribute.String("step.status", execution.Status.String()),
			attribute.Int64("step.read_count", execution.ReadCount),
			attribute.Int64("step.write_count", execution.WriteCount),
			attribute.Int64("step.commit_count", execution.CommitCount),
		)
		if execution.Status == model.BatchStatusFailed {
			span.SetStatus(codes.Error, execution.ExitStatus.String())
		}
		span.End()
	}
}

// StartSpan starts a named span.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attributes)...))
	return ctx, func() { span.End() }
}

// RecordError records err on the span in ctx and marks it failed.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent adds an event to the span in ctx.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
