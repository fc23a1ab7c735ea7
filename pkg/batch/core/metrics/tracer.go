package metrics

import (
	"context"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

// Tracer creates spans around step executions and partition handling.
type Tracer interface {
	// StartStepSpan starts a span for a step execution. The returned function ends it.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// StartSpan starts a named span with attributes.
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())

	// RecordError attaches err to the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
