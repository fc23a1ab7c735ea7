package metrics

import (
	"go.uber.org/fx"
)

// Module provides no-op metric and tracing implementations.
// infrastructure/metrics.Module replaces them with Prometheus and OpenTelemetry.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewNoOpMetricRecorder,
		fx.As(new(MetricRecorder)),
	)),
	fx.Provide(fx.Annotate(
		NewNoOpTracer,
		fx.As(new(Tracer)),
	)),
)
