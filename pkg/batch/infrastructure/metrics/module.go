package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	"github.com/tigerroll/pagebatch/pkg/batch/infrastructure/telemetry"
)

// NewPrometheusRecorderProvider creates the PrometheusRecorder with the configured namespace.
func NewPrometheusRecorderProvider(cfg *config.Config) *PrometheusRecorder {
	return NewPrometheusRecorder(cfg.PageBatch.Telemetry.PrometheusNamespace)
}

// NewMetricRecorderProvider records to Prometheus and, when telemetry export is
// enabled, to the OpenTelemetry meter provider as well.
func NewMetricRecorderProvider(prom *PrometheusRecorder, providers *telemetry.Providers, mp metric.MeterProvider) (metrics.MetricRecorder, error) {
	if !providers.Enabled() {
		return prom, nil
	}
	otelRecorder, err := NewOpenTelemetryRecorder(mp)
	if err != nil {
		return nil, err
	}
	return CompositeRecorder{prom, otelRecorder}, nil
}

// Module provides the Prometheus and OpenTelemetry backed metrics.MetricRecorder and
// metrics.Tracer. It replaces core/metrics.Module and needs telemetry.Module.
var Module = fx.Options(
	fx.Provide(
		NewPrometheusRecorderProvider,
		NewMetricRecorderProvider,
		fx.Annotate(
			func(tp trace.TracerProvider) *OpenTelemetryTracer { return NewOpenTelemetryTracer(tp) },
			fx.As(new(metrics.Tracer)),
		),
	),
)
