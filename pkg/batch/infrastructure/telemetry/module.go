package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
)

// NewProvidersWithLifecycle creates the providers and shuts them down when the
// application stops.
func NewProvidersWithLifecycle(lc fx.Lifecycle, cfg *config.Config) (*Providers, error) {
	p, err := NewProviders(context.Background(), cfg.PageBatch.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: p.Shutdown})
	return p, nil
}

// Module provides *Providers and the trace and metric provider interfaces.
var Module = fx.Options(
	fx.Provide(
		NewProvidersWithLifecycle,
		func(p *Providers) trace.TracerProvider { return p.TracerProvider },
		func(p *Providers) metric.MeterProvider { return p.MeterProvider },
	),
)
