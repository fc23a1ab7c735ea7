// Package telemetry builds the OpenTelemetry tracer and meter providers from the
// telemetry configuration and shuts them down with the application.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// Supported OTLP protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

const defaultMetricsInterval = 30 * time.Second

// Providers holds the tracer and meter providers of the process.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops the SDK providers. It is a no-op when telemetry is disabled.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range p.shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Enabled reports whether the providers export data.
func (p *Providers) Enabled() bool { return len(p.shutdowns) > 0 }

// NewProviders creates OTLP backed providers when cfg.Enabled is set and no-op
// providers otherwise. Enabled providers are also installed as the otel globals.
func NewProviders(ctx context.Context, cfg config.TelemetryConfig) (*Providers, error) {
	if !cfg.Enabled {
		return &Providers{
			TracerProvider: tracenoop.NewTracerProvider(),
			MeterProvider:  metricnoop.NewMeterProvider(),
		}, nil
	}

	protocol := strings.ToLower(cfg.Protocol)
	if protocol == "" {
		protocol = ProtocolGRPC
	}
	if protocol != ProtocolGRPC && protocol != ProtocolHTTP {
		return nil, exception.NewConfigError("telemetry", "protocol", fmt.Sprintf("unsupported protocol '%s'", cfg.Protocol))
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pagebatch"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	spanExporter, err := newSpanExporter(ctx, protocol, cfg)
	if err != nil {
		return nil, exception.NewBatchError("telemetry", "failed to create span exporter", err, false, false)
	}
	metricExporter, err := newMetricExporter(ctx, protocol, cfg)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, exception.NewBatchError("telemetry", "failed to create metric exporter", err, false, false)
	}

	interval := time.Duration(cfg.MetricsIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultMetricsInterval
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Infof("Telemetry: exporting traces and metrics over OTLP/%s to '%s' as service '%s'.", protocol, cfg.Endpoint, serviceName)
	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdowns:      []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

func newSpanExporter(ctx context.Context, protocol string, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if protocol == ProtocolHTTP {
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	var opts []otlptracegrpc.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, protocol string, cfg config.TelemetryConfig) (sdkmetric.Exporter, error) {
	if protocol == ProtocolHTTP {
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	var opts []otlpmetricgrpc.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}
