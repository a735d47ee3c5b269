// Package observability wires tracing, metrics, structured-logging
// correlation, and an OTel-instrumented HTTP client, grounded in the
// teacher's internal/observability package.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config controls optional OTLP export. An empty Endpoint disables export:
// Init then installs no SDK provider and the global OTel no-op providers
// stay in place, which keeps local development and tests free of a
// collector dependency.
type Config struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Init installs a global meter provider that exports over OTLP/HTTP to
// Endpoint; it does not configure a tracer provider. Returns a shutdown
// func that is always safe to call, even when Endpoint was empty.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "memori"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	mExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("observability: build metric exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(mExp, metric.WithInterval(15*time.Second))
	mp := metric.NewMeterProvider(metric.WithReader(reader), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	}, nil
}
