package observability

import (
	"context"
	"fmt"
	"strings"

	"slapulse/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupTracing initializes the OpenTelemetry TracerProvider and returns
// a shutdown function. Disabled tracing yields a no-op shutdown.
func SetupTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	tc := cfg.Monitoring.Tracing
	if !tc.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	endpoint := tc.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpointHost(endpoint))}
	if tc.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	svcName := tc.ServiceName
	if svcName == "" {
		svcName = "slapulse"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", svcName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	ratio := tc.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.1
	}
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// endpointHost strips an http(s):// prefix so gRPC gets host:port.
func endpointHost(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return s
}
