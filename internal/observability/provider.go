package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "kore-relay"

// newResource returns a resource carrying the service name.
// Use a single resource to avoid Schema URL conflicts when merging with resource.Default().
func newResource(serviceName string) *resource.Resource {
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
}

// NewTracerProvider creates a TracerProvider for exporter ("otlp" or "stdout").
// When exporter is empty or unknown, returns (nil, nil) and tracing stays disabled.
func NewTracerProvider(ctx context.Context, exporter, serviceName string) (*sdktrace.TracerProvider, error) {
	var exp sdktrace.SpanExporter

	switch exporter {
	case "otlp":
		e, err := newOTLPTraceExporter(ctx)
		if err != nil {
			return nil, err
		}

		exp = e
	case "stdout":
		e, err := newStdoutTraceExporter()
		if err != nil {
			return nil, err
		}

		exp = e
	default:
		//nolint:nilnil // tracing disabled, caller checks for nil
		return nil, nil
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(newResource(serviceName)),
		sdktrace.WithBatcher(exp),
	), nil
}

// ShutdownTracerProvider flushes and shuts down the TracerProvider. Safe to call with nil.
func ShutdownTracerProvider(ctx context.Context, provider *sdktrace.TracerProvider) error {
	if provider == nil {
		return nil
	}

	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}

	return nil
}
