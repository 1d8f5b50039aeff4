package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the minimal span-creation contract used by the engine. It wraps an
// OTEL tracer so subsystems never depend on the SDK directly.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	Enabled() bool
}

type otelTracer struct {
	tr trace.Tracer
}

// NewTracer builds a Tracer. When enabled, spans are recorded through a
// process-local SDK provider (exporters are the embedder's concern); when
// disabled, the global no-op tracer is used and spans cost nothing.
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return noopTracer{}
	}
	tp := sdktrace.NewTracerProvider()
	return &otelTracer{tr: tp.Tracer("fuelwatch")}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (t *otelTracer) Enabled() bool { return true }

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, name string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer("noop").Start(ctx, name)
}

func (noopTracer) Enabled() bool { return false }

// ExtractIDs returns the trace and span IDs from a context, empty when the
// context carries no valid span context. Used to correlate logs and bus events.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	if ctx == nil {
		return "", ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
