package oteladapter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "folio/event-delivery/outbox-relay"

// Tracer implements ports.Tracer on an OpenTelemetry tracer.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses provider, or the global provider when nil.
func NewTracer(provider trace.TracerProvider) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return Tracer{tracer: provider.Tracer(instrumentationName)}
}

func (t Tracer) Start(ctx context.Context, name string, attributes map[string]string) (context.Context, func(err error)) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for key, value := range attributes {
		attrs = append(attrs, attribute.String(key, value))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// TraceID returns the hex trace id of the span in ctx, or "" when there is
// none.
func (t Tracer) TraceID(ctx context.Context) string {
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.HasTraceID() {
		return ""
	}
	return spanContext.TraceID().String()
}
