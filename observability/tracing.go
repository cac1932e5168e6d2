// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the dispatch engine.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/sparkcloud"

// Tracer provides OpenTelemetry tracing for webhook dispatch.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerWithProvider(otel.GetTracerProvider())
}

// NewTracerWithProvider creates a tracer from tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartDispatchSpan starts a span covering one webhook call.
func (t *Tracer) StartDispatchSpan(ctx context.Context, dispatchID, webhookID, eventName string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "sparkcloud.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sparkcloud.dispatch_id", dispatchID),
			attribute.String("sparkcloud.webhook_id", webhookID),
			attribute.String("sparkcloud.event", eventName),
		),
	)
}

// EndDispatchSpan ends a dispatch span with result attributes.
func (t *Tracer) EndDispatchSpan(span trace.Span, statusCode, latencyMs int, err error) {
	if t == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("sparkcloud.latency_ms", latencyMs),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
