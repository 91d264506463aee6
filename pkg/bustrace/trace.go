// Package bustrace wraps the handshake and broadcast hot paths with
// OpenTelemetry spans.
package bustrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "sporket"

// Tracer wraps a trace.Tracer with Sporket-specific span helpers. The
// zero value uses the global tracer provider under the default name;
// use New to name it explicitly.
type Tracer struct {
	tracer trace.Tracer
}

// New resolves a tracer from the global OpenTelemetry provider.
// Configuration of the provider itself (exporter, batching, resource
// attributes) is left to main().
func New(name string) *Tracer {
	if name == "" {
		name = defaultTracerName
	}
	return &Tracer{tracer: otel.Tracer(name)}
}

// Upgrade starts a span covering one accepted connection's upgrade and
// handshake, tagged with its session uuid once known.
func (t *Tracer) Upgrade(ctx context.Context, uuid string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sporket.upgrade",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("sporket.uuid", uuid)),
	)
}

// Handshake starts a span around the challenge/response exchange.
func (t *Tracer) Handshake(ctx context.Context, uuid string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sporket.handshake",
		trace.WithAttributes(attribute.String("sporket.uuid", uuid)),
	)
}

// Broadcast starts a span around a single Broadcast fan-out.
func (t *Tracer) Broadcast(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sporket.broadcast")
}

// End finishes span, recording err (if non-nil) as a span error and
// setting the resulting status code.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Fanout records the number of clients a broadcast reached.
func Fanout(span trace.Span, n int) {
	span.SetAttributes(attribute.Int("sporket.fanout", n))
}
