package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/blockprobe/internal/ledger"
)

// StartSubmitSpan starts a client span for one Submit attempt of u.
func StartSubmitSpan(ctx context.Context, tracer trace.Tracer, u ledger.Unit, attempt int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "ledger submit",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.Int("blockprobe.unit.id", u.ID),
		attribute.Int("blockprobe.unit.size_bytes", u.SizeBytes),
		attribute.Int("blockprobe.unit.count", u.Count),
		attribute.Int("blockprobe.attempt", attempt),
	)
	return ctx, span
}

// StartPollSpan starts a client span for one Poll of h.
func StartPollSpan(ctx context.Context, tracer trace.Tracer, h ledger.Handle, poll int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "ledger poll",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("blockprobe.handle", h.ID),
		attribute.Int("blockprobe.unit.id", h.UnitID),
		attribute.Int("blockprobe.poll", poll),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
