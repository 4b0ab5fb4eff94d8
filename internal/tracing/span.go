package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan starts a client span for one benchmark request.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, adapter, requestID string, stageID int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, adapter+" generate",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("inferload.request_id", requestID),
		attribute.Int("inferload.stage", stageID),
	)
	return ctx, span
}

// RecordFirstToken marks the first-token instant on the request span.
func RecordFirstToken(span trace.Span, at time.Time) {
	span.AddEvent("first_token", trace.WithTimestamp(at))
}

// EndSpan finishes a span, recording error status and token counts.
func EndSpan(span trace.Span, err error, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int("gen_ai.usage.output_tokens", outputTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
