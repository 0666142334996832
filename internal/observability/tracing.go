package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID extracts the current trace ID from the context, or "" when no
// span is recording.
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// GetSpanID extracts the current span ID from the context, or "".
func GetSpanID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasSpanID() {
		return ""
	}
	return spanCtx.SpanID().String()
}
