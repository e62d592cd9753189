package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nimsuggestd"

// StartQuerySpan starts a span covering one analyzer query from submission
// to delivery.
func StartQuerySpan(ctx context.Context, queryID, command, file string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "query",
		trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.String("query.command", command),
			attribute.String("query.file", file),
		),
	)
}

// StartResolveSpan starts a span for mapping a file to its project session.
func StartResolveSpan(ctx context.Context, file string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "resolve",
		trace.WithAttributes(
			attribute.String("resolve.file", file),
		),
	)
}
