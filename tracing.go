package keel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/keel"

// startCreateSpan opens a span for one component creation.
func (c *Container) startCreateSpan(ctx context.Context, name, scope string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "keel.Create",
		trace.WithAttributes(
			attribute.String("keel.component", name),
			attribute.String("keel.scope", scope),
			attribute.String("keel.resolution", resolutionID(ctx)),
		),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "component creation failed")
	}

	span.End()
}
