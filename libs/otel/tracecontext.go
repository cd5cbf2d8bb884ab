package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// CaptureTrace returns the W3C traceparent and tracestate of ctx so a span
// can be resumed after the work is persisted (outbox rows).
func CaptureTrace(ctx context.Context) (parent, state string) {
	c := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return c.Get("traceparent"), c.Get("tracestate")
}

// RestoreTrace is the inverse of CaptureTrace. Empty values leave ctx as is.
func RestoreTrace(ctx context.Context, parent, state string) context.Context {
	if parent == "" {
		return ctx
	}
	c := propagation.MapCarrier{"traceparent": parent}
	if state != "" {
		c.Set("tracestate", state)
	}
	return otel.GetTextMapPropagator().Extract(ctx, c)
}
