package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContextStrings serializes the current span context to the W3C
// traceparent/tracestate pair, suitable for persisting with outbox rows.
func TraceContextStrings(ctx context.Context) (traceparent string, tracestate string) {
	mc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, mc)
	return mc["traceparent"], mc["tracestate"]
}

// ContextWithTraceContext restores a context from stored traceparent
// and tracestate values. Empty values return ctx unchanged.
func ContextWithTraceContext(ctx context.Context, traceparent string, tracestate string) context.Context {
	if traceparent == "" && tracestate == "" {
		return ctx
	}
	mc := propagation.MapCarrier{
		"traceparent": traceparent,
		"tracestate":  tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, mc)
}
