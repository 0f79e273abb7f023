package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for agentcore spans.
var (
	AttrTenant   = attribute.Key("agentcore.tenant")
	AttrTaskID   = attribute.Key("agentcore.task.id")
	AttrRunID    = attribute.Key("agentcore.run.id")
	AttrWorkerID = attribute.Key("agentcore.worker.id")
	AttrEndpoint = attribute.Key("agentcore.worker.endpoint")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (remote worker, remote memory).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
