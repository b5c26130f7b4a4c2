package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for runtime spans.
var (
	AttrWatcherID    = attribute.Key("meepo.watcher.id")
	AttrGoalID       = attribute.Key("meepo.goal.id")
	AttrToolName     = attribute.Key("meepo.tool.name")
	AttrModel        = attribute.Key("meepo.llm.model")
	AttrProvider     = attribute.Key("meepo.llm.provider")
	AttrTokensInput  = attribute.Key("meepo.llm.tokens.input")
	AttrTokensOutput = attribute.Key("meepo.llm.tokens.output")
	AttrLoopStep     = attribute.Key("meepo.loop.step")
	AttrConfidence   = attribute.Key("meepo.confidence")
	AttrSessionID    = attribute.Key("meepo.session.id")
	AttrTaskID       = attribute.Key("meepo.a2a.task.id")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (gateway, A2A).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (LLM provider, channel send).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
