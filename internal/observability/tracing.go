package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope name used across the chat
// engine and coordination protocols.
const TracerName = "aria-runtime"

// NewTracerProvider builds an SDK tracer provider for serviceName. With no
// OTLP exporter wired, spans are recorded but not
// exported; callers that need export can register a span processor with
// the returned provider's RegisterSpanProcessor before use.
func NewTracerProvider(serviceName string) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res))
}

// StartTurnSpan starts a span around one chat-engine turn, tagging it
// with the session and agent.
func StartTurnSpan(ctx context.Context, sessionID, agentID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("aria.session_id", sessionID),
		attribute.String("aria.agent_id", agentID),
	))
}

// StartCoordinationSpan starts a span around one roundtable/swarm run.
func StartCoordinationSpan(ctx context.Context, kind, sessionID string, agentCount int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("coordination.%s", kind), trace.WithAttributes(
		attribute.String("aria.session_id", sessionID),
		attribute.Int("aria.agent_count", agentCount),
	))
}
