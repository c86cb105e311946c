package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "jan-server/mcp-gateway"

// GetTracer returns the tracer for the gateway service.
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// DriverAttributes returns common attributes for driver lifecycle spans.
func DriverAttributes(serverID, transport string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mcp.server_id", serverID),
		attribute.String("mcp.transport", transport),
	}
}

// CallAttributes returns common attributes for a CallTool span.
func CallAttributes(serverID, toolName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mcp.server_id", serverID),
		attribute.String("mcp.tool_name", toolName),
	}
}

// StartHandshakeSpan starts a span covering one driver's initialize
// handshake (spec §4.B common handshake).
func StartHandshakeSpan(ctx context.Context, serverID, transport string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "mcp.handshake",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(DriverAttributes(serverID, transport)...),
	)
}

// StartCallSpan starts a span covering one facade CallTool invocation.
func StartCallSpan(ctx context.Context, serverID, toolName string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "mcp.call_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(CallAttributes(serverID, toolName)...),
	)
}

// StartDispatchSpan starts a span covering one tool-call dispatch turn.
func StartDispatchSpan(ctx context.Context, serverIDs []string) (context.Context, trace.Span) {
	joined := ""
	for i, id := range serverIDs {
		if i > 0 {
			joined += ","
		}
		joined += id
	}
	return GetTracer().Start(ctx, "dispatch.turn",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("dispatch.server_ids", joined)),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error, severity string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.severity", severity))
}

// AddStateTransition adds a driver state transition event to a span.
func AddStateTransition(span trace.Span, fromState, toState string) {
	span.AddEvent("driver.state_transition",
		trace.WithAttributes(
			attribute.String("driver.from_state", fromState),
			attribute.String("driver.to_state", toState),
		),
	)
}

// AddRetryEvent adds a reconnect-retry event to a span.
func AddRetryEvent(span trace.Span, attempt int, reason string) {
	span.AddEvent("retry",
		trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.String("retry.reason", reason),
		),
	)
}

// AddDirectiveEvent adds a tool-call directive extraction event to a span.
func AddDirectiveEvent(span trace.Span, serverID, toolName string) {
	span.AddEvent("dispatch.directive",
		trace.WithAttributes(
			attribute.String("mcp.server_id", serverID),
			attribute.String("mcp.tool_name", toolName),
		),
	)
}
