// Package dispatch implements the tool-call dispatch loop (spec component
// F): it consumes a streaming LLM response, extracts fenced-JSON tool-call
// directives from the visible content, executes them via the RPC facade,
// and splices results back into the conversation.
package dispatch

import (
	"context"
	"encoding/json"

	"jan-server/services/mcp-gateway/internal/domain/llm"
	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"
)

// Directive is one parsed tool-call request extracted from the LLM's
// visible content stream.
type Directive struct {
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolCallRecord is the splice-back shape described in spec §4.F, also
// carried in the final `complete` event's extraContent.
type ToolCallRecord struct {
	Tool   string          `json:"tool"`
	Server string          `json:"server"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EventKind identifies the kind of StreamEvent emitted to the caller.
type EventKind string

const (
	EventThinking   EventKind = "thinking"
	EventMessage    EventKind = "message"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventComplete   EventKind = "complete"
	EventError      EventKind = "error"
	EventStopped    EventKind = "stopped"
)

// StreamEvent is one item on the outbound event stream to the chat
// orchestrator's SSE bridge.
type StreamEvent struct {
	Kind       EventKind       `json:"kind"`
	Delta      string          `json:"delta,omitempty"`
	ToolCall   *Directive      `json:"toolCall,omitempty"`
	ToolResult *ToolCallRecord `json:"toolResult,omitempty"`
	Complete   *CompletePayload `json:"complete,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// CompletePayload is the body of the terminal `complete` event.
type CompletePayload struct {
	FullContent  string           `json:"fullContent"`
	ExtraContent []ToolCallRecord `json:"extraContent"`
}

// Observer receives the dispatch loop's event stream; a caller-supplied SSE
// bridge implements this to forward events to the browser, grounded on the
// teacher's sseObserver pattern.
type Observer interface {
	Emit(event StreamEvent)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(StreamEvent)

func (f ObserverFunc) Emit(event StreamEvent) { f(event) }

// Turn is one caller-driven invocation of the dispatch loop. The caller's
// remaining deadline and cancellation signal travel via the ctx passed to
// Loop.Execute, not as a field here (spec §6 "Consumed from collaborators").
type Turn struct {
	ServerIDs []string
	History   []llm.Message
}

// ToolCaller is the subset of *facade.Facade the loop depends on, narrowed
// to an interface so tests can substitute a fake without a real registry.
type ToolCaller interface {
	CallTool(ctx context.Context, req facade.CallToolRequest) (facade.CallToolResult, error)
	ListTools(ctx context.Context, serverIDs []string) []mcp.Tool
}
