package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"jan-server/services/mcp-gateway/internal/domain/llm"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"

	"github.com/rs/zerolog"
)

// Loop implements the tool-call dispatch loop (spec component F): it
// alternates between "LLM speaking" and "tools executing" phases until the
// LLM produces a final answer with no further directives, the caller's
// deadline fires, or the caller cancels.
type Loop struct {
	caller   ToolCaller
	provider llm.Provider
	log      zerolog.Logger
}

// NewLoop constructs a Loop over caller (normally a *facade.Facade) and
// provider (the external LLM adapter collaborator).
func NewLoop(caller ToolCaller, provider llm.Provider, log zerolog.Logger) *Loop {
	return &Loop{caller: caller, provider: provider, log: log.With().Str("component", "dispatch").Logger()}
}

// Execute runs one turn, emitting events to observer until a terminal event
// (complete, error, or stopped) is emitted. The caller's remaining deadline
// and cancellation signal are carried by ctx.
func (l *Loop) Execute(ctx context.Context, turn Turn, observer Observer) {
	tools := l.caller.ListTools(ctx, turn.ServerIDs)
	systemPrompt := buildSystemPrompt(tools)

	history := make([]llm.Message, len(turn.History))
	copy(history, turn.History)

	var fullContent strings.Builder
	var allRecords []ToolCallRecord

	for {
		if ctx.Err() != nil {
			l.emitStopped(observer, fullContent.String())
			return
		}

		directives, err := l.runOneLLMPass(ctx, systemPrompt, history, &fullContent, observer)
		if err != nil {
			if ctx.Err() != nil {
				l.emitStopped(observer, fullContent.String())
				return
			}
			observer.Emit(StreamEvent{Kind: EventError, Error: err.Error()})
			return
		}

		if len(directives) == 0 {
			observer.Emit(StreamEvent{Kind: EventComplete, Complete: &CompletePayload{
				FullContent:  fullContent.String(),
				ExtraContent: allRecords,
			}})
			return
		}

		for _, d := range directives {
			if ctx.Err() != nil {
				l.emitStopped(observer, fullContent.String())
				return
			}

			directive := d
			observer.Emit(StreamEvent{Kind: EventToolCall, ToolCall: &directive})

			record := l.executeDirective(ctx, directive)
			allRecords = append(allRecords, record)
			observer.Emit(StreamEvent{Kind: EventToolResult, ToolResult: &record})

			history = append(history, toolResultToMessage(record))
		}
	}
}

// runOneLLMPass streams one LLM response, emitting thinking/message deltas
// as they arrive, and stops consuming the stream as soon as a directive
// closes — streaming is paused while that directive (and any others that
// closed in the same flush) executes, per spec §4.F step 3.
func (l *Loop) runOneLLMPass(ctx context.Context, systemPrompt string, history []llm.Message, fullContent *strings.Builder, observer Observer) ([]Directive, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := l.provider.Stream(streamCtx, systemPrompt, history)
	if err != nil {
		return nil, fmt.Errorf("start llm stream: %w", err)
	}

	scanner := &BufferScanner{}
	for {
		delta, err := stream.Recv(streamCtx)
		if err != nil {
			return nil, fmt.Errorf("receive llm delta: %w", err)
		}

		if delta.Reasoning != "" {
			observer.Emit(StreamEvent{Kind: EventThinking, Delta: delta.Reasoning})
		}
		if delta.Content != "" {
			observer.Emit(StreamEvent{Kind: EventMessage, Delta: delta.Content})
			fullContent.WriteString(delta.Content)
			scanner.Write(delta.Content)

			if directives := scanner.Extract(); len(directives) > 0 {
				return directives, nil
			}
		}
		if delta.Done {
			return nil, nil
		}
	}
}

// executeDirective calls CallTool via the facade and normalizes the
// outcome into a splice-back record (spec §4.F "Directive execution").
func (l *Loop) executeDirective(ctx context.Context, d Directive) ToolCallRecord {
	record := ToolCallRecord{Tool: d.ToolName, Server: d.ServerName}

	result, err := l.caller.CallTool(ctx, facade.CallToolRequest{
		ServerID:  d.ServerName,
		ToolName:  d.ToolName,
		Arguments: d.Arguments,
	})
	if err != nil {
		record.OK = false
		record.Error = err.Error()
		return record
	}
	if !result.Success {
		record.OK = false
		record.Error = result.Error
		return record
	}
	record.OK = true
	record.Result = result.Result
	return record
}

// toolResultToMessage splices a tool result into the conversation as a
// synthetic message, the resume step of spec §4.F.
func toolResultToMessage(record ToolCallRecord) llm.Message {
	raw, _ := json.Marshal(record)
	return llm.Message{Role: "tool", Content: string(raw)}
}

func (l *Loop) emitStopped(observer Observer, partial string) {
	observer.Emit(StreamEvent{Kind: EventStopped, Delta: partial})
}
