// Package llmprovider holds the default llm.Provider wired into cmd/server.
// Concrete vendor wire adapters are out of scope here (spec §1 Non-goals:
// "no LLM wire adapters, only their Go interface contracts") — a real
// deployment injects its own llm.Provider into dispatch.NewLoop the way
// this package's constructor is injected below. EchoProvider exists only
// so the binary boots and the /v1/mcp/dispatch harness route is reachable
// without a model backend configured.
package llmprovider

import (
	"context"
	"errors"
	"fmt"

	"jan-server/services/mcp-gateway/internal/domain/llm"
)

// EchoProvider answers every turn with a single delta echoing the last
// user message, so the dispatch loop's tool-call parsing and splice-back
// can be exercised end-to-end without a real model.
type EchoProvider struct{}

// NewEchoProvider constructs the stand-in provider.
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

func (p *EchoProvider) Stream(ctx context.Context, systemPrompt string, history []llm.Message) (llm.Stream, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			last = history[i].Content
			break
		}
	}
	return &echoStream{content: fmt.Sprintf("echo: %s", last)}, nil
}

type echoStream struct {
	content string
	sent    bool
}

func (s *echoStream) Recv(ctx context.Context) (llm.Delta, error) {
	if s.sent {
		return llm.Delta{}, errors.New("stream exhausted")
	}
	s.sent = true
	return llm.Delta{Content: s.content, Done: true}, nil
}
