package handlers_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/mcp-gateway/internal/domain/dispatch"
	"jan-server/services/mcp-gateway/internal/domain/llm"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"
	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/handlers"
)

// fakeStream yields a single completed delta with no tool-call directive,
// enough to drive the loop straight to a "complete" terminal event.
type fakeStream struct {
	content string
	sent    bool
}

func (s *fakeStream) Recv(ctx context.Context) (llm.Delta, error) {
	if s.sent {
		return llm.Delta{}, context.Canceled
	}
	s.sent = true
	return llm.Delta{Content: s.content, Done: true}, nil
}

type fakeProvider struct{}

func (p *fakeProvider) Stream(ctx context.Context, systemPrompt string, history []llm.Message) (llm.Stream, error) {
	return &fakeStream{content: "hello from the model"}, nil
}

func TestDispatchRunStreamsCompleteEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := newFakeRegistry()
	mcpFacade := facade.New(reg, zerolog.Nop())
	loop := dispatch.NewLoop(mcpFacade, &fakeProvider{}, zerolog.Nop())
	h := handlers.NewDispatchHandler(loop, zerolog.Nop())

	router := gin.New()
	router.POST("/v1/mcp/dispatch", h.Run)

	body := `{"serverIds":[],"history":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/mcp/dispatch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "event: complete") {
		t.Fatalf("expected a terminal complete event in the SSE body, got:\n%s", w.Body.String())
	}
}
