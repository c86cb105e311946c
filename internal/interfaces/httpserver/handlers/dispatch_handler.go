package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/mcp-gateway/internal/domain/dispatch"
	"jan-server/services/mcp-gateway/internal/domain/llm"
	"jan-server/services/mcp-gateway/internal/infrastructure/metrics"
	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/requests"
)

// DispatchHandler drives one tool-call dispatch turn over SSE, the harness
// surface exercising the dispatch loop outside a full chat orchestrator
// (spec's explicit out-of-scope browser chat endpoint, stubbed here only
// far enough to prove the loop wires end to end).
type DispatchHandler struct {
	loop *dispatch.Loop
	log  zerolog.Logger
}

// NewDispatchHandler constructs the handler.
func NewDispatchHandler(loop *dispatch.Loop, log zerolog.Logger) *DispatchHandler {
	return &DispatchHandler{loop: loop, log: log.With().Str("handler", "dispatch").Logger()}
}

// Run handles POST /v1/mcp/dispatch.
func (h *DispatchHandler) Run(c *gin.Context) {
	var req requests.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	history := make([]llm.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	observer := newSSEDispatchObserver(writer, flusher, h.log)
	h.loop.Execute(c.Request.Context(), dispatch.Turn{ServerIDs: req.ServerIDs, History: history}, observer)
	metrics.RecordDispatchTurn(string(observer.terminalKind))
}

type sseDispatchObserver struct {
	writer       http.ResponseWriter
	flusher      http.Flusher
	log          zerolog.Logger
	mu           sync.Mutex
	terminalKind dispatch.EventKind
}

func newSSEDispatchObserver(w http.ResponseWriter, flusher http.Flusher, log zerolog.Logger) *sseDispatchObserver {
	return &sseDispatchObserver{writer: w, flusher: flusher, log: log}
}

func (o *sseDispatchObserver) Emit(event dispatch.StreamEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.Kind {
	case dispatch.EventComplete, dispatch.EventError, dispatch.EventStopped:
		o.terminalKind = event.Kind
	}

	data, err := json.Marshal(event)
	if err != nil {
		o.log.Error().Err(err).Msg("marshal dispatch SSE payload")
		return
	}

	fmt.Fprintf(o.writer, "event: %s\n", event.Kind)
	fmt.Fprintf(o.writer, "data: %s\n\n", data)
	o.flusher.Flush()
}

var _ dispatch.Observer = (*sseDispatchObserver)(nil)
