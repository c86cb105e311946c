package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/transport"
	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/handlers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRegistry mirrors facade's own test double (internal/infrastructure/mcp/facade/facade_test.go),
// reimplemented here since it isn't exported across package boundaries.
type fakeRegistry struct {
	specs map[string]mcp.ServerSpec
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{specs: make(map[string]mcp.ServerSpec)}
}

func (r *fakeRegistry) GetClient(ctx context.Context, id string) (transport.Driver, error) {
	return nil, mcp.NewServerNotFoundError(id)
}
func (r *fakeRegistry) GetSpec(id string) (mcp.ServerSpec, error) {
	spec, ok := r.specs[id]
	if !ok {
		return mcp.ServerSpec{}, mcp.NewServerNotFoundError(id)
	}
	return spec, nil
}
func (r *fakeRegistry) Driver(id string) (transport.Driver, bool) { return nil, false }
func (r *fakeRegistry) ReadyDriverIDs() []string                  { return nil }
func (r *fakeRegistry) ListHealth() []mcp.Health                  { return nil }
func (r *fakeRegistry) Register(ctx context.Context, spec mcp.ServerSpec) error {
	r.specs[spec.ID] = spec
	return nil
}
func (r *fakeRegistry) Unregister(ctx context.Context, id string) error {
	if _, ok := r.specs[id]; !ok {
		return mcp.NewServerNotFoundError(id)
	}
	delete(r.specs, id)
	return nil
}
func (r *fakeRegistry) ListSpecs() []mcp.ServerSpec {
	out := make([]mcp.ServerSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	return out
}
func (r *fakeRegistry) Shutdown() {}

func TestRegisterGeneratesIDWhenOmitted(t *testing.T) {
	reg := newFakeRegistry()
	h := handlers.NewMCPHandler(facade.New(reg, zerolog.Nop()), zerolog.Nop())

	router := gin.New()
	router.POST("/v1/mcp/servers", h.Register)

	body := `{"name":"calc","transport":"stdio","command":"./calc"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/mcp/servers", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] == "" {
		t.Fatalf("expected a generated id, got empty string")
	}
	if len(reg.specs) != 1 {
		t.Fatalf("expected exactly one registered spec, got %d", len(reg.specs))
	}
}

func TestRegisterKeepsCallerSuppliedID(t *testing.T) {
	reg := newFakeRegistry()
	h := handlers.NewMCPHandler(facade.New(reg, zerolog.Nop()), zerolog.Nop())

	router := gin.New()
	router.POST("/v1/mcp/servers", h.Register)

	body := `{"id":"calc-1","name":"calc","transport":"stdio","command":"./calc"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/mcp/servers", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if _, ok := reg.specs["calc-1"]; !ok {
		t.Fatalf("expected spec stored under caller-supplied id, got %+v", reg.specs)
	}
}

func TestUnregisterUnknownIDReturnsNotFound(t *testing.T) {
	reg := newFakeRegistry()
	h := handlers.NewMCPHandler(facade.New(reg, zerolog.Nop()), zerolog.Nop())

	router := gin.New()
	router.DELETE("/v1/mcp/servers/:id", h.Unregister)

	req := httptest.NewRequest(http.MethodDelete, "/v1/mcp/servers/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListReturnsRegisteredServers(t *testing.T) {
	reg := newFakeRegistry()
	reg.specs["calc-1"] = mcp.ServerSpec{ID: "calc-1", Name: "calc"}
	h := handlers.NewMCPHandler(facade.New(reg, zerolog.Nop()), zerolog.Nop())

	router := gin.New()
	router.GET("/v1/mcp/servers", h.List)

	req := httptest.NewRequest(http.MethodGet, "/v1/mcp/servers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Data []mcp.ServerSpec `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "calc-1" {
		t.Fatalf("expected the one registered server, got %+v", resp.Data)
	}
}
