package facade

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/transport"

	"github.com/rs/zerolog"
)

// fakeDriver is a hand-rolled Driver double; CallFunc lets each test decide
// the wire-level behavior without a real transport.
type fakeDriver struct {
	state    mcp.DriverState
	CallFunc func(ctx context.Context, method string, params any) (json.RawMessage, error)
}

func (d *fakeDriver) Open(ctx context.Context) error       { return nil }
func (d *fakeDriver) Initialize(ctx context.Context) error  { return nil }
func (d *fakeDriver) Notify(ctx context.Context, method string, params any) error { return nil }
func (d *fakeDriver) Close() error                          { return nil }
func (d *fakeDriver) State() mcp.DriverState                 { return d.state }
func (d *fakeDriver) Capabilities() *mcp.ServerCapabilities  { return nil }
func (d *fakeDriver) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return d.CallFunc(ctx, method, params)
}

// fakeRegistry is a hand-rolled Registry double matching the teacher's
// XxxFunc-field mock style.
type fakeRegistry struct {
	drivers map[string]*fakeDriver
	specs   map[string]mcp.ServerSpec
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{drivers: make(map[string]*fakeDriver), specs: make(map[string]mcp.ServerSpec)}
}

func (r *fakeRegistry) GetClient(ctx context.Context, id string) (transport.Driver, error) {
	d, ok := r.drivers[id]
	if !ok {
		return nil, mcp.NewServerNotFoundError(id)
	}
	return d, nil
}

func (r *fakeRegistry) GetSpec(id string) (mcp.ServerSpec, error) {
	spec, ok := r.specs[id]
	if !ok {
		return mcp.ServerSpec{}, mcp.NewServerNotFoundError(id)
	}
	return spec, nil
}

func (r *fakeRegistry) Driver(id string) (transport.Driver, bool) {
	d, ok := r.drivers[id]
	if !ok {
		return nil, false
	}
	return d, true
}

func (r *fakeRegistry) ReadyDriverIDs() []string {
	var ids []string
	for id, d := range r.drivers {
		if d.state == mcp.StateReady {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *fakeRegistry) ListHealth() []mcp.Health {
	var out []mcp.Health
	for id, d := range r.drivers {
		out = append(out, mcp.Health{ServerID: id, Connected: d.state == mcp.StateReady, State: d.state, LastCheckAt: time.Now()})
	}
	return out
}

func (r *fakeRegistry) Register(ctx context.Context, spec mcp.ServerSpec) error {
	r.specs[spec.ID] = spec
	return nil
}

func (r *fakeRegistry) Unregister(ctx context.Context, id string) error {
	if _, ok := r.specs[id]; !ok {
		return mcp.NewServerNotFoundError(id)
	}
	delete(r.specs, id)
	delete(r.drivers, id)
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

func TestCallToolSuccess(t *testing.T) {
	reg := newFakeRegistry()
	reg.drivers["calc"] = &fakeDriver{state: mcp.StateReady, CallFunc: func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		if method != "tools/call" {
			t.Fatalf("expected tools/call, got %s", method)
		}
		return json.RawMessage(`{"content":[{"type":"text","text":"5"}]}`), nil
	}}
	f := New(reg, zerolog.Nop())

	result, err := f.CallTool(context.Background(), CallToolRequest{ServerID: "calc", ToolName: "add", Arguments: map[string]any{"a": "2", "b": "3"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error=%q", result.Error)
	}
}

func TestCallToolSurfacesToolErrorWithoutFailing(t *testing.T) {
	reg := newFakeRegistry()
	reg.drivers["calc"] = &fakeDriver{state: mcp.StateReady, CallFunc: func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		return nil, mcp.NewToolError("calc", "division by zero", nil)
	}}
	f := New(reg, zerolog.Nop())

	result, err := f.CallTool(context.Background(), CallToolRequest{ServerID: "calc", ToolName: "div"})
	if err != nil {
		t.Fatalf("expected ToolError to surface as a result, not a Go error: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Fatalf("expected Success=false with an Error message, got %+v", result)
	}
}

func TestCallToolServerNotFound(t *testing.T) {
	reg := newFakeRegistry()
	f := New(reg, zerolog.Nop())

	_, err := f.CallTool(context.Background(), CallToolRequest{ServerID: "ghost"})
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Kind != mcp.ErrServerNotFound {
		t.Fatalf("expected ServerNotFound, got %v", err)
	}
}

func TestListToolsAggregatesAcrossReadyDriversAndSkipsFailures(t *testing.T) {
	reg := newFakeRegistry()
	reg.drivers["good"] = &fakeDriver{state: mcp.StateReady, CallFunc: func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{"tools":[{"name":"add","description":"adds"}]}`), nil
	}}
	reg.drivers["bad"] = &fakeDriver{state: mcp.StateReady, CallFunc: func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		return nil, mcp.NewTransportError("bad", "boom", nil)
	}}
	reg.drivers["disconnected"] = &fakeDriver{state: mcp.StateDisconnected}
	f := New(reg, zerolog.Nop())

	tools := f.ListTools(context.Background(), nil)
	if len(tools) != 1 || tools[0].ServerName != "good" || tools[0].Name != "add" {
		t.Fatalf("expected exactly the one tool from the healthy server, got %+v", tools)
	}
}

func TestGetHealthFiltersByServerID(t *testing.T) {
	reg := newFakeRegistry()
	reg.drivers["a"] = &fakeDriver{state: mcp.StateReady}
	reg.drivers["b"] = &fakeDriver{state: mcp.StateDisconnected}
	f := New(reg, zerolog.Nop())

	health := f.GetHealth("a")
	if len(health) != 1 || health[0].ServerID != "a" {
		t.Fatalf("expected health filtered to server a, got %+v", health)
	}

	all := f.GetHealth("")
	if len(all) != 2 {
		t.Fatalf("expected health for all servers, got %d entries", len(all))
	}
}

func TestReconnectUnknownServerFailsNotFound(t *testing.T) {
	reg := newFakeRegistry()
	f := New(reg, zerolog.Nop())

	err := f.Reconnect(context.Background(), "ghost")
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Kind != mcp.ErrServerNotFound {
		t.Fatalf("expected ServerNotFound, got %v", err)
	}
}
