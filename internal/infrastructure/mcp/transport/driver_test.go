package transport

import (
	"context"
	"encoding/json"
	"testing"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/jsonrpc"

	"github.com/rs/zerolog"
)

type recordingListener struct {
	states []mcp.DriverState
}

func (r *recordingListener) OnStateChange(serverID string, state mcp.DriverState, err error) {
	r.states = append(r.states, state)
}

// TestRunHandshakeOrder pins spec §8 property 2: initialize request ->
// initialize response -> notifications/initialized, exactly once, in order.
func TestRunHandshakeOrder(t *testing.T) {
	var wire []string
	framer := jsonrpc.NewFramer()
	listener := &recordingListener{}
	core := newHandshakeCore("srv", zerolog.Nop(), listener)

	call := func(ctx context.Context, req jsonrpc.Request, wait chan jsonrpc.Envelope) (json.RawMessage, error) {
		wire = append(wire, "request:"+req.Method)
		result, _ := json.Marshal(initializeResult{
			Capabilities: map[string]any{"tools": true},
			ServerInfo:   map[string]any{"name": "fake"},
		})
		wire = append(wire, "response:"+req.Method)
		return result, nil
	}
	notify := func(ctx context.Context, notif jsonrpc.Notification) error {
		wire = append(wire, "notify:"+notif.Method)
		return nil
	}

	if err := runHandshake(context.Background(), core, framer, call, notify); err != nil {
		t.Fatalf("runHandshake: %v", err)
	}

	want := []string{"request:initialize", "response:initialize", "notify:notifications/initialized"}
	if len(wire) != len(want) {
		t.Fatalf("wire sequence = %v, want %v", wire, want)
	}
	for i := range want {
		if wire[i] != want[i] {
			t.Fatalf("wire[%d] = %q, want %q", i, wire[i], want[i])
		}
	}

	if core.State() != mcp.StateReady {
		t.Fatalf("expected state READY after handshake, got %s", core.State())
	}
	if core.Capabilities() == nil {
		t.Fatalf("expected capabilities to be recorded")
	}

	lastState := listener.states[len(listener.states)-1]
	if lastState != mcp.StateReady {
		t.Fatalf("expected listener's last state to be READY, got %s", lastState)
	}
}

// TestRunHandshakeFailurePropagates verifies a failed initialize call never
// reaches READY and transitions to DISCONNECTED instead.
func TestRunHandshakeFailurePropagates(t *testing.T) {
	framer := jsonrpc.NewFramer()
	core := newHandshakeCore("srv", zerolog.Nop(), nil)

	call := func(ctx context.Context, req jsonrpc.Request, wait chan jsonrpc.Envelope) (json.RawMessage, error) {
		return nil, mcp.NewTransportError("srv", "connection refused", nil)
	}
	notify := func(ctx context.Context, notif jsonrpc.Notification) error { return nil }

	if err := runHandshake(context.Background(), core, framer, call, notify); err == nil {
		t.Fatalf("expected handshake failure to propagate an error")
	}
	if core.State() != mcp.StateDisconnected {
		t.Fatalf("expected DISCONNECTED after failed handshake, got %s", core.State())
	}
}
