// Package transport implements the three MCP transport state machines
// (Stdio, SSE, StreamableHTTP), each sharing the JSON-RPC framer and the
// common handshake sequence described in spec component B.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/jsonrpc"

	"github.com/rs/zerolog"
)

const protocolVersion = "2024-11-05"

// Listener is the one-way callback a driver uses to notify its owner (the
// registry) of state changes, breaking the driver<->registry reference
// cycle per spec §9 ("Cyclic driver<->registry reference").
type Listener interface {
	OnStateChange(serverID string, state mcp.DriverState, err error)
}

// Driver is the capability set every transport variant implements. Spec §9
// forbids sharing implementation through inheritance; only the framer and
// the handshake helper (runHandshake) are shared, each driver composes them.
type Driver interface {
	Open(ctx context.Context) error
	Initialize(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Close() error
	State() mcp.DriverState
	Capabilities() *mcp.ServerCapabilities
}

// clientInfo is sent verbatim in every initialize request.
var clientInfo = map[string]any{
	"name":    "mcp-gateway",
	"version": "1.0.0",
}

// initializeParams builds the handshake request params per spec §4.B.
func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      clientInfo,
		"capabilities":    map[string]any{"tools": true},
	}
}

// initializeResult is the shape of a well-formed initialize response.
type initializeResult struct {
	Capabilities map[string]any `json:"capabilities"`
	ServerInfo   map[string]any `json:"serverInfo"`
}

// handshakeCore holds the state and logging shared by all three drivers'
// handshake sequence: initialize request -> response -> notifications/initialized.
type handshakeCore struct {
	mu           sync.RWMutex
	state        mcp.DriverState
	capabilities *mcp.ServerCapabilities
	log          zerolog.Logger
	serverID     string
	listener     Listener
}

func newHandshakeCore(serverID string, log zerolog.Logger, listener Listener) *handshakeCore {
	return &handshakeCore{
		state:    mcp.StateConnecting,
		log:      log.With().Str("server_id", serverID).Logger(),
		serverID: serverID,
		listener: listener,
	}
}

func (h *handshakeCore) setState(state mcp.DriverState, err error) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
	if h.listener != nil {
		h.listener.OnStateChange(h.serverID, state, err)
	}
}

func (h *handshakeCore) State() mcp.DriverState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *handshakeCore) Capabilities() *mcp.ServerCapabilities {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capabilities
}

// callFunc sends a JSON-RPC request over the concrete transport and waits
// for the matching response, given the already-framed request/waiter pair.
type callFunc func(ctx context.Context, req jsonrpc.Request, wait chan jsonrpc.Envelope) (json.RawMessage, error)

// notifyFunc sends a JSON-RPC notification over the concrete transport.
type notifyFunc func(ctx context.Context, notif jsonrpc.Notification) error

// runHandshake executes the common three-step sequence described in spec
// §4.B: initialize request, initialize response, notifications/initialized.
// It is composed by each driver rather than inherited.
func runHandshake(ctx context.Context, h *handshakeCore, framer *jsonrpc.Framer, call callFunc, notify notifyFunc) error {
	h.setState(mcp.StateInitializing, nil)

	req, wait, err := framer.BuildRequest("initialize", initializeParams())
	if err != nil {
		h.setState(mcp.StateDisconnected, err)
		return mcp.NewProtocolError(h.serverID, "build initialize request", err)
	}

	raw, err := call(ctx, req, wait)
	if err != nil {
		h.setState(mcp.StateDisconnected, err)
		return mcp.NewTransportError(h.serverID, "initialize handshake failed", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.setState(mcp.StateDisconnected, err)
		return mcp.NewProtocolError(h.serverID, "malformed initialize response", err)
	}

	h.mu.Lock()
	h.capabilities = &mcp.ServerCapabilities{Raw: result.Capabilities, ServerInfo: result.ServerInfo}
	h.mu.Unlock()

	initNotif, err := framer.BuildNotification("notifications/initialized", nil)
	if err != nil {
		h.setState(mcp.StateDisconnected, err)
		return mcp.NewProtocolError(h.serverID, "build initialized notification", err)
	}
	if err := notify(ctx, initNotif); err != nil {
		h.setState(mcp.StateDisconnected, err)
		return mcp.NewTransportError(h.serverID, "send initialized notification", err)
	}

	h.setState(mcp.StateReady, nil)
	h.log.Info().Msg("mcp handshake complete")
	return nil
}

// waitForResponse blocks on the waiter channel until it delivers, the
// context is done, or a hard deadline elapses, retiring the id on timeout
// so a late reply is discarded (spec §8 property 7).
func waitForResponse(ctx context.Context, framer *jsonrpc.Framer, id int64, wait chan jsonrpc.Envelope, deadline time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case env := <-wait:
		if env.Error != nil {
			return nil, mcp.NewToolError("", env.Error.Message, env.Error)
		}
		return env.Result, nil
	case <-ctx.Done():
		framer.Cancel(id)
		return nil, fmt.Errorf("call cancelled: %w", ctx.Err())
	case <-timer.C:
		framer.Cancel(id)
		return nil, mcp.NewCallTimeoutError("")
	}
}
