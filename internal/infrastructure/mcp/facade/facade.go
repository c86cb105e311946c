// Package facade implements the gRPC-compatible RPC surface exposed to the
// chat orchestrator (spec component E): CallTool, ListTools, ListResources,
// ListPrompts, GetHealth, Reconnect, Shutdown.
package facade

import (
	"context"
	"encoding/json"
	"time"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/transport"

	"github.com/rs/zerolog"
)

// CallToolRequest is the input to CallTool.
type CallToolRequest struct {
	ServerID  string
	ToolName  string
	Arguments map[string]any
}

// CallToolResult is the output of CallTool; Success mirrors the
// tools/call-vs-tool-error distinction from spec §4.E.
type CallToolResult struct {
	Success         bool
	Result          json.RawMessage
	Error           string
	ExecutionTimeMs int64
}

// Registry is the subset of *registry.Registry the facade depends on,
// narrowed to an interface so it can be exercised with a fake in tests
// without spawning real transports.
type Registry interface {
	GetClient(ctx context.Context, id string) (transport.Driver, error)
	GetSpec(id string) (mcp.ServerSpec, error)
	ListSpecs() []mcp.ServerSpec
	Driver(id string) (transport.Driver, bool)
	ReadyDriverIDs() []string
	ListHealth() []mcp.Health
	Register(ctx context.Context, spec mcp.ServerSpec) error
	Unregister(ctx context.Context, id string) error
	Shutdown()
}

// Facade is the single entry point the dispatch loop and any admin surface
// use to reach the registry; it never holds driver state of its own.
type Facade struct {
	registry Registry
	log      zerolog.Logger
}

// New constructs a Facade over reg.
func New(reg Registry, log zerolog.Logger) *Facade {
	return &Facade{registry: reg, log: log.With().Str("component", "facade").Logger()}
}

// CallTool maps to tools/call with params {name, arguments} (spec §4.E).
func (f *Facade) CallTool(ctx context.Context, req CallToolRequest) (CallToolResult, error) {
	driver, err := f.registry.GetClient(ctx, req.ServerID)
	if err != nil {
		return CallToolResult{}, err
	}

	start := time.Now()
	raw, err := driver.Call(ctx, "tools/call", map[string]any{
		"name":      req.ToolName,
		"arguments": req.Arguments,
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if toolErr, ok := mcp.AsError(err); ok && toolErr.Kind == mcp.ErrTool {
			// Tool errors surface to the caller verbatim; the driver stays READY.
			return CallToolResult{Success: false, Error: toolErr.Message, ExecutionTimeMs: elapsed}, nil
		}
		return CallToolResult{}, err
	}

	return CallToolResult{Success: true, Result: raw, ExecutionTimeMs: elapsed}, nil
}

// listResultFunc decodes one "list" style RPC result into typed entries.
type listResultFunc[T any] func(serverID string, raw json.RawMessage) ([]T, error)

// aggregateList calls method on every id in ids (or every ready driver if
// ids is empty), decoding with decode. A failure on one id is logged and
// omitted, never aborting the aggregate (spec §4.E, §7).
func aggregateList[T any](ctx context.Context, f *Facade, ids []string, method string, decode listResultFunc[T]) []T {
	if len(ids) == 0 {
		ids = f.registry.ReadyDriverIDs()
	}

	var out []T
	for _, id := range ids {
		driver, ok := f.registry.Driver(id)
		if !ok || driver.State() != mcp.StateReady {
			continue
		}
		raw, err := driver.Call(ctx, method, nil)
		if err != nil {
			f.log.Warn().Err(err).Str("server_id", id).Str("method", method).Msg("aggregate call failed, omitting from result")
			continue
		}
		entries, err := decode(id, raw)
		if err != nil {
			f.log.Warn().Err(err).Str("server_id", id).Str("method", method).Msg("malformed aggregate response, omitting from result")
			continue
		}
		out = append(out, entries...)
	}
	return out
}

type toolsListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

// ListTools aggregates tools/list across the requested ids, or every ready
// driver if serverIDs is empty.
func (f *Facade) ListTools(ctx context.Context, serverIDs []string) []mcp.Tool {
	return aggregateList(ctx, f, serverIDs, "tools/list", func(serverID string, raw json.RawMessage) ([]mcp.Tool, error) {
		var parsed toolsListResult
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, err
		}
		out := make([]mcp.Tool, 0, len(parsed.Tools))
		for _, t := range parsed.Tools {
			out = append(out, mcp.Tool{ServerName: serverID, Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		return out, nil
	})
}

type resourcesListResult struct {
	Resources []struct {
		URI         string `json:"uri"`
		Name        string `json:"name"`
		Description string `json:"description"`
		MimeType    string `json:"mimeType"`
	} `json:"resources"`
}

// ListResources aggregates resources/list across the requested ids.
func (f *Facade) ListResources(ctx context.Context, serverIDs []string) []mcp.Resource {
	return aggregateList(ctx, f, serverIDs, "resources/list", func(serverID string, raw json.RawMessage) ([]mcp.Resource, error) {
		var parsed resourcesListResult
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, err
		}
		out := make([]mcp.Resource, 0, len(parsed.Resources))
		for _, r := range parsed.Resources {
			out = append(out, mcp.Resource{ServerName: serverID, URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType})
		}
		return out, nil
	})
}

type promptsListResult struct {
	Prompts []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"prompts"`
}

// ListPrompts aggregates prompts/list across the requested ids.
func (f *Facade) ListPrompts(ctx context.Context, serverIDs []string) []mcp.Prompt {
	return aggregateList(ctx, f, serverIDs, "prompts/list", func(serverID string, raw json.RawMessage) ([]mcp.Prompt, error) {
		var parsed promptsListResult
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, err
		}
		out := make([]mcp.Prompt, 0, len(parsed.Prompts))
		for _, p := range parsed.Prompts {
			out = append(out, mcp.Prompt{ServerName: serverID, Name: p.Name, Description: p.Description})
		}
		return out, nil
	})
}

// GetHealth returns the health view for serverID, or every cached spec if
// serverID is empty.
func (f *Facade) GetHealth(serverID string) []mcp.Health {
	if serverID == "" {
		return f.registry.ListHealth()
	}
	for _, h := range f.registry.ListHealth() {
		if h.ServerID == serverID {
			return []mcp.Health{h}
		}
	}
	return nil
}

// Reconnect forces a rebuild attempt for serverID, bypassing the cached
// READY short-circuit so an operator can force a fresh handshake.
func (f *Facade) Reconnect(ctx context.Context, serverID string) error {
	spec, err := f.registry.GetSpec(serverID)
	if err != nil {
		return err
	}
	return f.registry.Register(ctx, spec)
}

// Shutdown marks serverID's spec disabled and closes its driver.
func (f *Facade) Shutdown(ctx context.Context, serverID string) error {
	spec, err := f.registry.GetSpec(serverID)
	if err != nil {
		return err
	}
	spec.Disabled = true
	return f.registry.Register(ctx, spec)
}

// ShutdownAll gracefully tears down the whole registry (process teardown).
func (f *Facade) ShutdownAll() {
	f.registry.Shutdown()
}

// RegisterServer upserts spec and attempts an immediate connection, the
// admin surface's entrypoint for adding or editing a server (spec §4.D).
func (f *Facade) RegisterServer(ctx context.Context, spec mcp.ServerSpec) error {
	return f.registry.Register(ctx, spec)
}

// UnregisterServer removes serverID from persistence and closes its driver.
func (f *Facade) UnregisterServer(ctx context.Context, serverID string) error {
	return f.registry.Unregister(ctx, serverID)
}

// ListServers returns every cached server spec.
func (f *Facade) ListServers() []mcp.ServerSpec {
	return f.registry.ListSpecs()
}
