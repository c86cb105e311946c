package handlers

import (
	"github.com/rs/zerolog"

	"jan-server/services/mcp-gateway/internal/domain/dispatch"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"
)

// Provider wires all HTTP handlers for dependency injection.
type Provider struct {
	MCP      *MCPHandler
	Dispatch *DispatchHandler
}

// NewProvider constructs the handler provider.
func NewProvider(f *facade.Facade, loop *dispatch.Loop, log zerolog.Logger) *Provider {
	return &Provider{
		MCP:      NewMCPHandler(f, log),
		Dispatch: NewDispatchHandler(loop, log),
	}
}
