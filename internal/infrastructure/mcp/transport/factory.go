package transport

import (
	"jan-server/services/mcp-gateway/internal/domain/mcp"

	"github.com/rs/zerolog"
)

// Build constructs the unopened driver variant matching spec.TransportType.
// Spec §9 forbids sharing implementation through inheritance across
// transports; this factory is the only place that branches on transport.
func Build(spec mcp.ServerSpec, log zerolog.Logger, listener Listener) (Driver, error) {
	switch spec.TransportType {
	case mcp.TransportStdio:
		return NewStdioDriver(spec, log, listener), nil
	case mcp.TransportSSE:
		return NewSSEDriver(spec, log, listener), nil
	case mcp.TransportStreamableHTTP:
		return NewStreamableHTTPDriver(spec, log, listener), nil
	default:
		return nil, mcp.NewValidationError("unknown transport: " + string(spec.TransportType))
	}
}
