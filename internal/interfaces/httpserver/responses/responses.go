// Package responses maps domain errors and results onto HTTP responses.
package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
)

// ErrorResponse is the JSON body returned on a handler failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HandleError maps a domain mcp.Error (or any other error) to an HTTP
// status and aborts the request, mirroring the Kind→status mapping
// mcp.Error.GRPCStatus uses for the facade's gRPC-compatible surface.
func HandleError(c *gin.Context, err error, message string) {
	var mcpErr *mcp.Error
	if errors.As(err, &mcpErr) {
		c.AbortWithStatusJSON(httpStatusFor(mcpErr.Kind), ErrorResponse{Error: mcpErr.Error(), Message: message})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Message: message})
}

func httpStatusFor(kind mcp.ErrorKind) int {
	switch kind {
	case mcp.ErrServerNotFound:
		return http.StatusNotFound
	case mcp.ErrServerUnavailable, mcp.ErrTransport:
		return http.StatusServiceUnavailable
	case mcp.ErrShuttingDown:
		return http.StatusServiceUnavailable
	case mcp.ErrCallTimeout:
		return http.StatusGatewayTimeout
	case mcp.ErrValidation:
		return http.StatusBadRequest
	case mcp.ErrProtocol, mcp.ErrTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
