package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jan-server/services/mcp-gateway/internal/domain/mcp"
	"jan-server/services/mcp-gateway/internal/infrastructure/mcp/facade"
	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/requests"
	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/responses"
)

// MCPHandler exposes the registry's admin surface: register/unregister
// server specs, inspect health, and force a reconnect.
type MCPHandler struct {
	facade *facade.Facade
	log    zerolog.Logger
}

// NewMCPHandler constructs the handler.
func NewMCPHandler(f *facade.Facade, log zerolog.Logger) *MCPHandler {
	return &MCPHandler{facade: f, log: log.With().Str("handler", "mcp").Logger()}
}

// Register handles POST /v1/mcp/servers: upsert a server spec and attempt
// an immediate connection.
func (h *MCPHandler) Register(c *gin.Context) {
	var req requests.ServerSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{Error: err.Error()})
		return
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("mcp_%s", uuid.NewString())
	}

	spec := mcp.ServerSpec{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		TransportType:  mcp.Transport(req.Transport),
		URL:            req.URL,
		Command:        req.Command,
		Args:           req.Args,
		Env:            req.Env,
		TimeoutSeconds: req.TimeoutSeconds,
		Disabled:       req.Disabled,
	}

	if err := h.facade.RegisterServer(c.Request.Context(), spec); err != nil {
		responses.HandleError(c, err, "failed to register server")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": spec.ID})
}

// Unregister handles DELETE /v1/mcp/servers/:id.
func (h *MCPHandler) Unregister(c *gin.Context) {
	id := c.Param("id")
	if err := h.facade.UnregisterServer(c.Request.Context(), id); err != nil {
		responses.HandleError(c, err, "failed to unregister server")
		return
	}
	c.Status(http.StatusNoContent)
}

// List handles GET /v1/mcp/servers.
func (h *MCPHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.facade.ListServers()})
}

// Health handles GET /v1/mcp/servers/:id/health, or every server's health
// when :id is "_all".
func (h *MCPHandler) Health(c *gin.Context) {
	id := c.Param("id")
	if id == "_all" {
		id = ""
	}
	c.JSON(http.StatusOK, gin.H{"data": h.facade.GetHealth(id)})
}

// Reconnect handles POST /v1/mcp/servers/:id/reconnect.
func (h *MCPHandler) Reconnect(c *gin.Context) {
	id := c.Param("id")
	if err := h.facade.Reconnect(c.Request.Context(), id); err != nil {
		responses.HandleError(c, err, "failed to reconnect")
		return
	}
	c.Status(http.StatusOK)
}
