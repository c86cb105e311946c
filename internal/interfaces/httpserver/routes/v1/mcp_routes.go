package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/handlers"
)

func registerMCPRoutes(router gin.IRoutes, handler *handlers.MCPHandler) {
	router.POST("/mcp/servers", handler.Register)
	router.GET("/mcp/servers", handler.List)
	router.DELETE("/mcp/servers/:id", handler.Unregister)
	router.GET("/mcp/servers/:id/health", handler.Health)
	router.POST("/mcp/servers/:id/reconnect", handler.Reconnect)
}
