package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/mcp-gateway/internal/interfaces/httpserver/handlers"
)

func registerDispatchRoutes(router gin.IRoutes, handler *handlers.DispatchHandler) {
	router.POST("/mcp/dispatch", handler.Run)
}
