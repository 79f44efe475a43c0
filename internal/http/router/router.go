package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitepulse/beacon/internal/http/handler"
)

type Handlers struct {
	Events *handler.EventHandler
	Stats  *handler.StatsHandler
	Health *handler.HealthHandler
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	router.GET("/health", h.Health.Live)
	router.GET("/readyz", h.Health.Ready)

	root := router.Group("")
	EventRouter(root, h.Events)
	StatsRouter(root, h.Stats)
}
