package router

import (
	"github.com/gin-gonic/gin"

	"github.com/sitepulse/beacon/internal/http/handler"
)

func StatsRouter(router *gin.RouterGroup, handler *handler.StatsHandler) {
	router.GET("/stats", handler.Report)
}
