package router

import (
	"github.com/gin-gonic/gin"

	"github.com/sitepulse/beacon/internal/http/handler"
)

func EventRouter(router *gin.RouterGroup, handler *handler.EventHandler) {
	router.POST("/event", handler.Submit)
}
