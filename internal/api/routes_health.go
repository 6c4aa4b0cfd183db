package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/magiclink/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, health *handlers.HealthHandler) {
	registerHealthEndpoints(r, health)
	registerHealthEndpoints(r.Group("/api"), health)
}

func registerHealthEndpoints(router gin.IRouter, health *handlers.HealthHandler) {
	router.GET("/health", health.Ready)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)
}
