package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/magiclink/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler    *handlers.AuthHandler
	RequireSession gin.HandlerFunc
}

func registerAuthRoutes(engine *gin.Engine, deps authRouteDeps) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/magic-link", deps.AuthHandler.Issue)
		auth.POST("/magic-link/redeem", deps.AuthHandler.Redeem)
		auth.GET("/magic-link/redeem", deps.AuthHandler.RedeemLink)
		auth.GET("/session", deps.AuthHandler.Session)
		auth.POST("/session/validate", deps.AuthHandler.ValidateSession)
		auth.POST("/logout", deps.AuthHandler.Logout)
	}

	auth.GET("/me", deps.RequireSession, deps.AuthHandler.Me)
}
