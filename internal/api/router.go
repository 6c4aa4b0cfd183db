package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/magiclink/internal/app"
	iauth "github.com/charlesng35/magiclink/internal/auth"
	"github.com/charlesng35/magiclink/internal/handlers"
	"github.com/charlesng35/magiclink/internal/middleware"
	"github.com/charlesng35/magiclink/internal/store"
)

// Services bundles the domain services the router exposes.
type Services struct {
	Store      store.Store
	MagicLinks *iauth.MagicLinkService
	Login      *iauth.LoginService
	Sessions   *iauth.SessionService
	Resolver   *iauth.Resolver
}

func (s Services) validate() error {
	switch {
	case s.Store == nil:
		return errors.New("store must be provided")
	case s.MagicLinks == nil:
		return errors.New("magic link service must be provided")
	case s.Login == nil:
		return errors.New("login service must be provided")
	case s.Sessions == nil:
		return errors.New("session service must be provided")
	case s.Resolver == nil:
		return errors.New("resolver must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, svc Services) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if err := svc.validate(); err != nil {
		return nil, err
	}

	authHandler, err := handlers.NewAuthHandler(svc.MagicLinks, svc.Login, svc.Sessions, svc.Resolver, handlers.CookieSettings{
		Domain: cfg.Auth.Session.CookieDomain,
		Secure: cfg.Auth.Session.CookieSecure,
		MaxAge: cfg.Auth.SessionServiceConfig().AbsoluteTTL,
	})
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, handlers.NewHealthHandler(svc.Store))
	registerAuthRoutes(r, authRouteDeps{
		AuthHandler:    authHandler,
		RequireSession: middleware.RequireSession(svc.Resolver, svc.Sessions),
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
