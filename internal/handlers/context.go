package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/magiclink/internal/auth"
	"github.com/charlesng35/magiclink/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func identityFromContext(c *gin.Context) (*iauth.Identity, bool) {
	value, ok := c.Get(middleware.CtxIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*iauth.Identity)
	return identity, ok && identity != nil
}
