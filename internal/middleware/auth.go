package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/magiclink/internal/auth"
	apperrors "github.com/charlesng35/magiclink/pkg/errors"
	"github.com/charlesng35/magiclink/pkg/logger"
	"github.com/charlesng35/magiclink/pkg/response"
)

const (
	CtxIdentityKey     = "identity"
	CtxUserIDKey       = "userID"
	CtxSessionTokenKey = "sessionToken"
)

// RequireSession resolves the session token from the cookie or Authorization
// header and rejects the request unless it names a live session.
func RequireSession(resolver *iauth.Resolver, sessions *iauth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolution, err := resolver.Resolve("", c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, AuthError(err))
			c.Abort()
			return
		}

		identity, err := sessions.Validate(c.Request.Context(), resolution.Token)
		if err != nil {
			if errors.Is(err, iauth.ErrUpstreamUnavailable) {
				logger.WithModule("http").Error("session validation failed",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err),
				)
			} else {
				c.Header("WWW-Authenticate", "Bearer")
			}
			response.Error(c, AuthError(err))
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.UserID)
		c.Set(CtxSessionTokenKey, resolution.Token)

		c.Next()
	}
}

// AuthError maps authentication failures onto the API error taxonomy. Anything
// unrecognised, including store outages, becomes a generic 500.
func AuthError(err error) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, iauth.ErrNotFound):
		return apperrors.ErrLinkNotFound
	case errors.Is(err, iauth.ErrExpired):
		return apperrors.ErrLinkExpired
	case errors.Is(err, iauth.ErrAlreadyUsed):
		return apperrors.ErrLinkAlreadyUsed
	case errors.Is(err, iauth.ErrInvalid):
		return apperrors.ErrSessionInvalid
	case errors.Is(err, iauth.ErrAbsent):
		return apperrors.ErrSessionAbsent
	case errors.Is(err, iauth.ErrInvalidAddress):
		return apperrors.NewBadRequest("A valid email address is required")
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
