package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/magiclink/internal/auth"
	"github.com/charlesng35/magiclink/internal/middleware"
	apperrors "github.com/charlesng35/magiclink/pkg/errors"
	"github.com/charlesng35/magiclink/pkg/logger"
	"github.com/charlesng35/magiclink/pkg/response"
	appValidator "github.com/charlesng35/magiclink/pkg/validator"
)

// CookieSettings controls the session cookie written after a successful login.
// A zero MaxAge produces a browser-session cookie.
type CookieSettings struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler manages the magic-link flow (issue/redeem/session/me/logout).
type AuthHandler struct {
	links    *iauth.MagicLinkService
	login    *iauth.LoginService
	sessions *iauth.SessionService
	resolver *iauth.Resolver
	cookie   CookieSettings
	log      *zap.Logger
}

// NewAuthHandler constructs an AuthHandler. The cookie name defaults to the
// resolver's cookie so both always agree.
func NewAuthHandler(links *iauth.MagicLinkService, login *iauth.LoginService, sessions *iauth.SessionService, resolver *iauth.Resolver, cookie CookieSettings) (*AuthHandler, error) {
	if links == nil || login == nil || sessions == nil || resolver == nil {
		return nil, errors.New("auth handler: magic link, login and session services and a resolver are required")
	}
	cookie.Name = resolver.CookieName()
	return &AuthHandler{
		links:    links,
		login:    login,
		sessions: sessions,
		resolver: resolver,
		cookie:   cookie,
		log:      logger.WithModule("auth"),
	}, nil
}

type issueRequest struct {
	Address string `json:"address" validate:"required,email,max=320"`
}

type redeemRequest struct {
	Token string `json:"token"`
}

type validateRequest struct {
	SessionToken string `json:"session_token" validate:"omitempty,opaque_token"`
}

type loginResponse struct {
	SessionToken string      `json:"session_token"`
	User         *iauth.User `json:"user"`
}

// POST /api/auth/magic-link
func (h *AuthHandler) Issue(c *gin.Context) {
	var req issueRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.links.Issue(requestContext(c), req.Address); err != nil {
		if !errors.Is(err, iauth.ErrInvalidAddress) {
			h.log.Error("issue magic link", zap.Error(err))
		}
		response.Error(c, middleware.AuthError(err))
		return
	}

	response.Message(c, http.StatusAccepted, iauth.GenericIssueMessage)
}

// POST /api/auth/magic-link/redeem
func (h *AuthHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
		return
	}
	h.redeem(c, req.Token)
}

// GET /api/auth/magic-link/redeem?token=
func (h *AuthHandler) RedeemLink(c *gin.Context) {
	h.redeem(c, c.Query("token"))
}

// redeem reports a malformed token as an unknown link.
func (h *AuthHandler) redeem(c *gin.Context, token string) {
	token = strings.TrimSpace(token)
	if appValidator.ValidateVar(token, "omitempty,opaque_token") != nil {
		response.Error(c, apperrors.ErrLinkNotFound)
		return
	}

	result, err := h.login.Login(requestContext(c), token, iauth.ClientInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, iauth.ErrUpstreamUnavailable) {
			h.log.Error("redeem magic link", zap.Error(err))
		}
		response.Error(c, middleware.AuthError(err))
		return
	}

	h.setSessionCookie(c, result.SessionToken)
	response.Success(c, http.StatusOK, loginResponse{
		SessionToken: result.SessionToken,
		User:         result.User,
	})
}

// GET /api/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	h.validate(c, c.Query("session_token"))
}

// POST /api/auth/session/validate
func (h *AuthHandler) ValidateSession(c *gin.Context) {
	var req validateRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}
	h.validate(c, req.SessionToken)
}

func (h *AuthHandler) validate(c *gin.Context, explicit string) {
	resolution, err := h.resolver.Resolve(explicit, c.Request)
	if err != nil {
		response.Error(c, middleware.AuthError(err))
		return
	}

	identity, err := h.sessions.Validate(requestContext(c), resolution.Token)
	if err != nil {
		if errors.Is(err, iauth.ErrUpstreamUnavailable) {
			h.log.Error("validate session", zap.Error(err))
		}
		response.Error(c, middleware.AuthError(err))
		return
	}

	response.Success(c, http.StatusOK, identity)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, apperrors.ErrSessionAbsent)
		return
	}
	response.Success(c, http.StatusOK, identity)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	// an unreadable body falls back to the cookie and header
	var req validateRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	explicit := req.SessionToken
	if strings.TrimSpace(explicit) == "" {
		explicit = c.Query("session_token")
	}

	revoked := false
	if resolution, err := h.resolver.Resolve(explicit, c.Request); err == nil {
		if err := h.sessions.Invalidate(requestContext(c), resolution.Token); err != nil {
			h.log.Warn("invalidate session", zap.Error(err))
		} else {
			revoked = true
		}
	}

	h.clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	maxAge := int(h.cookie.MaxAge / time.Second)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, token, maxAge, "/", h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", h.cookie.Domain, h.cookie.Secure, true)
}
