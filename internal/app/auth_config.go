package app

import (
	"github.com/charlesng35/magiclink/internal/auth"
)

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	cfg := auth.SessionConfig{
		AbsoluteTTL: c.Session.AbsoluteTTL,
		IdleTTL:     c.Session.IdleTTL,
	}
	if cfg.AbsoluteTTL < 0 {
		cfg.AbsoluteTTL = 0
	}
	if cfg.IdleTTL < 0 {
		cfg.IdleTTL = 0
	}
	return cfg
}

// MagicLinkOptions converts AuthConfig into MagicLinkService options.
func (c AuthConfig) MagicLinkOptions() []auth.MagicLinkOption {
	return []auth.MagicLinkOption{
		auth.WithMagicLinkTokens(c.TokenGenerator()),
		auth.WithMagicLinkBaseURL(c.MagicLink.BaseURL),
		auth.WithMagicLinkSubject(c.MagicLink.Subject),
		auth.WithMagicLinkRetention(c.MagicLink.Retention),
		auth.WithNotifyTimeout(c.MagicLink.NotifyTimeout),
	}
}

// TokenGenerator returns the generator shared by magic links and sessions.
func (c AuthConfig) TokenGenerator() auth.TokenGenerator {
	return auth.NewRandomTokenGenerator(c.TokenBytes)
}

// CookieName returns the session cookie name, falling back to the default.
func (c AuthConfig) CookieName() string {
	if c.Session.CookieName == "" {
		return auth.DefaultSessionCookie
	}
	return c.Session.CookieName
}
