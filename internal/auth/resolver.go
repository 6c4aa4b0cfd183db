package auth

import (
	"net/http"
	"strings"
)

// DefaultSessionCookie is the cookie carrying the session token when none is configured.
const DefaultSessionCookie = "magiclink_session"

// TokenSource names where a session token was found.
type TokenSource string

const (
	SourceExplicit TokenSource = "explicit"
	SourceCookie   TokenSource = "cookie"
	SourceBearer   TokenSource = "bearer"
)

// Resolution is a candidate session token and the carrier it came from.
type Resolution struct {
	Token  string
	Source TokenSource
}

// Resolver extracts a session token from a request. Sources are consulted in a
// fixed order: an explicit value supplied by the caller, then the session
// cookie, then an Authorization bearer header. The first non-empty one wins.
type Resolver struct {
	cookieName string
}

// NewResolver returns a resolver reading the named cookie.
func NewResolver(cookieName string) *Resolver {
	cookieName = strings.TrimSpace(cookieName)
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &Resolver{cookieName: cookieName}
}

// CookieName reports the cookie consulted by the resolver.
func (r *Resolver) CookieName() string {
	return r.cookieName
}

// Resolve returns ErrAbsent when no source carries a token.
func (r *Resolver) Resolve(explicit string, req *http.Request) (Resolution, error) {
	if token := strings.TrimSpace(explicit); token != "" {
		return Resolution{Token: token, Source: SourceExplicit}, nil
	}
	if req == nil {
		return Resolution{}, ErrAbsent
	}
	if cookie, err := req.Cookie(r.cookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return Resolution{Token: token, Source: SourceCookie}, nil
		}
	}
	if token := bearerToken(req.Header.Get("Authorization")); token != "" {
		return Resolution{Token: token, Source: SourceBearer}, nil
	}
	return Resolution{}, ErrAbsent
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
