package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/magiclink/internal/api"
	"github.com/charlesng35/magiclink/internal/app"
	iauth "github.com/charlesng35/magiclink/internal/auth"
	"github.com/charlesng35/magiclink/internal/notify"
	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/crypto"
	"github.com/charlesng35/magiclink/pkg/response"
)

// BaseURL is the redeem endpoint embedded in links issued by test environments.
const BaseURL = "http://localhost:8080/api/auth/magic-link/redeem"

// Clock is a manually advanced time source shared by every service in an Env.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Outbox records every message handed to the notifier.
type Outbox struct {
	mu       sync.Mutex
	messages map[string][]notify.Message
}

// Send implements notify.Notifier.
func (o *Outbox) Send(_ context.Context, address string, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.messages == nil {
		o.messages = make(map[string][]notify.Message)
	}
	o.messages[address] = append(o.messages[address], msg)
	return nil
}

// Messages returns the messages delivered to address.
func (o *Outbox) Messages(address string) []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.messages[address]...)
}

// Env encapsulates a fully-wired API instance backed by an in-memory store for handler tests.
type Env struct {
	T        *testing.T
	Router   *gin.Engine
	Store    store.Store
	Clock    *Clock
	Outbox   *Outbox
	Config   *app.Config
	Services api.Services
}

// EnvOption customises NewEnv.
type EnvOption func(*app.Config)

// WithSessionTTL enables absolute and idle session expiry.
func WithSessionTTL(absolute, idle time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.Auth.Session.AbsoluteTTL = absolute
		cfg.Auth.Session.IdleTTL = idle
	}
}

// NewEnv provisions a fresh handler test environment.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cfg := &app.Config{
		Auth: app.AuthConfig{
			TokenBytes: 32,
			MagicLink: app.MagicLinkSettings{
				BaseURL:       BaseURL,
				Retention:     24 * time.Hour,
				NotifyTimeout: time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	clock := &Clock{current: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore(store.WithMemoryClock(clock.Now))
	outbox := &Outbox{}

	hasher, err := crypto.NewTokenHasher([]byte("handler-test-pepper"))
	require.NoError(t, err)

	links, err := iauth.NewMagicLinkService(st, hasher, outbox,
		append(cfg.Auth.MagicLinkOptions(), iauth.WithMagicLinkClock(clock.Now))...)
	require.NoError(t, err)

	users, err := iauth.NewUserDirectory(st, iauth.WithDirectoryClock(clock.Now))
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(st, hasher, users, cfg.Auth.SessionServiceConfig(),
		iauth.WithSessionClock(clock.Now),
		iauth.WithSessionTokens(cfg.Auth.TokenGenerator()),
	)
	require.NoError(t, err)

	login, err := iauth.NewLoginService(links, users, sessions)
	require.NoError(t, err)

	services := api.Services{
		Store:      st,
		MagicLinks: links,
		Login:      login,
		Sessions:   sessions,
		Resolver:   iauth.NewResolver(cfg.Auth.CookieName()),
	}

	router, err := api.NewRouter(cfg, services)
	require.NoError(t, err)

	return &Env{
		T:        t,
		Router:   router,
		Store:    st,
		Clock:    clock,
		Outbox:   outbox,
		Config:   cfg,
		Services: services,
	}
}

// IssueLink requests a magic link for address and returns the token delivered to it.
func (e *Env) IssueLink(address string) string {
	e.T.Helper()

	before := len(e.Outbox.Messages(address))
	w := e.Request(http.MethodPost, "/api/auth/magic-link", map[string]string{"address": address}, "")
	require.Equal(e.T, http.StatusAccepted, w.Code, w.Body.String())

	messages := e.Outbox.Messages(address)
	require.Len(e.T, messages, before+1)
	return TokenFromLink(e.T, messages[len(messages)-1].Link)
}

// TokenFromLink extracts the token query parameter from a delivered link.
func TokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

// LoginResult mirrors the redeem response payload.
type LoginResult struct {
	SessionToken string      `json:"session_token"`
	User         UserPayload `json:"user"`
}

// UserPayload captures the user fields returned from the redeem endpoint.
type UserPayload struct {
	ID        string     `json:"id"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login"`
}

// Login issues and redeems a link for address and returns the session.
func (e *Env) Login(address string) LoginResult {
	e.T.Helper()

	token := e.IssueLink(address)
	w := e.Request(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": token}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.SessionToken)
	require.NotEmpty(e.T, result.User.ID)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON
// encoding and a bearer token when one is given.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	req := e.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.Do(req)
}

// NewRequest builds a request with an optional JSON body.
func (e *Env) NewRequest(method, path string, body any) *http.Request {
	e.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.T, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Do serves req through the router.
func (e *Env) Do(req *http.Request) *httptest.ResponseRecorder {
	e.T.Helper()
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// SessionCookie returns the session cookie set on w, if any.
func (e *Env) SessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	e.T.Helper()
	name := e.Services.Resolver.CookieName()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
