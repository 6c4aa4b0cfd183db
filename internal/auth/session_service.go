package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mileusna/useragent"
	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/crypto"
	"github.com/charlesng35/magiclink/pkg/logger"
	"github.com/charlesng35/magiclink/pkg/metrics"
)

const (
	sessionKeyPrefix = "session:"
	// sessionTouchInterval limits how often idle sessions rewrite LastSeenAt.
	sessionTouchInterval = time.Minute
)

// SessionConfig describes optional session expiry. Zero durations disable the
// corresponding limit, in which case sessions live until invalidated.
type SessionConfig struct {
	AbsoluteTTL time.Duration
	IdleTTL     time.Duration
}

// ClientInfo captures contextual information about the client creating a session.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// SessionRecord is the persisted state of a session, keyed by the token hash.
type SessionRecord struct {
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	Device     string     `json:"device,omitempty"`
}

// Identity is the public view of the user bound to a valid session.
type Identity struct {
	UserID           string     `json:"user_id"`
	Address          string     `json:"address"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	PublicKey        *string    `json:"public_key,omitempty"`
	SessionCreatedAt time.Time  `json:"session_created_at"`
}

// SessionOption customises the SessionService.
type SessionOption func(*SessionService)

// WithSessionClock injects a custom time source.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *SessionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionTokens replaces the token generator.
func WithSessionTokens(gen TokenGenerator) SessionOption {
	return func(s *SessionService) {
		if gen != nil {
			s.tokens = gen
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *SessionService) {
		if log != nil {
			s.log = log
		}
	}
}

// SessionService mints, validates and invalidates opaque session tokens.
type SessionService struct {
	store  store.Store
	hasher *crypto.TokenHasher
	users  *UserDirectory
	tokens TokenGenerator
	cfg    SessionConfig
	now    func() time.Time
	log    *zap.Logger
}

// NewSessionService constructs a session manager backed by st.
func NewSessionService(st store.Store, hasher *crypto.TokenHasher, users *UserDirectory, cfg SessionConfig, opts ...SessionOption) (*SessionService, error) {
	if st == nil {
		return nil, errors.New("session service: store is required")
	}
	if hasher == nil {
		return nil, errors.New("session service: token hasher is required")
	}
	if users == nil {
		return nil, errors.New("session service: user directory is required")
	}
	if cfg.AbsoluteTTL < 0 || cfg.IdleTTL < 0 {
		return nil, errors.New("session service: ttl must not be negative")
	}

	svc := &SessionService{
		store:  st,
		hasher: hasher,
		users:  users,
		tokens: NewRandomTokenGenerator(DefaultTokenBytes),
		cfg:    cfg,
		now:    time.Now,
		log:    logger.WithModule("sessions"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create mints a session token bound to userID.
func (s *SessionService) Create(ctx context.Context, userID string, info ClientInfo) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("session service: user id is required")
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now().UTC()
	record := SessionRecord{
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
		IPAddress:  strings.TrimSpace(info.IPAddress),
		UserAgent:  strings.TrimSpace(info.UserAgent),
		Device:     DeviceLabel(info.UserAgent),
	}
	if s.cfg.AbsoluteTTL > 0 {
		expiresAt := now.Add(s.cfg.AbsoluteTTL)
		record.ExpiresAt = &expiresAt
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("session service: encode session: %w", err)
	}
	if err := s.store.Put(ctx, s.key(token), payload, s.storeTTL(record, now)); err != nil {
		return "", upstream("persist session", err)
	}

	metrics.SessionsCreated.Inc()
	return token, nil
}

// Validate resolves token to the identity of its user.
func (s *SessionService) Validate(ctx context.Context, token string) (*Identity, error) {
	identity, err := s.validate(ctx, token)
	switch {
	case err == nil:
		metrics.SessionValidations.WithLabelValues("valid").Inc()
	case errors.Is(err, ErrInvalid):
		metrics.SessionValidations.WithLabelValues("invalid").Inc()
	default:
		metrics.SessionValidations.WithLabelValues("error").Inc()
	}
	return identity, err
}

func (s *SessionService) validate(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalid
	}
	key := s.key(token)

	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, upstream("load session", err)
	}
	if !ok {
		return nil, ErrInvalid
	}

	var record SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, upstream("decode session", err)
	}

	now := s.now().UTC()
	if s.expired(record, now) {
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn("failed to delete expired session", zap.Error(err))
		}
		return nil, ErrInvalid
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}

	if s.cfg.IdleTTL > 0 && now.Sub(record.LastSeenAt) >= sessionTouchInterval {
		s.touch(ctx, key, raw, record, now)
	}

	return &Identity{
		UserID:           user.ID,
		Address:          user.Address,
		CreatedAt:        user.CreatedAt,
		LastLogin:        user.LastLogin,
		PublicKey:        user.PublicKey,
		SessionCreatedAt: record.CreatedAt,
	}, nil
}

// Invalidate removes the session. Unknown tokens are not an error.
func (s *SessionService) Invalidate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.store.Delete(ctx, s.key(token)); err != nil {
		return upstream("delete session", err)
	}
	return nil
}

// touch slides LastSeenAt. A lost race means a concurrent request already did it.
func (s *SessionService) touch(ctx context.Context, key string, raw []byte, record SessionRecord, now time.Time) {
	record.LastSeenAt = now
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if _, err := s.store.CompareAndSwap(ctx, key, raw, payload, s.storeTTL(record, now)); err != nil {
		s.log.Warn("failed to refresh session activity", zap.Error(err))
	}
}

func (s *SessionService) expired(record SessionRecord, now time.Time) bool {
	if record.ExpiresAt != nil && !now.Before(*record.ExpiresAt) {
		return true
	}
	if s.cfg.IdleTTL > 0 && !now.Before(record.LastSeenAt.Add(s.cfg.IdleTTL)) {
		return true
	}
	return false
}

// storeTTL is the time until the earliest applicable deadline, or zero when none applies.
func (s *SessionService) storeTTL(record SessionRecord, now time.Time) time.Duration {
	var deadline time.Time
	if record.ExpiresAt != nil {
		deadline = *record.ExpiresAt
	}
	if s.cfg.IdleTTL > 0 {
		idle := record.LastSeenAt.Add(s.cfg.IdleTTL)
		if deadline.IsZero() || idle.Before(deadline) {
			deadline = idle
		}
	}
	if deadline.IsZero() {
		return 0
	}
	ttl := deadline.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func (s *SessionService) key(token string) string {
	return sessionKeyPrefix + s.hasher.Hash(token)
}

// DeviceLabel summarises a User-Agent header, e.g. "Chrome on macOS".
func DeviceLabel(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}
	ua := useragent.Parse(userAgent)

	browser := ua.Name
	if browser == "" {
		browser = "Unknown browser"
	}
	switch {
	case ua.OS != "":
		return browser + " on " + ua.OS
	case ua.Device != "":
		return browser + " on " + ua.Device
	default:
		return browser
	}
}
