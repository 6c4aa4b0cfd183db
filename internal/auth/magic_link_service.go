package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/internal/notify"
	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/crypto"
	"github.com/charlesng35/magiclink/pkg/logger"
	"github.com/charlesng35/magiclink/pkg/metrics"
	"github.com/charlesng35/magiclink/pkg/validator"
)

// MagicLinkTTL is how long an issued magic link can be redeemed.
const MagicLinkTTL = 15 * time.Minute

// GenericIssueMessage is returned for every issue request regardless of the address.
const GenericIssueMessage = "If the address is valid, a sign-in link has been sent."

const (
	magicLinkKeyPrefix      = "magiclink:"
	defaultLinkRetention    = 24 * time.Hour
	minLinkRetention        = time.Minute
	defaultNotifyTimeout    = 10 * time.Second
	defaultMagicLinkSubject = "Your sign-in link"
)

// MagicLinkRecord is the persisted state of an issued token. The token itself is
// never stored; records are keyed by its hash.
type MagicLinkRecord struct {
	Address    string     `json:"address"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Redeemed   bool       `json:"redeemed"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// Redemption is the outcome of a successful Redeem.
type Redemption struct {
	Address    string
	RedeemedAt time.Time
}

// MagicLinkOption customises the MagicLinkService.
type MagicLinkOption func(*MagicLinkService)

// WithMagicLinkClock injects a custom time source.
func WithMagicLinkClock(clock func() time.Time) MagicLinkOption {
	return func(s *MagicLinkService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithMagicLinkRetention sets how long redeemed or expired records are kept so
// that replays are reported as AlreadyUsed or Expired rather than NotFound.
// Records always outlive their expiry by at least a minute.
func WithMagicLinkRetention(d time.Duration) MagicLinkOption {
	return func(s *MagicLinkService) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// WithNotifyTimeout bounds notifier delivery.
func WithNotifyTimeout(d time.Duration) MagicLinkOption {
	return func(s *MagicLinkService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithMagicLinkBaseURL sets the redeem endpoint embedded in delivered links.
func WithMagicLinkBaseURL(url string) MagicLinkOption {
	return func(s *MagicLinkService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithMagicLinkSubject overrides the notification subject.
func WithMagicLinkSubject(subject string) MagicLinkOption {
	return func(s *MagicLinkService) {
		if strings.TrimSpace(subject) != "" {
			s.subject = subject
		}
	}
}

// WithMagicLinkTokens replaces the token generator.
func WithMagicLinkTokens(gen TokenGenerator) MagicLinkOption {
	return func(s *MagicLinkService) {
		if gen != nil {
			s.tokens = gen
		}
	}
}

// WithMagicLinkLogger sets the logger.
func WithMagicLinkLogger(log *zap.Logger) MagicLinkOption {
	return func(s *MagicLinkService) {
		if log != nil {
			s.log = log
		}
	}
}

// MagicLinkService issues one-time sign-in tokens and redeems them exactly once.
type MagicLinkService struct {
	store         store.Store
	hasher        *crypto.TokenHasher
	notifier      notify.Notifier
	tokens        TokenGenerator
	baseURL       string
	subject       string
	retention     time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// NewMagicLinkService constructs the service. A nil notifier falls back to logging the link.
func NewMagicLinkService(st store.Store, hasher *crypto.TokenHasher, notifier notify.Notifier, opts ...MagicLinkOption) (*MagicLinkService, error) {
	if st == nil {
		return nil, errors.New("magic link service: store is required")
	}
	if hasher == nil {
		return nil, errors.New("magic link service: token hasher is required")
	}

	svc := &MagicLinkService{
		store:         st,
		hasher:        hasher,
		notifier:      notifier,
		tokens:        NewRandomTokenGenerator(DefaultTokenBytes),
		subject:       defaultMagicLinkSubject,
		retention:     defaultLinkRetention,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
		log:           logger.WithModule("magiclink"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.notifier == nil {
		svc.notifier = notify.NewLogNotifier(svc.log)
	}
	return svc, nil
}

// Issue creates and persists a new token for address, then hands a link to the
// notifier. Delivery failures are logged and never fail issuance.
func (s *MagicLinkService) Issue(ctx context.Context, address string) (string, error) {
	address = normaliseAddress(address)
	if err := validator.ValidateVar(address, "required,email"); err != nil {
		return "", ErrInvalidAddress
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("magic link service: generate token: %w", err)
	}

	now := s.now().UTC()
	record := MagicLinkRecord{
		Address:   address,
		CreatedAt: now,
		ExpiresAt: now.Add(MagicLinkTTL),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("magic link service: encode record: %w", err)
	}

	if err := s.store.Put(ctx, s.key(token), payload, MagicLinkTTL+s.keep()); err != nil {
		return "", upstream("persist magic link", err)
	}
	metrics.MagicLinksIssued.Inc()

	s.deliver(ctx, address, token, record.ExpiresAt)
	return token, nil
}

func (s *MagicLinkService) deliver(ctx context.Context, address, token string, expiresAt time.Time) {
	link := s.link(token)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	err := s.notifier.Send(sendCtx, address, notify.Message{
		Subject: s.subject,
		Body:    s.body(link, expiresAt),
		Link:    link,
	})
	if err != nil {
		metrics.NotifyFailures.Inc()
		s.log.Warn("magic link delivery failed",
			zap.String("address", address),
			zap.Error(err),
		)
	}
}

// Redeem consumes token. Among concurrent callers presenting the same token
// exactly one succeeds; the others receive ErrAlreadyUsed.
func (s *MagicLinkService) Redeem(ctx context.Context, token string) (*Redemption, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.MagicLinkRedemptions.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	key := s.key(token)

	current, ok, err := s.store.Get(ctx, key)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("error").Inc()
		return nil, upstream("load magic link", err)
	}
	if !ok {
		metrics.MagicLinkRedemptions.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	var record MagicLinkRecord
	if err := json.Unmarshal(current, &record); err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("error").Inc()
		return nil, upstream("decode magic link", err)
	}

	now := s.now().UTC()
	if now.After(record.ExpiresAt) {
		metrics.MagicLinkRedemptions.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}
	if record.Redeemed {
		metrics.MagicLinkRedemptions.WithLabelValues("already_used").Inc()
		return nil, ErrAlreadyUsed
	}

	record.Redeemed = true
	record.RedeemedAt = &now
	updated, err := json.Marshal(record)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("magic link service: encode record: %w", err)
	}

	ttl := record.ExpiresAt.Add(s.keep()).Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	swapped, err := s.store.CompareAndSwap(ctx, key, current, updated, ttl)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("error").Inc()
		return nil, upstream("redeem magic link", err)
	}
	if !swapped {
		metrics.MagicLinkRedemptions.WithLabelValues("already_used").Inc()
		return nil, ErrAlreadyUsed
	}

	metrics.MagicLinkRedemptions.WithLabelValues("success").Inc()
	return &Redemption{Address: record.Address, RedeemedAt: now}, nil
}

// keep is how long a record outlives its expiry in the store.
func (s *MagicLinkService) keep() time.Duration {
	return max(s.retention, minLinkRetention)
}

func (s *MagicLinkService) key(token string) string {
	return magicLinkKeyPrefix + s.hasher.Hash(token)
}

func (s *MagicLinkService) link(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, token)
}

func (s *MagicLinkService) body(link string, expiresAt time.Time) string {
	return fmt.Sprintf("Use the link below to sign in:\n%s\n\nThe link can be used once and expires at %s.\nIf you did not request it, you can ignore this message.\n",
		link, expiresAt.Format(time.RFC1123))
}

func normaliseAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
