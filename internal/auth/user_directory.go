package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/logger"
)

const (
	userKeyPrefix        = "user:"
	userAddressKeyPrefix = "user-address:"
	maxUpsertAttempts    = 3
	maxTouchAttempts     = 3
)

// ErrUserNotFound indicates that no user exists for the given id.
var ErrUserNotFound = errors.New("auth: user not found")

// User is a registered principal. Address is unique across users.
type User struct {
	ID        string     `json:"id"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	PublicKey *string    `json:"public_key,omitempty"`
}

// DirectoryOption customises the UserDirectory.
type DirectoryOption func(*UserDirectory)

// WithDirectoryClock injects a custom time source.
func WithDirectoryClock(clock func() time.Time) DirectoryOption {
	return func(d *UserDirectory) {
		if clock != nil {
			d.now = clock
		}
	}
}

// WithDirectoryIDs overrides user id generation.
func WithDirectoryIDs(newID func() string) DirectoryOption {
	return func(d *UserDirectory) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// WithDirectoryLogger sets the logger.
func WithDirectoryLogger(log *zap.Logger) DirectoryOption {
	return func(d *UserDirectory) {
		if log != nil {
			d.log = log
		}
	}
}

// UserDirectory stores users keyed by id with a unique address index.
type UserDirectory struct {
	store store.Store
	now   func() time.Time
	newID func() string
	log   *zap.Logger
}

// NewUserDirectory constructs a directory backed by st.
func NewUserDirectory(st store.Store, opts ...DirectoryOption) (*UserDirectory, error) {
	if st == nil {
		return nil, errors.New("user directory: store is required")
	}
	d := &UserDirectory{
		store: st,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logger.WithModule("users"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// UpsertByAddress returns the user registered for address, creating it on first
// use. Concurrent calls for the same address observe the same user.
func (d *UserDirectory) UpsertByAddress(ctx context.Context, address string) (*User, error) {
	address = normaliseAddress(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	indexKey := userAddressKeyPrefix + address

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		id, ok, err := d.store.Get(ctx, indexKey)
		if err != nil {
			return nil, upstream("load address index", err)
		}
		if ok {
			return d.GetByID(ctx, string(id))
		}

		user := &User{
			ID:        d.newID(),
			Address:   address,
			CreatedAt: d.now().UTC(),
		}
		if err := d.put(ctx, user); err != nil {
			return nil, err
		}

		claimed, err := d.store.CompareAndSwap(ctx, indexKey, nil, []byte(user.ID), 0)
		if err != nil {
			return nil, upstream("claim address", err)
		}
		if claimed {
			return user, nil
		}

		// another caller registered the address first
		if err := d.store.Delete(ctx, userKeyPrefix+user.ID); err != nil {
			d.log.Warn("failed to remove orphaned user record",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
		}
	}

	return nil, fmt.Errorf("user directory: upsert %s: too many conflicting writers", address)
}

// GetByID loads a user.
func (d *UserDirectory) GetByID(ctx context.Context, id string) (*User, error) {
	user, _, err := d.load(ctx, id)
	return user, err
}

// TouchLogin records at as the user's last login.
func (d *UserDirectory) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	for attempt := 0; attempt < maxTouchAttempts; attempt++ {
		user, raw, err := d.load(ctx, userID)
		if err != nil {
			return err
		}
		user.LastLogin = &at

		updated, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("user directory: encode user: %w", err)
		}
		swapped, err := d.store.CompareAndSwap(ctx, userKeyPrefix+user.ID, raw, updated, 0)
		if err != nil {
			return upstream("touch login", err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("user directory: touch login %s: too many conflicting writers", userID)
}

func (d *UserDirectory) load(ctx context.Context, id string) (*User, []byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, ErrUserNotFound
	}
	raw, ok, err := d.store.Get(ctx, userKeyPrefix+id)
	if err != nil {
		return nil, nil, upstream("load user", err)
	}
	if !ok {
		return nil, nil, ErrUserNotFound
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, upstream("decode user", err)
	}
	return &user, raw, nil
}

func (d *UserDirectory) put(ctx context.Context, user *User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("user directory: encode user: %w", err)
	}
	if err := d.store.Put(ctx, userKeyPrefix+user.ID, payload, 0); err != nil {
		return upstream("persist user", err)
	}
	return nil
}
