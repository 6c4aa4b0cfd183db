package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/magiclink/internal/models"
)

// DatabaseStore implements Store on top of the primary SQL database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseOption customises a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithDatabaseClock overrides the clock used for expiry decisions.
func WithDatabaseClock(now func() time.Time) DatabaseOption {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseOption) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("store: db is required")
	}
	s := &DatabaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *DatabaseStore) clock() time.Time {
	return s.now().UTC()
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrNotInitialised
	}
	ctx = contextOrBackground(ctx)

	var entry models.StoreEntry
	err := s.db.WithContext(ctx).Take(&entry, "store_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if entry.Expired(s.clock()) {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Put upserts the value for a given key with expiry.
func (s *DatabaseStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrNotInitialised
	}
	ctx = contextOrBackground(ctx)

	now := s.clock()
	entry := models.StoreEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiryFor(now, ttl),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// CompareAndSwap performs the conditional write as a single statement so the
// database row lock decides the winner among concurrent callers.
func (s *DatabaseStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	if s == nil {
		return false, ErrNotInitialised
	}
	ctx = contextOrBackground(ctx)

	now := s.clock()
	expiresAt := expiryFor(now, ttl)

	if expected == nil {
		return s.insertIfAbsent(ctx, key, value, expiresAt, now)
	}

	result := s.db.WithContext(ctx).
		Model(&models.StoreEntry{}).
		Where("store_key = ? AND value = ?", key, expected).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Updates(map[string]any{
			"value":      value,
			"expires_at": expiresAt,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *DatabaseStore) insertIfAbsent(ctx context.Context, key string, value []byte, expiresAt *time.Time, now time.Time) (bool, error) {
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// an expired row still occupies the primary key
		if err := tx.Where("store_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now).
			Delete(&models.StoreEntry{}).Error; err != nil {
			return err
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.StoreEntry{
			Key:       key,
			Value:     value,
			ExpiresAt: expiresAt,
		})
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return ErrNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	ctx = contextOrBackground(ctx)

	return s.db.WithContext(ctx).Where("store_key IN ?", keys).Delete(&models.StoreEntry{}).Error
}

// PurgeExpired physically removes expired rows.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, ErrNotInitialised
	}
	ctx = contextOrBackground(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.clock()).
		Delete(&models.StoreEntry{})
	return result.RowsAffected, result.Error
}

// Ping checks database connectivity.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s == nil {
		return ErrNotInitialised
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(contextOrBackground(ctx))
}
