// Package store provides the persistent key/value adapter used by the
// authentication services. Every backend offers an atomic CompareAndSwap, which
// is what single-use token redemption and unique address registration rely on.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialised is returned when a method is called on a nil backend.
var ErrNotInitialised = errors.New("store: backend not initialised")

// Store is a durable key/value store with conditional writes.
//
// A ttl of zero means the entry never expires. Expired entries are invisible to
// Get and CompareAndSwap even before they are physically removed.
type Store interface {
	// Get returns the current value of key. The boolean is false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put unconditionally writes value under key.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// CompareAndSwap writes value only if the current value equals expected and
	// reports whether the write happened. A nil expected means the key must be
	// absent. Exactly one of any set of racing callers with the same expected
	// value observes true.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Purger is implemented by backends that need explicit removal of expired entries.
// Redis and MongoDB expire entries natively and do not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func expiryFor(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl).UTC()
	return &at
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
