package store

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt *time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return e.expiresAt != nil && !now.Before(*e.expiresAt)
}

// MemoryStore keeps entries in process memory. It is intended for tests and
// single-instance development setups.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for expiry decisions.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) clock() time.Time {
	return s.now().UTC()
}

// lookup returns the live entry for key. Callers must hold mu.
func (s *MemoryStore) lookup(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(key, s.clock())
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(entry.value), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: bytes.Clone(value), expiresAt: expiryFor(s.clock(), ttl)}
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	if s == nil {
		return false, ErrNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	current, ok := s.lookup(key, now)
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || !bytes.Equal(current.value, expected)):
		return false, nil
	}

	s.entries[key] = memoryEntry{value: bytes.Clone(value), expiresAt: expiryFor(now, ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	if s == nil {
		return ErrNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// PurgeExpired drops every expired entry and reports how many were removed.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	if s == nil {
		return 0, ErrNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var removed int64
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	if s == nil {
		return ErrNotInitialised
	}
	return nil
}
