package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/magiclink/internal/database/testutil"
	"github.com/charlesng35/magiclink/internal/notify"
	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/crypto"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type sentMessage struct {
	address string
	msg     notify.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
	wait time.Duration
}

func (n *recordingNotifier) Send(ctx context.Context, address string, msg notify.Message) error {
	if n.wait > 0 {
		select {
		case <-time.After(n.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{address: address, msg: msg})
	return n.err
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

// failingStore fails the selected operations for keys with the given prefix.
type failingStore struct {
	store.Store
	prefix string
	ops    map[string]bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) fails(op, key string) bool {
	return f.ops[op] && strings.HasPrefix(key, f.prefix)
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.fails("get", key) {
		return nil, false, errStoreDown
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fails("put", key) {
		return errStoreDown
	}
	return f.Store.Put(ctx, key, value, ttl)
}

func (f *failingStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	if f.fails("cas", key) {
		return false, errStoreDown
	}
	return f.Store.CompareAndSwap(ctx, key, expected, value, ttl)
}

func (f *failingStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if f.fails("delete", key) {
			return errStoreDown
		}
	}
	return f.Store.Delete(ctx, keys...)
}

func mustHasher(t *testing.T) *crypto.TokenHasher {
	t.Helper()
	hasher, err := crypto.NewTokenHasher([]byte("test-pepper"))
	require.NoError(t, err)
	return hasher
}

// storeFactories returns the backends concurrency-sensitive tests run against.
// Redis expiry follows its own clock, so these backends are only used by tests
// that do not advance time.
func storeFactories() map[string]func(t *testing.T, clock *testClock) store.Store {
	return map[string]func(t *testing.T, clock *testClock) store.Store{
		"memory": func(t *testing.T, clock *testClock) store.Store {
			return store.NewMemoryStore(store.WithMemoryClock(clock.Now))
		},
		"database": func(t *testing.T, clock *testClock) store.Store {
			db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
			s, err := store.NewDatabaseStore(db, store.WithDatabaseClock(clock.Now))
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T, clock *testClock) store.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			s, err := store.NewRedisStore(client, "test")
			require.NoError(t, err)
			return s
		},
	}
}

type testServices struct {
	clock    *testClock
	store    store.Store
	notifier *recordingNotifier
	links    *MagicLinkService
	users    *UserDirectory
	sessions *SessionService
	login    *LoginService
}

func setupServices(t *testing.T, st store.Store, clock *testClock, cfg SessionConfig) *testServices {
	t.Helper()

	hasher := mustHasher(t)
	notifier := &recordingNotifier{}

	links, err := NewMagicLinkService(st, hasher, notifier,
		WithMagicLinkClock(clock.Now),
		WithMagicLinkBaseURL("http://localhost:8080/api/auth/magic-link/redeem"),
	)
	require.NoError(t, err)

	users, err := NewUserDirectory(st, WithDirectoryClock(clock.Now))
	require.NoError(t, err)

	sessions, err := NewSessionService(st, hasher, users, cfg, WithSessionClock(clock.Now))
	require.NoError(t, err)

	login, err := NewLoginService(links, users, sessions)
	require.NoError(t, err)

	return &testServices{
		clock:    clock,
		store:    st,
		notifier: notifier,
		links:    links,
		users:    users,
		sessions: sessions,
		login:    login,
	}
}

func setupMemoryServices(t *testing.T) *testServices {
	t.Helper()
	clock := newTestClock()
	return setupServices(t, store.NewMemoryStore(store.WithMemoryClock(clock.Now)), clock, SessionConfig{})
}
