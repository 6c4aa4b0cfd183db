package store

import (
	"context"
	"time"

	"github.com/charlesng35/magiclink/pkg/metrics"
)

type instrumented struct {
	backend string
	next    Store
}

// Instrument wraps s so every call is counted in metrics.StoreOperations under
// the given backend label. PurgeExpired is forwarded when s supports it.
func Instrument(backend string, s Store) Store {
	if s == nil {
		return nil
	}
	base := &instrumented{backend: backend, next: s}
	if p, ok := s.(Purger); ok {
		return &instrumentedPurger{instrumented: base, purger: p}
	}
	return base
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := i.next.Get(ctx, key)
	metrics.ObserveStore(i.backend, "get", err)
	return value, ok, err
}

func (i *instrumented) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := i.next.Put(ctx, key, value, ttl)
	metrics.ObserveStore(i.backend, "put", err)
	return err
}

func (i *instrumented) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	swapped, err := i.next.CompareAndSwap(ctx, key, expected, value, ttl)
	metrics.ObserveStore(i.backend, "cas", err)
	return swapped, err
}

func (i *instrumented) Delete(ctx context.Context, keys ...string) error {
	err := i.next.Delete(ctx, keys...)
	metrics.ObserveStore(i.backend, "delete", err)
	return err
}

func (i *instrumented) Ping(ctx context.Context) error {
	err := i.next.Ping(ctx)
	metrics.ObserveStore(i.backend, "ping", err)
	return err
}

type instrumentedPurger struct {
	*instrumented
	purger Purger
}

func (i *instrumentedPurger) PurgeExpired(ctx context.Context) (int64, error) {
	removed, err := i.purger.PurgeExpired(ctx)
	metrics.ObserveStore(i.backend, "purge", err)
	return removed, err
}
