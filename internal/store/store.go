// Package store defines the counter store the gateway keeps all shared
// quota state in. Every mutation is a single atomic operation on one key,
// which is what makes the accounting safe across multiple gateway instances
// pointed at the same store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is wrapped by every store error caused by connectivity or
// timeout problems. Callers decide whether that fails a request open or
// closed; the store itself never retries.
var ErrUnavailable = errors.New("store unavailable")

// Store is the capability the quota and registry layers are built on.
type Store interface {
	// Get returns the integer value of key. ok is false if the key is
	// absent or expired.
	Get(ctx context.Context, key string) (val int64, ok bool, err error)

	// IncrBy atomically adds n to key (creating it at 0) and returns the
	// new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// DecrBy atomically subtracts n from key and returns the new value.
	// The result may be negative; callers clamp.
	DecrBy(ctx context.Context, key string, n int64) (int64, error)

	// Expire sets the TTL of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns all keys matching a glob-style pattern. The result is
	// finite; callers treat it as a point-in-time snapshot.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// GetString and SetString serve the endpoint cache, which holds URLs
	// rather than counters.
	GetString(ctx context.Context, key string) (val string, ok bool, err error)
	SetString(ctx context.Context, key, val string, ttl time.Duration) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
