package quota

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tokengate/internal/store"
)

// slotTTL bounds how long an orphaned concurrency reservation can live if a
// process dies between reserve and release. It is a safety net, not the
// release mechanism.
const slotTTL = 300 * time.Second

// Limits are the per-identity caps an admission decision is made against.
type Limits struct {
	MaxTokensPerMinute    int64
	MaxTokensPerHour      int64
	MaxTokensPerDay       int64
	MaxConcurrentRequests int64
}

func (l Limits) forWindow(w Window) int64 {
	switch w {
	case Minute:
		return l.MaxTokensPerMinute
	case Hour:
		return l.MaxTokensPerHour
	default:
		return l.MaxTokensPerDay
	}
}

// FailMode decides what Admit does when the store is unreachable.
type FailMode int

const (
	// FailClosed propagates the store error; the caller denies the request.
	FailClosed FailMode = iota
	// FailOpen admits the request with a no-op slot; nothing is accounted.
	FailOpen
)

// Controller is the single admission decision point. One Admit call holds a
// concurrency-slot reservation plus three window checks; the per-identity
// mutex serializes that sequence within this process so two local requests
// cannot interleave their check-then-reserve steps. Across processes the
// store's per-key atomic increments are the only guarantee, matching the
// shared-store deployment model.
type Controller struct {
	store    store.Store
	acct     *Accounting
	failMode FailMode
	locks    sync.Map // Identity -> *sync.Mutex
}

func NewController(s store.Store, acct *Accounting, mode FailMode) *Controller {
	return &Controller{store: s, acct: acct, failMode: mode}
}

func (c *Controller) identityLock(id Identity) *sync.Mutex {
	val, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return val.(*sync.Mutex)
}

// Admit decides whether a request estimated at estimated tokens may proceed.
// On admission it returns a Slot the caller must release exactly once, on
// every exit path. On denial it returns a *RateLimitError. Store failures
// follow the configured fail mode.
func (c *Controller) Admit(ctx context.Context, id Identity, estimated int64, lim Limits) (*Slot, error) {
	mu := c.identityLock(id)
	mu.Lock()
	defer mu.Unlock()

	key := concurrentKey(id)

	current, _, err := c.store.Get(ctx, key)
	if err != nil {
		return c.storeFailure(id, err)
	}
	if current >= lim.MaxConcurrentRequests {
		return nil, &RateLimitError{LimitType: "concurrent", RetryAfter: ConcurrentRetryAfter}
	}

	// Reserve the slot before the window checks; whoever holds it must
	// release it on every path below.
	if _, err := c.store.IncrBy(ctx, key, 1); err != nil {
		return c.storeFailure(id, err)
	}
	slot := &Slot{store: c.store, key: key}
	if err := c.store.Expire(ctx, key, slotTTL); err != nil {
		slot.Release(ctx)
		return c.storeFailure(id, err)
	}

	for _, w := range Windows {
		ok, err := c.acct.WithinLimit(ctx, id, w, estimated, lim.forWindow(w))
		if err != nil {
			slot.Release(ctx)
			return c.storeFailure(id, err)
		}
		if !ok {
			slot.Release(ctx)
			return nil, &RateLimitError{LimitType: w.String(), RetryAfter: w.RetryAfter()}
		}
	}

	return slot, nil
}

func (c *Controller) storeFailure(id Identity, err error) (*Slot, error) {
	if c.failMode == FailOpen {
		log.Printf("store unavailable, admitting %s unaccounted: %v", id, err)
		return &Slot{noop: true}, nil
	}
	return nil, fmt.Errorf("admission check for %s: %w", id, err)
}

// Slot is a held concurrency reservation. Release is idempotent, so callers
// can defer it and still release early on denial paths.
type Slot struct {
	store    store.Store
	key      string
	noop     bool
	released atomic.Bool
}

// Release returns the reservation. The counter is decremented once; if it
// reaches zero or below the key is deleted so a stale negative count can
// never accumulate.
func (s *Slot) Release(ctx context.Context) {
	if s.noop || !s.released.CompareAndSwap(false, true) {
		return
	}

	remaining, err := s.store.DecrBy(ctx, s.key, 1)
	if err != nil {
		// The 300s TTL reclaims the slot if the store comes back.
		log.Printf("release concurrency slot %s: %v", s.key, err)
		return
	}
	if remaining <= 0 {
		if err := s.store.Delete(ctx, s.key); err != nil {
			log.Printf("delete drained slot key %s: %v", s.key, err)
		}
	}
}
