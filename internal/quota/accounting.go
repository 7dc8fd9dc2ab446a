package quota

import (
	"context"
	"fmt"

	"tokengate/internal/store"
)

// Accounting tracks committed token usage per identity and window. Counters
// only ever grow; they reset by TTL expiry, never by decrement.
type Accounting struct {
	store store.Store
}

func NewAccounting(s store.Store) *Accounting {
	return &Accounting{store: s}
}

// WithinLimit reports whether requested tokens would fit under limit in the
// given window. It is a pure read and reserves nothing.
func (a *Accounting) WithinLimit(ctx context.Context, id Identity, w Window, requested, limit int64) (bool, error) {
	current, _, err := a.store.Get(ctx, usageKey(id, w))
	if err != nil {
		return false, fmt.Errorf("check %s window for %s: %w", w, id, err)
	}
	return current+requested <= limit, nil
}

// Commit adds actual tokens to the window counter and resets its TTL to the
// window duration. Refreshing the TTL on every write is what makes this a
// fixed window anchored to the last commit rather than a sliding one.
func (a *Accounting) Commit(ctx context.Context, id Identity, w Window, actual int64) error {
	key := usageKey(id, w)
	if _, err := a.store.IncrBy(ctx, key, actual); err != nil {
		return fmt.Errorf("commit %d tokens to %s window for %s: %w", actual, w, id, err)
	}
	if err := a.store.Expire(ctx, key, w.Duration()); err != nil {
		return fmt.Errorf("set %s window expiry for %s: %w", w, id, err)
	}
	return nil
}

// CommitAll commits the same actual usage to all three windows.
func (a *Accounting) CommitAll(ctx context.Context, id Identity, actual int64) error {
	for _, w := range Windows {
		if err := a.Commit(ctx, id, w, actual); err != nil {
			return err
		}
	}
	return nil
}

// Usage returns the current committed count for one window, 0 if the
// counter is absent or expired.
func (a *Accounting) Usage(ctx context.Context, id Identity, w Window) (int64, error) {
	current, _, err := a.store.Get(ctx, usageKey(id, w))
	if err != nil {
		return 0, fmt.Errorf("read %s window for %s: %w", w, id, err)
	}
	return current, nil
}

// UsageAll returns current counts keyed by window name, the shape the admin
// endpoint reports.
func (a *Accounting) UsageAll(ctx context.Context, id Identity) (map[string]int64, error) {
	out := make(map[string]int64, len(Windows))
	for _, w := range Windows {
		n, err := a.Usage(ctx, id, w)
		if err != nil {
			return nil, err
		}
		out[w.String()] = n
	}
	return out, nil
}
