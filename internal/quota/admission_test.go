package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"tokengate/internal/store"
)

func testLimits() Limits {
	return Limits{
		MaxTokensPerMinute:    1000,
		MaxTokensPerHour:      10000,
		MaxTokensPerDay:       100000,
		MaxConcurrentRequests: 5,
	}
}

func newTestController(s store.Store) *Controller {
	return NewController(s, NewAccounting(s), FailClosed)
}

func TestAdmitWithinMinuteLimit(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestController(s)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	NewAccounting(s).Commit(ctx, id, Minute, 900)

	slot, err := c.Admit(ctx, id, 100, testLimits())
	if err != nil {
		t.Fatalf("Expected admission at exactly the limit, got %v", err)
	}
	slot.Release(ctx)
}

func TestAdmitDeniesOverMinuteLimit(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestController(s)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	NewAccounting(s).Commit(ctx, id, Minute, 900)

	_, err := c.Admit(ctx, id, 101, testLimits())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("Expected RateLimitError, got %v", err)
	}
	if rle.LimitType != "minute" {
		t.Errorf("Expected limit_type minute, got %s", rle.LimitType)
	}
	if rle.RetryAfter != 60 {
		t.Errorf("Expected retry_after 60, got %d", rle.RetryAfter)
	}
}

func TestAdmitDenialRetryHints(t *testing.T) {
	tests := []struct {
		window     Window
		preload    int64
		limitType  string
		retryAfter int
	}{
		{Minute, 0, "minute", 60},
		{Hour, 0, "hour", 3600},
		{Day, 0, "day", 86400},
	}

	for _, tt := range tests {
		t.Run(tt.limitType, func(t *testing.T) {
			s := store.NewMemoryStore()
			c := newTestController(s)
			ctx := context.Background()
			id := Identity{Model: "llama", User: "alice"}

			lim := testLimits()
			// Fill only the window under test.
			switch tt.window {
			case Minute:
				NewAccounting(s).Commit(ctx, id, Minute, lim.MaxTokensPerMinute)
			case Hour:
				NewAccounting(s).Commit(ctx, id, Hour, lim.MaxTokensPerHour)
			case Day:
				NewAccounting(s).Commit(ctx, id, Day, lim.MaxTokensPerDay)
			}

			_, err := c.Admit(ctx, id, 1, lim)
			var rle *RateLimitError
			if !errors.As(err, &rle) {
				t.Fatalf("Expected RateLimitError, got %v", err)
			}
			if rle.LimitType != tt.limitType {
				t.Errorf("Expected limit_type %s, got %s", tt.limitType, rle.LimitType)
			}
			if rle.RetryAfter != tt.retryAfter {
				t.Errorf("Expected retry_after %d, got %d", tt.retryAfter, rle.RetryAfter)
			}
		})
	}
}

func TestAdmitDeniesAtConcurrencyCap(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestController(s)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	var held []*Slot
	for i := 0; i < 5; i++ {
		slot, err := c.Admit(ctx, id, 10, testLimits())
		if err != nil {
			t.Fatalf("Admission %d failed: %v", i+1, err)
		}
		held = append(held, slot)
	}

	_, err := c.Admit(ctx, id, 10, testLimits())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("Expected RateLimitError for 6th request, got %v", err)
	}
	if rle.LimitType != "concurrent" {
		t.Errorf("Expected limit_type concurrent, got %s", rle.LimitType)
	}
	if rle.RetryAfter != 30 {
		t.Errorf("Expected retry_after 30, got %d", rle.RetryAfter)
	}

	for _, slot := range held {
		slot.Release(ctx)
	}

	// All slots returned: the key must be gone and admission open again.
	if _, ok, _ := s.Get(ctx, concurrentKey(id)); ok {
		t.Error("Expected drained concurrency key to be deleted")
	}
	slot, err := c.Admit(ctx, id, 10, testLimits())
	if err != nil {
		t.Fatalf("Expected admission after release, got %v", err)
	}
	slot.Release(ctx)
}

func TestWindowDenialReleasesReservedSlot(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestController(s)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	NewAccounting(s).Commit(ctx, id, Minute, 1000)

	for i := 0; i < 10; i++ {
		if _, err := c.Admit(ctx, id, 1, testLimits()); err == nil {
			t.Fatal("Expected denial")
		}
	}

	// Each denial reserved then released; no slots may leak.
	if n, ok, _ := s.Get(ctx, concurrentKey(id)); ok {
		t.Errorf("Expected no leaked slots after denials, key holds %d", n)
	}
}

func TestSlotReleaseIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestController(s)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	slot, err := c.Admit(ctx, id, 10, testLimits())
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	slot.Release(ctx)
	slot.Release(ctx)
	slot.Release(ctx)

	if n, ok, _ := s.Get(ctx, concurrentKey(id)); ok {
		t.Errorf("Expected key deleted after release, holds %d", n)
	}

	// A fresh admission still sees a clean counter.
	slot2, err := c.Admit(ctx, id, 10, testLimits())
	if err != nil {
		t.Fatalf("Admit after releases failed: %v", err)
	}
	if n, _, _ := s.Get(ctx, concurrentKey(id)); n != 1 {
		t.Errorf("Expected count 1 after fresh admission, got %d", n)
	}
	slot2.Release(ctx)
}

func TestConcurrentAdmissionsRespectCap(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestController(s)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	const attempts = 20
	var mu sync.Mutex
	var admitted []*Slot

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := c.Admit(ctx, id, 1, testLimits())
			if err != nil {
				return
			}
			mu.Lock()
			admitted = append(admitted, slot)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(admitted) != 5 {
		t.Errorf("Expected exactly 5 concurrent admissions, got %d", len(admitted))
	}
	for _, slot := range admitted {
		slot.Release(ctx)
	}
	if _, ok, _ := s.Get(ctx, concurrentKey(id)); ok {
		t.Error("Expected concurrency key deleted after all releases")
	}
}

// usageFailingStore fails reads of usage counters only, so admission gets
// past the concurrency reservation before hitting the store error.
type usageFailingStore struct {
	*store.MemoryStore
}

func (s *usageFailingStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if strings.HasPrefix(key, "token:usage:") {
		return 0, false, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestFailClosedPropagatesStoreError(t *testing.T) {
	s := &usageFailingStore{store.NewMemoryStore()}
	c := NewController(s, NewAccounting(s), FailClosed)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	_, err := c.Admit(ctx, id, 10, testLimits())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		t.Error("Store failure must not masquerade as a rate limit denial")
	}

	// The reservation made before the failing window check must be undone.
	if n, ok, _ := s.MemoryStore.Get(ctx, concurrentKey(id)); ok {
		t.Errorf("Expected slot released on store failure, key holds %d", n)
	}
}

func TestFailOpenAdmitsOnStoreError(t *testing.T) {
	s := &usageFailingStore{store.NewMemoryStore()}
	c := NewController(s, NewAccounting(s), FailOpen)
	ctx := context.Background()
	id := Identity{Model: "llama", User: "alice"}

	slot, err := c.Admit(ctx, id, 10, testLimits())
	if err != nil {
		t.Fatalf("Expected fail-open admission, got %v", err)
	}

	// The no-op slot must tolerate release without store state behind it.
	slot.Release(ctx)
	slot.Release(ctx)
}
