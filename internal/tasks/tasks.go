// Package tasks runs the periodic jobs that sit outside the admission core:
// usage statistics, key cleanup and a store health ping. They only drive the
// store's scan interface; nothing here participates in admission decisions.
package tasks

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"tokengate/internal/metrics"
	"tokengate/internal/quota"
	"tokengate/internal/store"
)

const jobTimeout = 30 * time.Second

type Runner struct {
	store store.Store
	cron  *cron.Cron
}

func NewRunner(s store.Store) *Runner {
	return &Runner{store: s, cron: cron.New()}
}

// Start schedules the jobs and launches the cron loop.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc("@hourly", r.CollectHourlyStats); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("0 0 * * *", r.CleanupConcurrentKeys); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("@every 5m", r.PingStore); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// CollectHourlyStats snapshots the live hour-window counters and updates the
// active-keys gauge.
func (r *Runner) CollectHourlyStats() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	keys, err := r.store.Scan(ctx, quota.UsageKeyPattern(quota.Hour))
	if err != nil {
		log.Printf("hourly stats scan: %v", err)
		return
	}

	var total int64
	for _, key := range keys {
		n, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		total += n
	}

	metrics.ActiveUsageKeys.Set(float64(len(keys)))
	log.Printf("hourly usage stats: %d active identities, %d tokens this hour", len(keys), total)
}

// CleanupConcurrentKeys deletes concurrency keys that drained to zero but
// were never removed, for instance when a process died holding a slot and
// the TTL raced a late release.
func (r *Runner) CleanupConcurrentKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	keys, err := r.store.Scan(ctx, quota.ConcurrentKeyPattern())
	if err != nil {
		log.Printf("concurrent key scan: %v", err)
		return
	}

	cleaned := 0
	for _, key := range keys {
		n, ok, err := r.store.Get(ctx, key)
		if err != nil {
			continue
		}
		if !ok || n <= 0 {
			if err := r.store.Delete(ctx, key); err == nil {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		log.Printf("cleaned up %d drained concurrency keys", cleaned)
	}
}

// PingStore logs when the store stops answering.
func (r *Runner) PingStore() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := r.store.Ping(ctx); err != nil {
		log.Printf("store health check failed: %v", err)
	}
}
