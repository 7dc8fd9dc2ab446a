package proxy

import (
	"sync"
	"time"

	"tokengate/internal/config"
	"tokengate/internal/database"
	"tokengate/internal/quota"
)

// LimitResolver computes the effective caps for an identity: per-identity
// database override, then per-model config, then process defaults. Lookups
// are cached briefly so the hot path does not hit sqlite per request.
type LimitResolver struct {
	defaults quota.Limits
	models   map[string]config.ModelLimits
	cache    sync.Map // "model/user" -> limitEntry
}

type limitEntry struct {
	limits    quota.Limits
	fetchedAt time.Time
}

const limitCacheTTL = 10 * time.Second

func NewLimitResolver(defaults quota.Limits, models map[string]config.ModelLimits) *LimitResolver {
	m := make(map[string]config.ModelLimits, len(models))
	for id, lim := range models {
		m[id] = lim
	}
	return &LimitResolver{defaults: defaults, models: m}
}

// Resolve returns the caps admission checks the identity against.
func (lr *LimitResolver) Resolve(id quota.Identity) quota.Limits {
	cacheKey := id.String()
	if cached, ok := lr.cache.Load(cacheKey); ok {
		entry := cached.(limitEntry)
		if time.Since(entry.fetchedAt) < limitCacheTTL {
			return entry.limits
		}
	}

	limits := lr.defaults
	if ml, ok := lr.models[id.Model]; ok {
		applyOverride(&limits, ml.MaxTokensPerMinute, ml.MaxTokensPerHour, ml.MaxTokensPerDay, ml.MaxConcurrentRequests)
	}

	if database.DB != nil {
		var ov database.LimitOverride
		err := database.DB.Where("model_id = ? AND user_id = ?", id.Model, id.User).First(&ov).Error
		if err == nil {
			applyOverride(&limits, ov.MaxTokensPerMinute, ov.MaxTokensPerHour, ov.MaxTokensPerDay, ov.MaxConcurrentRequests)
		}
	}

	lr.cache.Store(cacheKey, limitEntry{limits: limits, fetchedAt: time.Now()})
	return limits
}

// Invalidate drops a cached entry after an admin updates an override.
func (lr *LimitResolver) Invalidate(id quota.Identity) {
	lr.cache.Delete(id.String())
}

func applyOverride(dst *quota.Limits, minute, hour, day, concurrent int64) {
	if minute > 0 {
		dst.MaxTokensPerMinute = minute
	}
	if hour > 0 {
		dst.MaxTokensPerHour = hour
	}
	if day > 0 {
		dst.MaxTokensPerDay = day
	}
	if concurrent > 0 {
		dst.MaxConcurrentRequests = concurrent
	}
}
