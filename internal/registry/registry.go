// Package registry resolves model ids to backend endpoints, cache-aside
// over the shared store with a static config map as the source of truth.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"tokengate/internal/store"
)

// ErrModelNotFound means the model id is known to neither the cache nor the
// static map.
var ErrModelNotFound = errors.New("model not found")

const (
	endpointCacheTTL   = 5 * time.Minute
	healthProbeTimeout = 5 * time.Second
)

type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]string
	store     store.Store
	client    *http.Client
}

// New builds a registry seeded with the configured model -> endpoint map.
func New(s store.Store, endpoints map[string]string) *Registry {
	eps := make(map[string]string, len(endpoints))
	for id, url := range endpoints {
		eps[id] = url
	}
	return &Registry{
		endpoints: eps,
		store:     s,
		client:    &http.Client{Timeout: healthProbeTimeout},
	}
}

func cacheKey(modelID string) string {
	return "model:endpoint:" + modelID
}

// Resolve returns the backend endpoint for modelID. The store cache is
// consulted first; a cache miss falls back to the static map and repopulates
// the cache. Cache errors degrade to the static map rather than failing the
// request.
func (r *Registry) Resolve(ctx context.Context, modelID string) (string, error) {
	cached, ok, err := r.store.GetString(ctx, cacheKey(modelID))
	if err != nil {
		log.Printf("endpoint cache read for %s: %v", modelID, err)
	} else if ok {
		return cached, nil
	}

	r.mu.RLock()
	endpoint, found := r.endpoints[modelID]
	r.mu.RUnlock()
	if !found {
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	if err := r.store.SetString(ctx, cacheKey(modelID), endpoint, endpointCacheTTL); err != nil {
		log.Printf("endpoint cache write for %s: %v", modelID, err)
	}
	return endpoint, nil
}

// Models lists configured model ids, sorted for stable output.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Healthy probes the model's health path with a bounded timeout. Anything
// but a 2xx answer, including resolve failures and timeouts, reports false.
func (r *Registry) Healthy(ctx context.Context, modelID string) bool {
	endpoint, err := r.Resolve(ctx, modelID)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Register adds or replaces a model endpoint and refreshes the cache entry.
func (r *Registry) Register(ctx context.Context, modelID, endpoint string) {
	r.mu.Lock()
	r.endpoints[modelID] = endpoint
	r.mu.Unlock()

	if err := r.store.SetString(ctx, cacheKey(modelID), endpoint, endpointCacheTTL); err != nil {
		log.Printf("endpoint cache write for %s: %v", modelID, err)
	}
	log.Printf("registered model %s at %s", modelID, endpoint)
}

// Unregister removes a model and invalidates its cache entry.
func (r *Registry) Unregister(ctx context.Context, modelID string) {
	r.mu.Lock()
	delete(r.endpoints, modelID)
	r.mu.Unlock()

	if err := r.store.Delete(ctx, cacheKey(modelID)); err != nil {
		log.Printf("endpoint cache invalidate for %s: %v", modelID, err)
	}
	log.Printf("unregistered model %s", modelID)
}
