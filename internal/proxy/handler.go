package proxy

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tokengate/internal/database"
	"tokengate/internal/metrics"
	"tokengate/internal/quota"
	"tokengate/internal/registry"
	"tokengate/internal/store"
)

// Gateway wires admission, forwarding and reconciliation behind the model
// routes. One instance serves all models.
type Gateway struct {
	Registry   *registry.Registry
	Controller *quota.Controller
	Forwarder  *Forwarder
	Estimator  Estimator
	Limits     *LimitResolver
}

// ChatCompletions is the admission-gated proxy path. The concurrency slot
// reserved by Admit is released on every exit below, including client
// cancellation mid-forward, via the deferred release on a non-cancelable
// context.
func (g *Gateway) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	id := quota.Identity{Model: modelID, User: ExtractUserID(r)}
	requestID := uuid.New().String()

	endpoint, err := g.Registry.Resolve(r.Context(), modelID)
	if err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			WriteModelNotFound(w, modelID)
			return
		}
		WriteServiceUnavailable(w, "Model registry unavailable")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	estimated := g.Estimator.Estimate(body)

	slot, err := g.Controller.Admit(r.Context(), id, estimated, g.Limits.Resolve(id))
	if err != nil {
		var rle *quota.RateLimitError
		if errors.As(err, &rle) {
			metrics.AdmissionDecisions.WithLabelValues(modelID, "denied").Inc()
			metrics.Denials.WithLabelValues(modelID, rle.LimitType).Inc()
			log.Printf("denied %s: %s (request %s)", id, rle.LimitType, requestID)
			WriteRateLimited(w, rle)
			return
		}
		metrics.AdmissionDecisions.WithLabelValues(modelID, "error").Inc()
		log.Printf("admission check failed for %s: %v", id, err)
		WriteServiceUnavailable(w, "Quota store unavailable")
		return
	}
	metrics.AdmissionDecisions.WithLabelValues(modelID, "admitted").Inc()

	// The release must survive the client hanging up, otherwise a canceled
	// request would pin its slot until the store TTL reclaims it.
	releaseCtx := context.WithoutCancel(r.Context())
	defer slot.Release(releaseCtx)

	start := time.Now()
	result, err := g.Forwarder.Forward(r.Context(), endpoint, body, r.Header, id, requestID)
	if err != nil {
		// A store failure after the backend already answered is not the
		// backend's fault; report it as such so operators look at the
		// right system.
		if errors.Is(err, store.ErrUnavailable) {
			metrics.UpstreamRequests.WithLabelValues(modelID, "store_error").Inc()
			log.Printf("usage commit for %s failed: %v (request %s)", id, err, requestID)
			recordUsage(id, requestID, estimated, 0, http.StatusServiceUnavailable, time.Since(start))
			WriteServiceUnavailable(w, "Quota store unavailable")
			return
		}
		metrics.UpstreamRequests.WithLabelValues(modelID, "error").Inc()
		log.Printf("forward to %s failed: %v (request %s)", modelID, err, requestID)
		recordUsage(id, requestID, estimated, 0, http.StatusServiceUnavailable, time.Since(start))
		WriteServiceUnavailable(w, "Model backend unavailable: "+modelID)
		return
	}

	metrics.UpstreamRequests.WithLabelValues(modelID, "ok").Inc()
	metrics.TokensCommitted.WithLabelValues(modelID).Add(float64(result.ActualTokens))
	recordUsage(id, requestID, estimated, result.ActualTokens, result.Status, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// ListModels reports the configured model ids.
func (g *Gateway) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": g.Registry.Models()})
}

// ModelHealth probes one model's backend.
func (g *Gateway) ModelHealth(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	writeJSON(w, http.StatusOK, map[string]any{
		"model":     modelID,
		"healthy":   g.Registry.Healthy(r.Context(), modelID),
		"timestamp": time.Now().UnixMilli(),
	})
}

// recordUsage appends the reporting trail entry. Failures are logged and
// swallowed; the audit log never blocks a response.
func recordUsage(id quota.Identity, requestID string, estimated, actual int64, status int, dur time.Duration) {
	if database.DB == nil {
		return
	}
	rec := database.UsageRecord{
		ModelID:         id.Model,
		UserID:          id.User,
		RequestID:       requestID,
		EstimatedTokens: estimated,
		ActualTokens:    actual,
		StatusCode:      status,
		DurationMs:      dur.Milliseconds(),
	}
	if err := database.DB.Create(&rec).Error; err != nil {
		log.Printf("record usage for %s: %v", id, err)
	}
}
