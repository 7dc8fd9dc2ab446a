package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tokengate/internal/database"
	"tokengate/internal/proxy"
	"tokengate/internal/quota"
	"tokengate/internal/registry"
)

// Handlers serves the admin and introspection endpoints.
type Handlers struct {
	Accounting *quota.Accounting
	Registry   *registry.Registry
	Limits     *proxy.LimitResolver
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// HealthCheck reports service liveness.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// TokenUsage returns the current minute/hour/day counters for an identity.
func (h *Handlers) TokenUsage(w http.ResponseWriter, r *http.Request) {
	id := quota.Identity{
		Model: chi.URLParam(r, "modelID"),
		User:  chi.URLParam(r, "userID"),
	}

	usage, err := h.Accounting.UsageAll(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// GetLimits returns the stored override for an identity, 404 if none exists.
func (h *Handlers) GetLimits(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	userID := chi.URLParam(r, "userID")

	var ov database.LimitOverride
	if err := database.DB.Where("model_id = ? AND user_id = ?", modelID, userID).First(&ov).Error; err != nil {
		writeError(w, http.StatusNotFound, "No limit override for this identity")
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// SetLimits upserts a per-identity limit override.
func (h *Handlers) SetLimits(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	userID := chi.URLParam(r, "userID")

	var body struct {
		MaxTokensPerMinute    int64 `json:"max_tokens_per_minute"`
		MaxTokensPerHour      int64 `json:"max_tokens_per_hour"`
		MaxTokensPerDay       int64 `json:"max_tokens_per_day"`
		MaxConcurrentRequests int64 `json:"max_concurrent_requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.MaxTokensPerMinute < 0 || body.MaxTokensPerHour < 0 ||
		body.MaxTokensPerDay < 0 || body.MaxConcurrentRequests < 0 {
		writeError(w, http.StatusBadRequest, "Limits must not be negative")
		return
	}

	ov := database.LimitOverride{ModelID: modelID, UserID: userID}
	var existing database.LimitOverride
	if err := database.DB.Where("model_id = ? AND user_id = ?", modelID, userID).First(&existing).Error; err == nil {
		ov = existing
	}
	ov.MaxTokensPerMinute = body.MaxTokensPerMinute
	ov.MaxTokensPerHour = body.MaxTokensPerHour
	ov.MaxTokensPerDay = body.MaxTokensPerDay
	ov.MaxConcurrentRequests = body.MaxConcurrentRequests

	if err := database.DB.Save(&ov).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save limits")
		return
	}

	h.Limits.Invalidate(quota.Identity{Model: modelID, User: userID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RegisterModel adds or replaces a model endpoint in the registry.
func (h *Handlers) RegisterModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ModelID  string `json:"model_id"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ModelID == "" || body.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "model_id and endpoint are required")
		return
	}

	h.Registry.Register(r.Context(), body.ModelID, body.Endpoint)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// UnregisterModel removes a model from the registry.
func (h *Handlers) UnregisterModel(w http.ResponseWriter, r *http.Request) {
	h.Registry.Unregister(r.Context(), chi.URLParam(r, "modelID"))
	w.WriteHeader(http.StatusNoContent)
}

// Usage returns the most recent reconciled requests from the audit trail.
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	var records []database.UsageRecord
	if err := database.DB.Order("created_at DESC").Limit(100).Find(&records).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load usage records")
		return
	}

	var totalActual int64
	for _, rec := range records {
		totalActual += rec.ActualTokens
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":      records,
		"total_tokens": totalActual,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}
