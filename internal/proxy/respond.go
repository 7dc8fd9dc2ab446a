package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tokengate/internal/quota"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// WriteRateLimited renders the contract 429 body and Retry-After header.
func WriteRateLimited(w http.ResponseWriter, rle *quota.RateLimitError) {
	w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     rle.Error(),
		"retry_after": rle.RetryAfter,
		"limit_type":  rle.LimitType,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func WriteModelNotFound(w http.ResponseWriter, modelID string) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":     "model_not_found",
		"message":   "Model not found: " + modelID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func WriteServiceUnavailable(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error":     "service_unavailable",
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
