package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"tokengate/internal/config"
)

// AdminAuth guards the admin routes with the shared secret from config.
// An unconfigured secret disables the surface entirely rather than leaving
// it open.
func AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if config.Cfg.AdminSecret == "" {
			writeError(w, http.StatusServiceUnavailable, "Admin API disabled: no admin secret configured")
			return
		}

		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			writeError(w, http.StatusUnauthorized, "Missing admin token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(config.Cfg.AdminSecret)) != 1 {
			writeError(w, http.StatusForbidden, "Invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
