package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// anonymousUser is charged when a request carries no identity at all.
const anonymousUser = "anonymous"

// ExtractUserID resolves the quota identity of a request. An explicit
// X-User-ID header wins; otherwise a bearer token or API key is reduced to a
// stable pseudonymous id so repeat callers land on the same counters.
// TODO: replace the hash stub with real JWT subject extraction once the
// auth service issues signed tokens.
func ExtractUserID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimPrefix(auth, "Bearer "); token != "" {
			return hashedID(token)
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return hashedID(key)
	}

	return anonymousUser
}

func hashedID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "key-" + hex.EncodeToString(sum[:6])
}
