// internal/manifest/middleware.go
package manifest

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit caps the write surface. Operators hammering retry on a
// failed checkout only make the read-then-act window worse.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorPayload{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
