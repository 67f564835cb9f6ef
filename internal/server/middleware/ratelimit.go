package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/sluicedb/sluice/internal/ratelimit"
)

// Burst is a cheap in-process limiter in front of the shared Redis windows.
// It absorbs pathological request floods before they reach Redis at all.
func Burst(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// Limit enforces a shared fixed-window limiter keyed by client IP. Denials
// answer 429 with the standard error envelope and RateLimit headers.
func Limit(limiter *ratelimit.Limiter, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Allow(r.Context(), ratelimit.ClientIP(r))
			ratelimit.SetHeaders(w, res, window)
			if !res.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"error":"rate limit exceeded, retry later"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
