package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of one limiter check, carrying everything needed to
// decorate the response headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter enforces a fixed window of at most Max requests per key. Storage
// failures fail open: the request is allowed and the error logged.
type Limiter struct {
	store  Store
	prefix string
	max    int
	window time.Duration
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a fixed-window limiter writing keys under prefix.
func NewLimiter(store Store, prefix string, max int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		prefix: prefix,
		max:    max,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow records one request for key (normally a client IP) and reports
// whether it is within the window budget.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	now := l.now()
	storeKey := l.prefix + ":" + key

	rec, err := l.store.Get(ctx, storeKey)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open", "key", storeKey, "error", err)
		return Result{Allowed: true, Limit: l.max, Remaining: l.max - 1, ResetTime: now.Add(l.window)}
	}

	if rec == nil || now.UnixMilli() > rec.ResetTime {
		fresh := Record{Count: 1, ResetTime: now.Add(l.window).UnixMilli()}
		if err := l.store.Put(ctx, storeKey, fresh, l.ttl(fresh.ResetTime, now)); err != nil {
			l.logger.Warn("rate limit store write failed, failing open", "key", storeKey, "error", err)
		}
		return Result{Allowed: true, Limit: l.max, Remaining: l.max - 1, ResetTime: time.UnixMilli(fresh.ResetTime)}
	}

	reset := time.UnixMilli(rec.ResetTime)
	if rec.Count >= int64(l.max) {
		return Result{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
		}
	}

	rec.Count++
	if err := l.store.Put(ctx, storeKey, *rec, l.ttl(rec.ResetTime, now)); err != nil {
		l.logger.Warn("rate limit store write failed, failing open", "key", storeKey, "error", err)
	}
	remaining := l.max - int(rec.Count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: l.max, Remaining: remaining, ResetTime: reset}
}

// ttl computes the record TTL: the remaining window rounded up to whole
// seconds, never below one second.
func (l *Limiter) ttl(resetMs int64, now time.Time) time.Duration {
	remaining := resetMs - now.UnixMilli()
	if remaining <= 0 {
		return time.Second
	}
	secs := (remaining + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// SetHeaders decorates w with the draft RateLimit response fields; on denial
// it also sets Retry-After.
func SetHeaders(w http.ResponseWriter, res Result, window time.Duration) {
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("RateLimit-Reset", strconv.FormatInt(int64(time.Until(res.ResetTime).Seconds())+1, 10))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", res.Limit, int(window.Seconds())))
	if !res.Allowed {
		secs := int64(res.RetryAfter.Seconds()) + 1
		if secs < 1 {
			secs = 1
		}
		h.Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// ClientIP extracts the client address for limiter keying: the first
// X-Forwarded-For hop, then X-Real-IP, then "unknown".
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	return "unknown"
}
