package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store used to test limiter behavior without Redis.
type memStore struct {
	mu   sync.Mutex
	recs map[string]Record
	ttls map[string]time.Duration
	fail bool
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record), ttls: make(map[string]time.Duration)}
}

func (s *memStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	rec, ok := s.recs[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) Put(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.recs[key] = rec
	s.ttls[key] = ttl
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLimiterFixedWindow(t *testing.T) {
	store := newMemStore()
	l := NewLimiter(store, "query", 3, time.Minute, discard())

	ctx := context.Background()
	prevRemaining := 4
	for i := 0; i < 3; i++ {
		res := l.Allow(ctx, "1.2.3.4")
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Remaining >= prevRemaining {
			t.Errorf("remaining not strictly decreasing: %d then %d", prevRemaining, res.Remaining)
		}
		prevRemaining = res.Remaining
	}

	res := l.Allow(ctx, "1.2.3.4")
	if res.Allowed {
		t.Fatal("4th request should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("denied result should carry RetryAfter, got %v", res.RetryAfter)
	}

	// A different key has its own window.
	if res := l.Allow(ctx, "5.6.7.8"); !res.Allowed {
		t.Error("separate key should not share the window")
	}
}

func TestLimiterWindowReset(t *testing.T) {
	store := newMemStore()
	l := NewLimiter(store, "conn", 1, time.Minute, discard())

	base := time.Now()
	l.now = func() time.Time { return base }

	ctx := context.Background()
	if res := l.Allow(ctx, "ip"); !res.Allowed {
		t.Fatal("first request should pass")
	}
	if res := l.Allow(ctx, "ip"); res.Allowed {
		t.Fatal("second request in window should be denied")
	}

	// Advance past the reset time; the window restarts.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if res := l.Allow(ctx, "ip"); !res.Allowed {
		t.Fatal("request after window expiry should pass")
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	store := newMemStore()
	store.fail = true
	l := NewLimiter(store, "query", 1, time.Minute, discard())

	for i := 0; i < 5; i++ {
		if res := l.Allow(context.Background(), "ip"); !res.Allowed {
			t.Fatal("limiter must fail open when the store is down")
		}
	}
}

func TestLimiterTTLFloor(t *testing.T) {
	store := newMemStore()
	l := NewLimiter(store, "q", 10, time.Minute, discard())

	base := time.Now()
	l.now = func() time.Time { return base }
	l.Allow(context.Background(), "ip")

	// Re-check with the window nearly expired: rewrite keeps TTL >= 1s.
	l.now = func() time.Time { return base.Add(time.Minute - 10*time.Millisecond) }
	l.Allow(context.Background(), "ip")

	if ttl := store.ttls["q:ip"]; ttl < time.Second {
		t.Errorf("TTL below 1s: %v", ttl)
	}
}

func TestSetHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetHeaders(w, Result{
		Allowed:    false,
		Limit:      100,
		Remaining:  0,
		ResetTime:  time.Now().Add(30 * time.Second),
		RetryAfter: 30 * time.Second,
	}, time.Minute)

	if got := w.Header().Get("RateLimit-Limit"); got != "100" {
		t.Errorf("RateLimit-Limit = %q", got)
	}
	if got := w.Header().Get("RateLimit-Policy"); got != "100;w=60" {
		t.Errorf("RateLimit-Policy = %q", got)
	}
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Error("Retry-After missing on denial")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded single", map[string]string{"X-Forwarded-For": "10.0.0.1"}, "10.0.0.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 192.168.0.1"}, "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-Ip": "10.0.0.2"}, "10.0.0.2"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-Ip": "10.0.0.2"}, "10.0.0.1"},
		{"none", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
