package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sluicedb/sluice/internal/ratelimit"
)

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q", respID)
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRequestID(r.Context()); got != clientID {
			t.Errorf("context ID = %q, want %q", got, clientID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != clientID {
		t.Errorf("response X-Request-ID = %q, want %q", got, clientID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty ID, got %q", id)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/x", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rr.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	for _, header := range []string{
		"Content-Security-Policy",
		"Strict-Transport-Security",
		"X-Content-Type-Options",
		"Referrer-Policy",
	} {
		if rr.Header().Get(header) == "" {
			t.Errorf("missing %s header", header)
		}
	}
}

func TestBodyLimitRejectsOversized(t *testing.T) {
	handler := BodyLimit(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("a", 64)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader("short"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

type denyStore struct{ count int64 }

func (s *denyStore) Get(context.Context, string) (*ratelimit.Record, error) {
	return &ratelimit.Record{Count: s.count, ResetTime: time.Now().Add(time.Minute).UnixMilli()}, nil
}
func (s *denyStore) Put(context.Context, string, ratelimit.Record, time.Duration) error { return nil }

func TestLimitDenies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewLimiter(&denyStore{count: 100}, "rl:test", 100, time.Minute, logger)

	handler := Limit(limiter, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/query/execute", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if !strings.Contains(rr.Body.String(), `"success":false`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}
