// Package session implements the server-side session registry: each session
// exclusively owns one live adapter, a signing key, and tenancy metadata.
// Sessions are created on connect, touched on every authenticated call, and
// evicted after the configured idle timeout.
package session

import (
	"sync"
	"time"

	"github.com/sluicedb/sluice/internal/adapter"
)

// Session binds a live adapter to its signing key and tenancy metadata.
// The immutable fields are set at creation; mutable state is accessed
// through methods.
type Session struct {
	ID         string
	Kind       adapter.Kind
	Adapter    adapter.Adapter
	CreatedAt  time.Time
	SigningKey string // hex-encoded 32-byte HMAC secret
	UserID     string

	IsIsolated          bool
	IsDefaultConnection bool
	UserDatabase        string

	// ExecMu serializes adapter calls. The browser client queues its own
	// requests, but the server still refuses to interleave two calls on
	// one adapter.
	ExecMu sync.Mutex

	mu               sync.Mutex
	lastActivity     time.Time
	allowDestructive bool
}

// Touch records activity, deferring idle eviction.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent authenticated call.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AllowDestructive reports whether destructive-operation simulation is
// bypassed for this session.
func (s *Session) AllowDestructive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowDestructive
}

func (s *Session) setAllowDestructive(allow bool) {
	s.mu.Lock()
	s.allowDestructive = allow
	s.mu.Unlock()
}
