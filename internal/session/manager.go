package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
)

// ErrNotFound is returned when a session ID is unknown or already evicted.
var ErrNotFound = errors.New("session not found or expired")

// Manager owns all live sessions. It enforces one session per user,
// provisions isolation databases for default SQL connections, and evicts
// idle sessions.
type Manager struct {
	registry    *adapter.Registry
	idleTimeout time.Duration
	logger      *slog.Logger

	// createMu serializes session creation so that two concurrent connects
	// for the same user cannot both pass the lookup and leak an adapter.
	createMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string // userID -> sessionID

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a Manager. Call StartEviction to begin the idle sweep
// and Shutdown to close every session on exit.
func NewManager(registry *adapter.Registry, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		registry:    registry,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    make(map[string]*Session),
		byUser:      make(map[string]string),
		stop:        make(chan struct{}),
	}
}

// CreateParams describes a connect request after URL resolution: URL is the
// full connection string (a configured default or a user-supplied one).
type CreateParams struct {
	Kind              adapter.Kind
	URL               string
	UserID            string
	Isolated          bool
	DefaultConnection bool
}

// Create connects a new adapter and registers a session for it. If the user
// already holds a session it is closed first, so a user never owns two live
// adapters.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if p.UserID != "" {
		if prev := m.lookupUser(p.UserID); prev != nil {
			m.logger.Info("closing previous session for user",
				"session_id", prev.ID, "kind", prev.Kind)
			if err := m.Close(ctx, prev.ID); err != nil {
				m.logger.Warn("closing previous session", "error", err)
			}
		}
	}

	// Isolation only applies to the shared SQL defaults. MongoDB scopes
	// users by database natively, and personal connections already carry
	// the caller's own credentials.
	isolated := p.Isolated && p.DefaultConnection && p.UserID != "" && p.Kind != adapter.KindMongo
	userDB := ""
	connectURL := p.URL
	if isolated {
		userDB = IsolationDatabase(p.UserID)
		if err := m.provision(ctx, p.Kind, p.URL, userDB); err != nil {
			// Degrade to a shared session rather than failing the
			// connect outright.
			m.logger.Warn("isolation database provisioning failed, continuing without isolation",
				"kind", p.Kind, "database", userDB, "error", err)
			isolated = false
			userDB = ""
		} else if rewritten, err := adapter.WithDatabase(p.URL, userDB); err != nil {
			m.logger.Warn("rewriting connection url for isolation", "error", err)
			isolated = false
			userDB = ""
		} else {
			connectURL = rewritten
		}
	}

	ad, err := m.registry.New(p.Kind)
	if err != nil {
		return nil, err
	}
	if err := ad.Connect(ctx, connectURL); err != nil {
		return nil, fmt.Errorf("connecting %s: %w", p.Kind, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		_ = ad.Disconnect(ctx)
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	s := &Session{
		ID:                  uuid.NewString(),
		Kind:                p.Kind,
		Adapter:             ad,
		CreatedAt:           time.Now(),
		SigningKey:          hex.EncodeToString(key),
		UserID:              p.UserID,
		IsIsolated:          isolated,
		IsDefaultConnection: p.DefaultConnection,
		UserDatabase:        userDB,
	}
	s.Touch()

	m.mu.Lock()
	m.sessions[s.ID] = s
	if p.UserID != "" {
		m.byUser[p.UserID] = s.ID
	}
	m.mu.Unlock()

	m.logger.Info("session created",
		"session_id", s.ID, "kind", s.Kind,
		"isolated", s.IsIsolated, "default_connection", s.IsDefaultConnection)
	return s, nil
}

// Get returns the session and refreshes its idle clock.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// SetAllowDestructive toggles destructive-operation simulation for a
// session. Only sessions on a default connection carry the flag; personal
// connections always run destructive statements for real.
func (m *Manager) SetAllowDestructive(id string, allow bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if !s.IsDefaultConnection {
		return errors.New("destructive mode only applies to default connections")
	}
	s.setAllowDestructive(allow)
	return nil
}

// Close disconnects the session's adapter and removes it from the registry.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if s.UserID != "" && m.byUser[s.UserID] == id {
			delete(m.byUser, s.UserID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if s.Adapter.IsTransactionActive() {
		if err := s.Adapter.RollbackTransaction(ctx); err != nil {
			m.logger.Warn("rolling back on close", "session_id", id, "error", err)
		}
	}
	if err := s.Adapter.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting session %s: %w", id, err)
	}
	m.logger.Info("session closed", "session_id", id, "kind", s.Kind)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartEviction launches the idle sweep. Sessions whose last activity is
// older than the idle timeout are closed.
func (m *Manager) StartEviction(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.evictIdle()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("evicting idle session", "session_id", id, "error", err)
		} else {
			m.logger.Info("evicted idle session", "session_id", id)
		}
		cancel()
	}
}

// Shutdown stops the eviction loop and closes every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("closing session on shutdown", "session_id", id, "error", err)
		}
	}
}

func (m *Manager) lookupUser(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byUser[userID]; ok {
		return m.sessions[id]
	}
	return nil
}

// IsolationDatabase derives the per-user database name: a stable digest of
// the user ID, safe as an unquoted identifier in both engines.
func IsolationDatabase(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "u_" + hex.EncodeToString(sum[:])[:32]
}

// provision creates the isolation database through a short-lived admin
// connection. The name is hex-derived so interpolation is safe.
func (m *Manager) provision(ctx context.Context, kind adapter.Kind, url, userDB string) error {
	tmp, err := m.registry.New(kind)
	if err != nil {
		return err
	}
	adminURL, err := adapter.AdminURL(kind, url)
	if err != nil {
		return err
	}
	if err := tmp.Connect(ctx, adminURL); err != nil {
		return fmt.Errorf("admin connect: %w", err)
	}
	defer func() {
		if err := tmp.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnecting provisioning adapter", "error", err)
		}
	}()

	opts := model.QueryOptions{}
	switch kind {
	case adapter.KindPostgres:
		check := fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname = '%s'", userDB)
		res, err := tmp.ExecuteQuery(ctx, check, "", opts)
		if err != nil {
			return fmt.Errorf("checking database: %w", err)
		}
		if res.RowCount > 0 {
			return nil
		}
		create := fmt.Sprintf(`CREATE DATABASE "%s"`, userDB)
		if _, err := tmp.ExecuteQuery(ctx, create, "", opts); err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
	case adapter.KindMySQL:
		create := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", userDB)
		if _, err := tmp.ExecuteQuery(ctx, create, "", opts); err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
	default:
		return fmt.Errorf("isolation not supported for %s", kind)
	}
	return nil
}
