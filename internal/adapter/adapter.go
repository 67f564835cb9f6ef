// Package adapter defines the uniform contract the three database engines
// are driven through. Each engine package (postgres, mysql, mongo) provides
// a concrete Adapter; the session manager owns exactly one live Adapter per
// session and serializes all calls through it.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sluicedb/sluice/internal/model"
)

// Kind identifies a supported database engine.
type Kind string

const (
	KindPostgres Kind = "postgresql"
	KindMySQL    Kind = "mysql"
	KindMongo    Kind = "mongodb"
)

// ParseKind validates a client-supplied engine name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindPostgres:
		return KindPostgres, nil
	case KindMySQL:
		return KindMySQL, nil
	case KindMongo:
		return KindMongo, nil
	}
	return "", fmt.Errorf("unsupported database kind %q (expected postgresql, mysql, or mongodb)", s)
}

// ValidURL reports whether url carries the scheme prefix expected for the kind.
func (k Kind) ValidURL(url string) bool {
	lower := strings.ToLower(url)
	switch k {
	case KindPostgres:
		return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
	case KindMySQL:
		return strings.HasPrefix(lower, "mysql://")
	case KindMongo:
		return strings.HasPrefix(lower, "mongodb://") || strings.HasPrefix(lower, "mongodb+srv://")
	}
	return false
}

// Adapter is the interface every engine implementation must satisfy.
// Implementations are NOT safe for concurrent use; a Session owns its
// adapter exclusively and serializes calls through it. At most one
// transaction may be in flight at any time.
type Adapter interface {
	Connect(ctx context.Context, url string) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// ExecuteQuery runs one query (a SQL batch or a single Mongo shell
	// statement) and returns a normalized result. database selects the
	// schema/database/sibling-DB scope when non-empty.
	ExecuteQuery(ctx context.Context, query, database string, opts model.QueryOptions) (*model.QueryResult, error)

	GetDatabases(ctx context.Context) ([]model.DatabaseInfo, error)
	GetTables(ctx context.Context, database string) ([]model.TableInfo, error)
	GetColumns(ctx context.Context, database, object string) ([]model.ColumnInfo, error)
	GetServerVersion(ctx context.Context) (string, error)

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	IsTransactionActive() bool

	// CleanupDatabase drops one database. DropAllUserDatabases drops every
	// non-system database; per-database errors are logged, not returned.
	CleanupDatabase(ctx context.Context, database string) error
	DropAllUserDatabases(ctx context.Context) error

	Kind() Kind
}

// Factory creates a fresh, unconnected Adapter.
type Factory func() Adapter

// Registry maps engine kinds to adapter factories. The concrete engine
// packages are registered once at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// Register installs a factory for a kind, replacing any previous one.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// New instantiates an unconnected adapter for the kind.
func (r *Registry) New(kind Kind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %q", kind)
	}
	return factory(), nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	return kinds
}
