// Package mysql implements the MySQL adapter on a bounded sqlx pool over
// go-sql-driver. Connection strings are accepted in both mysql:// URL and
// native DSN form.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/sluicedb/sluice/internal/adapter"
)

const (
	maxOpenConns   = 5
	connMaxIdle    = 30 * time.Second
	connectTimeout = 10 * time.Second
	healthInterval = 60 * time.Second
)

var (
	errNotConnected = errors.New("mysql adapter is not connected")
	databaseName    = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Adapter drives one MySQL server. Not safe for concurrent use; the owning
// session serializes calls.
type Adapter struct {
	logger       *slog.Logger
	queryTimeout time.Duration
	defaultLimit int

	mu         sync.Mutex
	db         *sqlx.DB
	tx         *sqlx.Tx
	healthStop chan struct{}
}

// NewFactory returns an adapter.Factory producing MySQL adapters with the
// given statement timeout and default row limit.
func NewFactory(logger *slog.Logger, queryTimeout time.Duration, defaultLimit int) adapter.Factory {
	return func() adapter.Adapter {
		return &Adapter{
			logger:       logger.With("adapter", "mysql"),
			queryTimeout: queryTimeout,
			defaultLimit: defaultLimit,
		}
	}
}

func (a *Adapter) Kind() adapter.Kind { return adapter.KindMySQL }

// Connect converts the URL to DSN form, opens the pool, and starts the
// periodic health ping.
func (a *Adapter) Connect(ctx context.Context, url string) error {
	dsn, err := adapter.MySQLDSN(url)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", errors.New(adapter.Redact(err.Error())))
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxIdleTime(connMaxIdle)

	a.mu.Lock()
	a.db = db
	a.healthStop = make(chan struct{})
	a.mu.Unlock()

	go a.healthLoop(a.healthStop)
	return nil
}

func (a *Adapter) healthLoop(stop chan struct{}) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			db := a.pool()
			if db == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := db.PingContext(ctx)
			cancel()
			if err != nil {
				a.logger.Warn("health check failed, disconnecting pool", "error", adapter.Redact(err.Error()))
				_ = a.Disconnect(context.Background())
				return
			}
		}
	}
}

// Disconnect rolls back any active transaction and closes the pool.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	db, tx, stop := a.db, a.tx, a.healthStop
	a.db, a.tx, a.healthStop = nil, nil, nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if tx != nil {
		if err := tx.Rollback(); err != nil {
			a.logger.Warn("rollback on disconnect", "error", err)
		}
	}
	if db == nil {
		return nil
	}
	return db.Close()
}

func (a *Adapter) IsConnected() bool { return a.pool() != nil }

func (a *Adapter) pool() *sqlx.DB {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db
}

func (a *Adapter) transaction() *sqlx.Tx {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tx
}

// GetServerVersion returns the server's VERSION() string.
func (a *Adapter) GetServerVersion(ctx context.Context) (string, error) {
	db := a.pool()
	if db == nil {
		return "", errNotConnected
	}
	var version string
	if err := db.GetContext(ctx, &version, "SELECT VERSION()"); err != nil {
		return "", fmt.Errorf("server version: %w", err)
	}
	return version, nil
}

func (a *Adapter) BeginTransaction(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return errNotConnected
	}
	if a.tx != nil {
		return errors.New("transaction already active")
	}
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	a.tx = tx
	return nil
}

func (a *Adapter) CommitTransaction(context.Context) error {
	a.mu.Lock()
	tx := a.tx
	a.tx = nil
	a.mu.Unlock()
	if tx == nil {
		return errors.New("no active transaction")
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (a *Adapter) RollbackTransaction(context.Context) error {
	a.mu.Lock()
	tx := a.tx
	a.tx = nil
	a.mu.Unlock()
	if tx == nil {
		return errors.New("no active transaction")
	}
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (a *Adapter) IsTransactionActive() bool { return a.transaction() != nil }
