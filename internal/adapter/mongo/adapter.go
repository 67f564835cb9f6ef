// Package mongo implements the MongoDB adapter: shell statements parsed by
// mongoshell are dispatched against the official driver. Pooling is the
// driver's; each session owns one client.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sluicedb/sluice/internal/adapter"
)

const (
	connectTimeout = 10 * time.Second
	healthInterval = 60 * time.Second
)

var errNotConnected = errors.New("mongodb adapter is not connected")

// Adapter drives one MongoDB deployment. Not safe for concurrent use; the
// owning session serializes calls.
type Adapter struct {
	logger       *slog.Logger
	queryTimeout time.Duration
	defaultLimit int
	sampleSize   int

	mu         sync.Mutex
	client     *mongo.Client
	sess       mongo.Session
	defaultDB  string
	healthStop chan struct{}
}

// NewFactory returns an adapter.Factory producing MongoDB adapters.
// sampleSize bounds the documents scanned for schema inference.
func NewFactory(logger *slog.Logger, queryTimeout time.Duration, defaultLimit, sampleSize int) adapter.Factory {
	return func() adapter.Adapter {
		return &Adapter{
			logger:       logger.With("adapter", "mongodb"),
			queryTimeout: queryTimeout,
			defaultLimit: defaultLimit,
			sampleSize:   sampleSize,
		}
	}
}

func (a *Adapter) Kind() adapter.Kind { return adapter.KindMongo }

// Connect establishes and pings the client, remembering the URI's default
// database for statements that never select one.
func (a *Adapter) Connect(ctx context.Context, uri string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	sanitized := adapter.SanitizeURL(uri)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(sanitized).SetConnectTimeout(connectTimeout))
	if err != nil {
		return fmt.Errorf("mongodb connect: %w", errors.New(adapter.Redact(err.Error())))
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("mongodb ping: %w", errors.New(adapter.Redact(err.Error())))
	}

	a.mu.Lock()
	a.client = client
	a.defaultDB = defaultDatabase(sanitized)
	a.healthStop = make(chan struct{})
	a.mu.Unlock()

	go a.healthLoop(a.healthStop)
	return nil
}

func defaultDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "test"
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		return name
	}
	return "test"
}

// healthLoop pings every minute. Unlike the SQL adapters the client is kept:
// the driver reconnects on its own, so a failed ping is only logged.
func (a *Adapter) healthLoop(stop chan struct{}) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			client := a.connection()
			if client == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := client.Ping(ctx, readpref.Primary())
			cancel()
			if err != nil {
				a.logger.Warn("health check failed", "error", adapter.Redact(err.Error()))
			}
		}
	}
}

// Disconnect aborts any active transaction and tears the client down.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	client, sess, stop := a.client, a.sess, a.healthStop
	a.client, a.sess, a.healthStop = nil, nil, nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if sess != nil {
		if err := sess.AbortTransaction(ctx); err != nil {
			a.logger.Warn("abort transaction on disconnect", "error", err)
		}
		sess.EndSession(ctx)
	}
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

func (a *Adapter) IsConnected() bool { return a.connection() != nil }

func (a *Adapter) connection() *mongo.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *Adapter) session() mongo.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

// opCtx threads the transaction session into driver calls while one is open.
func (a *Adapter) opCtx(ctx context.Context) context.Context {
	if sess := a.session(); sess != nil {
		return mongo.NewSessionContext(ctx, sess)
	}
	return ctx
}

// GetServerVersion reads the version from buildInfo.
func (a *Adapter) GetServerVersion(ctx context.Context) (string, error) {
	client := a.connection()
	if client == nil {
		return "", errNotConnected
	}
	var info struct {
		Version string `bson:"version"`
	}
	cmd := bson.D{{Key: "buildInfo", Value: 1}}
	if err := client.Database("admin").RunCommand(ctx, cmd).Decode(&info); err != nil {
		return "", fmt.Errorf("server version: %w", err)
	}
	return info.Version, nil
}

// BeginTransaction opens a driver session with a transaction. At most one
// transaction may be active.
func (a *Adapter) BeginTransaction(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return errNotConnected
	}
	if a.sess != nil {
		return errors.New("transaction already active")
	}
	sess, err := a.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return fmt.Errorf("start transaction: %w", err)
	}
	a.sess = sess
	return nil
}

func (a *Adapter) CommitTransaction(ctx context.Context) error {
	a.mu.Lock()
	sess := a.sess
	a.sess = nil
	a.mu.Unlock()
	if sess == nil {
		return errors.New("no active transaction")
	}
	defer sess.EndSession(ctx)
	if err := sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (a *Adapter) RollbackTransaction(ctx context.Context) error {
	a.mu.Lock()
	sess := a.sess
	a.sess = nil
	a.mu.Unlock()
	if sess == nil {
		return errors.New("no active transaction")
	}
	defer sess.EndSession(ctx)
	if err := sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (a *Adapter) IsTransactionActive() bool { return a.session() != nil }
