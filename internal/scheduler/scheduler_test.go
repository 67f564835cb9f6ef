package scheduler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/config"
	"github.com/sluicedb/sluice/internal/model"
)

type cleanupFake struct {
	kind adapter.Kind

	mu         sync.Mutex
	connectURL string
	connected  bool
	dropped    bool
	failDrop   bool
}

func (f *cleanupFake) Connect(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectURL = url
	f.connected = true
	return nil
}

func (f *cleanupFake) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *cleanupFake) IsConnected() bool { return f.connected }

func (f *cleanupFake) ExecuteQuery(context.Context, string, string, model.QueryOptions) (*model.QueryResult, error) {
	return &model.QueryResult{}, nil
}
func (f *cleanupFake) GetDatabases(context.Context) ([]model.DatabaseInfo, error) { return nil, nil }
func (f *cleanupFake) GetTables(context.Context, string) ([]model.TableInfo, error) {
	return nil, nil
}
func (f *cleanupFake) GetColumns(context.Context, string, string) ([]model.ColumnInfo, error) {
	return nil, nil
}
func (f *cleanupFake) GetServerVersion(context.Context) (string, error) { return "", nil }
func (f *cleanupFake) BeginTransaction(context.Context) error           { return nil }
func (f *cleanupFake) CommitTransaction(context.Context) error          { return nil }
func (f *cleanupFake) RollbackTransaction(context.Context) error        { return nil }
func (f *cleanupFake) IsTransactionActive() bool                        { return false }
func (f *cleanupFake) CleanupDatabase(context.Context, string) error    { return nil }

func (f *cleanupFake) DropAllUserDatabases(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDrop {
		return context.DeadlineExceeded
	}
	f.dropped = true
	return nil
}

func (f *cleanupFake) Kind() adapter.Kind { return f.kind }

func TestRunNow(t *testing.T) {
	fakes := map[adapter.Kind]*cleanupFake{}
	reg := adapter.NewRegistry()
	for _, k := range []adapter.Kind{adapter.KindPostgres, adapter.KindMongo} {
		kind := k
		f := &cleanupFake{kind: kind}
		fakes[kind] = f
		reg.Register(kind, func() adapter.Adapter { return f })
	}

	defaults := []config.DefaultDatabase{
		{Kind: adapter.KindPostgres, URL: "postgres://admin:pw@db:5432/shared"},
		{Kind: adapter.KindMongo, URL: "mongodb://db:27017"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(reg, defaults, logger)
	c.RunNow(context.Background())

	pg := fakes[adapter.KindPostgres]
	if !pg.dropped {
		t.Error("postgres user databases not dropped")
	}
	if !strings.HasSuffix(pg.connectURL, "/postgres") {
		t.Errorf("postgres cleanup url = %q, want admin database", pg.connectURL)
	}
	if pg.IsConnected() {
		t.Error("cleanup adapter left connected")
	}
	if !fakes[adapter.KindMongo].dropped {
		t.Error("mongo user databases not dropped")
	}
}

func TestRunNowContinuesOnFailure(t *testing.T) {
	reg := adapter.NewRegistry()
	pg := &cleanupFake{kind: adapter.KindPostgres, failDrop: true}
	mg := &cleanupFake{kind: adapter.KindMongo}
	reg.Register(adapter.KindPostgres, func() adapter.Adapter { return pg })
	reg.Register(adapter.KindMongo, func() adapter.Adapter { return mg })

	defaults := []config.DefaultDatabase{
		{Kind: adapter.KindPostgres, URL: "postgres://db:5432/shared"},
		{Kind: adapter.KindMongo, URL: "mongodb://db:27017"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	New(reg, defaults, logger).RunNow(context.Background())

	if !mg.dropped {
		t.Error("failure on one server aborted the pass")
	}
}
