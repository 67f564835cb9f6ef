package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
)

type fakeAdapter struct {
	kind adapter.Kind

	mu          sync.Mutex
	connected   bool
	connectURL  string
	queries     []string
	txActive    bool
	failConnect bool
	queryRows   int
}

func (f *fakeAdapter) Connect(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect {
		return errors.New("connect refused")
	}
	f.connected = true
	f.connectURL = url
	return nil
}

func (f *fakeAdapter) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeAdapter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) ExecuteQuery(_ context.Context, query, _ string, _ model.QueryOptions) (*model.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return &model.QueryResult{RowCount: f.queryRows}, nil
}

func (f *fakeAdapter) GetDatabases(context.Context) ([]model.DatabaseInfo, error) { return nil, nil }
func (f *fakeAdapter) GetTables(context.Context, string) ([]model.TableInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) GetColumns(context.Context, string, string) ([]model.ColumnInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) GetServerVersion(context.Context) (string, error) { return "fake 1.0", nil }

func (f *fakeAdapter) BeginTransaction(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txActive = true
	return nil
}

func (f *fakeAdapter) CommitTransaction(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txActive = false
	return nil
}

func (f *fakeAdapter) RollbackTransaction(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txActive = false
	return nil
}

func (f *fakeAdapter) IsTransactionActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txActive
}

func (f *fakeAdapter) CleanupDatabase(context.Context, string) error { return nil }
func (f *fakeAdapter) DropAllUserDatabases(context.Context) error    { return nil }
func (f *fakeAdapter) Kind() adapter.Kind                            { return f.kind }

func testManager(t *testing.T, timeout time.Duration) (*Manager, *[]*fakeAdapter) {
	t.Helper()
	var created []*fakeAdapter
	var mu sync.Mutex

	reg := adapter.NewRegistry()
	for _, k := range []adapter.Kind{adapter.KindPostgres, adapter.KindMySQL, adapter.KindMongo} {
		kind := k
		reg.Register(kind, func() adapter.Adapter {
			f := &fakeAdapter{kind: kind}
			mu.Lock()
			created = append(created, f)
			mu.Unlock()
			return f
		})
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(reg, timeout, logger)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, &created
}

func TestCreateAndGet(t *testing.T) {
	m, _ := testManager(t, time.Minute)

	s, err := m.Create(context.Background(), CreateParams{
		Kind: adapter.KindMongo,
		URL:  "mongodb://localhost:27017",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" || len(s.SigningKey) != 64 {
		t.Errorf("session missing id or 32-byte signing key: id=%q keylen=%d", s.ID, len(s.SigningKey))
	}
	if !s.Adapter.IsConnected() {
		t.Error("adapter not connected after Create")
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestCreateReplacesUserSession(t *testing.T) {
	m, created := testManager(t, time.Minute)
	ctx := context.Background()

	first, err := m.Create(ctx, CreateParams{
		Kind: adapter.KindMongo, URL: "mongodb://localhost", UserID: "alice",
	})
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := m.Create(ctx, CreateParams{
		Kind: adapter.KindMongo, URL: "mongodb://localhost", UserID: "alice",
	})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}

	if _, err := m.Get(first.ID); !errors.Is(err, ErrNotFound) {
		t.Error("first session still live after replacement")
	}
	if (*created)[0].IsConnected() {
		t.Error("first adapter not disconnected")
	}
	if !second.Adapter.IsConnected() {
		t.Error("second adapter not connected")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
}

func TestIsolationProvisioning(t *testing.T) {
	m, created := testManager(t, time.Minute)

	s, err := m.Create(context.Background(), CreateParams{
		Kind:              adapter.KindPostgres,
		URL:               "postgres://app:pw@db:5432/shared",
		UserID:            "alice",
		Isolated:          true,
		DefaultConnection: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !s.IsIsolated {
		t.Fatal("session not isolated")
	}
	want := IsolationDatabase("alice")
	if s.UserDatabase != want {
		t.Errorf("UserDatabase = %q, want %q", s.UserDatabase, want)
	}
	if !strings.HasPrefix(want, "u_") || len(want) != 34 {
		t.Errorf("isolation name %q not u_<32 hex>", want)
	}

	// First adapter is the provisioning connection against the admin DB.
	prov := (*created)[0]
	if !strings.Contains(prov.connectURL, "/postgres") {
		t.Errorf("provisioning url = %q, want admin database", prov.connectURL)
	}
	if len(prov.queries) == 0 || !strings.Contains(prov.queries[len(prov.queries)-1], want) {
		t.Errorf("provisioning queries = %v, want CREATE DATABASE %s", prov.queries, want)
	}
	if prov.IsConnected() {
		t.Error("provisioning adapter left connected")
	}

	// The session adapter connects to the isolation database.
	if !strings.HasSuffix(s.Adapter.(*fakeAdapter).connectURL, "/"+want) {
		t.Errorf("session url = %q, want path /%s", s.Adapter.(*fakeAdapter).connectURL, want)
	}
}

func TestIsolationDowngradeOnProvisionFailure(t *testing.T) {
	var calls int
	reg := adapter.NewRegistry()
	reg.Register(adapter.KindPostgres, func() adapter.Adapter {
		calls++
		// First instance (provisioning) refuses to connect.
		return &fakeAdapter{kind: adapter.KindPostgres, failConnect: calls == 1}
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(reg, time.Minute, logger)
	defer m.Shutdown(context.Background())

	s, err := m.Create(context.Background(), CreateParams{
		Kind:              adapter.KindPostgres,
		URL:               "postgres://app:pw@db:5432/shared",
		UserID:            "alice",
		Isolated:          true,
		DefaultConnection: true,
	})
	if err != nil {
		t.Fatalf("Create should degrade, not fail: %v", err)
	}
	if s.IsIsolated || s.UserDatabase != "" {
		t.Errorf("session should be downgraded: isolated=%v db=%q", s.IsIsolated, s.UserDatabase)
	}
	if got := s.Adapter.(*fakeAdapter).connectURL; got != "postgres://app:pw@db:5432/shared" {
		t.Errorf("downgraded session url = %q, want original", got)
	}
}

func TestNoIsolationForMongo(t *testing.T) {
	m, _ := testManager(t, time.Minute)

	s, err := m.Create(context.Background(), CreateParams{
		Kind:              adapter.KindMongo,
		URL:               "mongodb://localhost",
		UserID:            "alice",
		Isolated:          true,
		DefaultConnection: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.IsIsolated {
		t.Error("mongo session must never be isolated")
	}
}

func TestSetAllowDestructive(t *testing.T) {
	m, _ := testManager(t, time.Minute)
	ctx := context.Background()

	def, _ := m.Create(ctx, CreateParams{
		Kind: adapter.KindMongo, URL: "mongodb://localhost", DefaultConnection: true,
	})
	if err := m.SetAllowDestructive(def.ID, true); err != nil {
		t.Fatalf("SetAllowDestructive on default: %v", err)
	}
	if !def.AllowDestructive() {
		t.Error("flag not set")
	}

	personal, _ := m.Create(ctx, CreateParams{
		Kind: adapter.KindMongo, URL: "mongodb://example.com",
	})
	if err := m.SetAllowDestructive(personal.ID, true); err == nil {
		t.Error("SetAllowDestructive on personal connection should fail")
	}
}

func TestCloseRollsBackTransaction(t *testing.T) {
	m, _ := testManager(t, time.Minute)
	ctx := context.Background()

	s, _ := m.Create(ctx, CreateParams{Kind: adapter.KindPostgres, URL: "postgres://x"})
	fa := s.Adapter.(*fakeAdapter)
	_ = fa.BeginTransaction(ctx)

	if err := m.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fa.IsTransactionActive() {
		t.Error("transaction still active after Close")
	}
	if fa.IsConnected() {
		t.Error("adapter still connected after Close")
	}
	if err := m.Close(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double Close = %v, want ErrNotFound", err)
	}
}

func TestEvictIdle(t *testing.T) {
	m, _ := testManager(t, 10*time.Millisecond)
	ctx := context.Background()

	s, _ := m.Create(ctx, CreateParams{Kind: adapter.KindMongo, URL: "mongodb://localhost"})
	time.Sleep(20 * time.Millisecond)
	m.evictIdle()

	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Error("idle session not evicted")
	}
}

func TestTouchDefersEviction(t *testing.T) {
	m, _ := testManager(t, 50*time.Millisecond)
	ctx := context.Background()

	s, _ := m.Create(ctx, CreateParams{Kind: adapter.KindMongo, URL: "mongodb://localhost"})
	time.Sleep(30 * time.Millisecond)
	if _, err := m.Get(s.ID); err != nil { // Get touches
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	m.evictIdle()

	if _, err := m.Get(s.ID); err != nil {
		t.Error("recently touched session evicted")
	}
}

func TestIsolationDatabaseStable(t *testing.T) {
	a, b := IsolationDatabase("alice"), IsolationDatabase("alice")
	if a != b {
		t.Errorf("not deterministic: %q vs %q", a, b)
	}
	if IsolationDatabase("bob") == a {
		t.Error("different users share an isolation database")
	}
}
