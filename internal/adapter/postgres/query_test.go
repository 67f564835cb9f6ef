package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
)

func TestHumanType(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"INT4", "integer"},
		{"int8", "bigint"},
		{"TIMESTAMPTZ", "timestamptz"},
		{"JSONB", "jsonb"},
		{"", "unknown"},
		{"TSVECTOR", "unknown(TSVECTOR)"},
	}
	for _, tt := range tests {
		if got := humanType(tt.code); got != tt.want {
			t.Errorf("humanType(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent(`u_abc`); got != `"u_abc"` {
		t.Errorf("quoteIdent = %q", got)
	}
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("quoteIdent escaping = %q", got)
	}
}

// routeRecorder satisfies runner and records which execution surface a
// statement was routed to.
type routeRecorder struct {
	queried  bool
	executed bool
	affected int64
}

func (r *routeRecorder) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	r.queried = true
	return nil, errors.New("no backing rows")
}

func (r *routeRecorder) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	r.executed = true
	return rowsAffected(r.affected), nil
}

type rowsAffected int64

func (n rowsAffected) LastInsertId() (int64, error) { return 0, nil }
func (n rowsAffected) RowsAffected() (int64, error) { return int64(n), nil }

func TestStatementRouting(t *testing.T) {
	a := &Adapter{}

	t.Run("returning clause reads rows", func(t *testing.T) {
		run := &routeRecorder{}
		_, _, err := a.runStatement(context.Background(), run, "INSERT INTO t (a) VALUES (1) RETURNING id")
		if err == nil {
			t.Fatal("expected the recorder's query error")
		}
		if !run.queried || run.executed {
			t.Errorf("queried=%v executed=%v, want the query path", run.queried, run.executed)
		}
	})

	t.Run("returning inside a literal reports affected rows", func(t *testing.T) {
		run := &routeRecorder{affected: 3}
		res, rowProducing, err := a.runStatement(context.Background(), run, "INSERT INTO t (note) VALUES ('returning soon')")
		if err != nil {
			t.Fatal(err)
		}
		if run.queried || !run.executed {
			t.Errorf("queried=%v executed=%v, want the exec path", run.queried, run.executed)
		}
		if rowProducing {
			t.Error("plain INSERT flagged as row-producing")
		}
		if got := res.Rows[0]["affectedRows"]; got != int64(3) {
			t.Errorf("affectedRows = %v, want 3", got)
		}
	})
}

func TestExplainDetection(t *testing.T) {
	if !alreadyPlan.MatchString("  EXPLAIN SELECT 1") {
		t.Error("existing EXPLAIN not detected")
	}
	if alreadyPlan.MatchString("SELECT 1") {
		t.Error("plain select detected as EXPLAIN")
	}
}
