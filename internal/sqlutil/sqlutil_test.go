package sqlutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestApplyPagination(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		limit  int
		offset int
		want   string
	}{
		{"basic", "SELECT * FROM t", 50, 0, "SELECT * FROM t LIMIT 50"},
		{"trailing semicolon", "SELECT * FROM t;", 50, 0, "SELECT * FROM t LIMIT 50;"},
		{"with offset", "SELECT * FROM t", 50, 100, "SELECT * FROM t LIMIT 50 OFFSET 100"},
		{"zero offset omitted", "SELECT * FROM t", 10, 0, "SELECT * FROM t LIMIT 10"},
		{"already limited", "SELECT * FROM t LIMIT 5", 50, 0, "SELECT * FROM t LIMIT 5"},
		{"limit all", "SELECT * FROM t LIMIT ALL", 50, 0, "SELECT * FROM t LIMIT ALL"},
		{"limit bind placeholder", "SELECT * FROM t LIMIT $1", 50, 0, "SELECT * FROM t LIMIT $1"},
		{"limit question placeholder", "SELECT * FROM t LIMIT ?", 50, 0, "SELECT * FROM t LIMIT ?"},
		{"fetch first", "SELECT * FROM t FETCH FIRST 5 ROWS ONLY", 50, 0, "SELECT * FROM t FETCH FIRST 5 ROWS ONLY"},
		{"multi statement", "SELECT 1; SELECT 2", 50, 0, "SELECT 1; SELECT 2"},
		{"not select-like", "UPDATE t SET a = 1", 50, 0, "UPDATE t SET a = 1"},
		{"with cte", "WITH x AS (SELECT 1) SELECT * FROM x", 5, 0, "WITH x AS (SELECT 1) SELECT * FROM x LIMIT 5"},
		{"show", "SHOW TABLES", 5, 0, "SHOW TABLES LIMIT 5"},
		{"empty", "", 50, 0, ""},
		{"no limit requested", "SELECT * FROM t", 0, 0, "SELECT * FROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyPagination(tt.sql, tt.limit, tt.offset); got != tt.want {
				t.Errorf("ApplyPagination(%q, %d, %d) = %q, want %q", tt.sql, tt.limit, tt.offset, got, tt.want)
			}
		})
	}
}

func TestApplyPaginationIdempotent(t *testing.T) {
	once := ApplyPagination("SELECT * FROM t", 25, 0)
	twice := ApplyPagination(once, 25, 0)
	if once != twice {
		t.Errorf("rewriter not idempotent: %q vs %q", once, twice)
	}
}

func TestIsSelectLike(t *testing.T) {
	for _, sql := range []string{"SELECT 1", "  with x as (select 1) select * from x", "SHOW DATABASES", "describe t", "EXPLAIN SELECT 1"} {
		if !IsSelectLike(sql) {
			t.Errorf("IsSelectLike(%q) = false, want true", sql)
		}
	}
	for _, sql := range []string{"INSERT INTO t VALUES (1)", "DROP TABLE t", ""} {
		if IsSelectLike(sql) {
			t.Errorf("IsSelectLike(%q) = true, want false", sql)
		}
	}
}

func TestContainsKeyword(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"clause", "INSERT INTO t (a) VALUES (1) RETURNING id", true},
		{"lowercase clause", "insert into t (a) values (1) returning *", true},
		{"inside string literal", "INSERT INTO t (note) VALUES ('returning soon')", false},
		{"inside quoted identifier", `SELECT "returning" FROM t`, false},
		{"inside line comment", "UPDATE t SET a = 1 -- returning nothing", false},
		{"inside block comment", "UPDATE t SET a = 1 /* returning */", false},
		{"inside dollar quote", "CREATE FUNCTION f() RETURNS void AS $$ returning $$ LANGUAGE sql", false},
		{"substring of identifier", "UPDATE t SET returning_flag = 1", false},
		{"after literal", "INSERT INTO t (note) VALUES ('later') RETURNING id", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsKeyword(tt.sql, "returning"); got != tt.want {
				t.Errorf("ContainsKeyword(%q) = %v, want %v", tt.sql, got, tt.want)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			"simple",
			"SELECT 1; SELECT 2;",
			[]string{"SELECT 1", "SELECT 2"},
		},
		{
			"semicolon in string",
			"INSERT INTO t VALUES ('a;b'); SELECT 1",
			[]string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"},
		},
		{
			"semicolon in quoted identifier",
			`SELECT "a;b" FROM t; SELECT 2`,
			[]string{`SELECT "a;b" FROM t`, "SELECT 2"},
		},
		{
			"escaped quote",
			`SELECT 'it\'s; fine'; SELECT 2`,
			[]string{`SELECT 'it\'s; fine'`, "SELECT 2"},
		},
		{
			"line comment",
			"SELECT 1 -- trailing; not a split\n; SELECT 2",
			[]string{"SELECT 1 -- trailing; not a split", "SELECT 2"},
		},
		{
			"block comment",
			"SELECT 1 /* a;b */; SELECT 2",
			[]string{"SELECT 1 /* a;b */", "SELECT 2"},
		},
		{
			"empty tag dollar quote",
			"CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql; SELECT 1",
			[]string{"CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql", "SELECT 1"},
		},
		{
			"named tag dollar quote",
			"CREATE FUNCTION g() RETURNS void AS $fn$ BEGIN; END $fn$ LANGUAGE plpgsql",
			[]string{"CREATE FUNCTION g() RETURNS void AS $fn$ BEGIN; END $fn$ LANGUAGE plpgsql"},
		},
		{
			"no trailing semicolon",
			"SELECT 1",
			[]string{"SELECT 1"},
		},
		{
			"empty segments dropped",
			";;  ;SELECT 1;",
			[]string{"SELECT 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitStatements(tt.sql)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitStatements(%q)\n got %q\nwant %q", tt.sql, got, tt.want)
			}
		})
	}
}

func TestSplitStatementsPreservesDollarBody(t *testing.T) {
	sql := "INSERT INTO t VALUES ('a;b'); CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql; SELECT 1"
	got := SplitStatements(sql)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[1], "$$ BEGIN END; $$") {
		t.Errorf("dollar-quoted body altered: %q", got[1])
	}
}
