package validate

import (
	"strings"
	"testing"

	"github.com/sluicedb/sluice/internal/adapter"
)

func newValidator() *Validator {
	return New(100000, 10)
}

func TestValidateLimits(t *testing.T) {
	v := newValidator()

	if err := v.Validate(adapter.KindPostgres, "", false); err == nil {
		t.Error("empty query should fail")
	}
	if err := v.Validate(adapter.KindPostgres, "   \n  ", false); err == nil {
		t.Error("whitespace query should fail")
	}

	long := "SELECT '" + strings.Repeat("x", 100001) + "'"
	if err := v.Validate(adapter.KindPostgres, long, false); err == nil {
		t.Error("over-length query should fail")
	}

	deep := "SELECT " + strings.Repeat("(", 11) + "1" + strings.Repeat(")", 11)
	if err := v.Validate(adapter.KindPostgres, deep, false); err == nil {
		t.Error("over-deep query should fail")
	}

	// Parens inside strings do not count toward depth.
	stringParens := "SELECT '((((((((((((((((('"
	if err := v.Validate(adapter.KindPostgres, stringParens, false); err != nil {
		t.Errorf("parens inside string literal counted: %v", err)
	}
}

func TestValidateDangerousSQLOnDefaultConnection(t *testing.T) {
	v := newValidator()

	dangerous := []struct {
		kind adapter.Kind
		sql  string
	}{
		{adapter.KindPostgres, "SELECT 1; DROP TABLE users"},
		{adapter.KindPostgres, "SELECT 1; truncate users"},
		{adapter.KindPostgres, "SELECT 1; DELETE FROM users"},
		{adapter.KindPostgres, "SELECT 1 -- sneak"},
		{adapter.KindPostgres, "SELECT /* hidden */ 1"},
		{adapter.KindPostgres, "CREATE DATABASE evil"},
		{adapter.KindPostgres, "ALTER ROLE admin SUPERUSER"},
		{adapter.KindPostgres, "GRANT ALL ON users TO public"},
		{adapter.KindPostgres, "REVOKE ALL ON users FROM bob"},
		{adapter.KindPostgres, "SELECT pg_read_file('/etc/passwd')"},
		{adapter.KindPostgres, "COPY t FROM PROGRAM 'ls'"},
		{adapter.KindMySQL, "LOAD DATA INFILE '/etc/passwd' INTO TABLE t"},
		{adapter.KindMySQL, "SELECT LOAD_FILE('/etc/passwd')"},
		{adapter.KindMySQL, "SELECT * FROM t INTO OUTFILE '/tmp/x'"},
	}
	for _, tt := range dangerous {
		if err := v.Validate(tt.kind, tt.sql, true); err == nil {
			t.Errorf("default connection should reject %q", tt.sql)
		}
	}

	// The same statements pass on personal connections (the engine's own
	// permissions apply there), modulo the syntax check.
	if err := v.Validate(adapter.KindPostgres, "CREATE DATABASE mine", false); err != nil {
		t.Errorf("personal connection rejected DDL: %v", err)
	}
}

func TestValidateSQLSyntax(t *testing.T) {
	v := newValidator()

	if err := v.Validate(adapter.KindMySQL, "SELECT * FROM users WHERE id = 1", false); err != nil {
		t.Errorf("valid select rejected: %v", err)
	}
	if err := v.Validate(adapter.KindMySQL, "SELEC * FORM users", false); err == nil {
		t.Error("garbage SQL accepted for mysql")
	}

	// DDL the dialect parser cannot handle is accepted on shape.
	ddl := "CREATE TABLE t (id SERIAL PRIMARY KEY, name TEXT)"
	if err := v.Validate(adapter.KindMySQL, ddl, false); err != nil {
		t.Errorf("DDL rejected: %v", err)
	}
	if err := v.Validate(adapter.KindPostgres, "DROP INDEX CONCURRENTLY idx_users", false); err != nil {
		t.Errorf("postgres DDL rejected: %v", err)
	}

	// Postgres-specific syntax outruns the MySQL-dialect parser and must
	// still be accepted.
	if err := v.Validate(adapter.KindPostgres, "SELECT id::text FROM users RETURNING id", false); err != nil {
		t.Errorf("postgres cast syntax rejected: %v", err)
	}
}

func TestValidateMongo(t *testing.T) {
	v := newValidator()

	if err := v.Validate(adapter.KindMongo, "db.users.find({age: {$gt: 21}})", true); err != nil {
		t.Errorf("valid mongo query rejected: %v", err)
	}
	if err := v.Validate(adapter.KindMongo, "db.users.find({", true); err == nil {
		t.Error("malformed mongo query accepted")
	}

	dangerous := []string{
		`db.users.find({$where: "this.a == 1"})`,
		`db.eval("1+1")`,
		`db.runCommand({eval: "x"})`,
	}
	for _, q := range dangerous {
		if err := v.Validate(adapter.KindMongo, q, true); err == nil {
			t.Errorf("default connection should reject %q", q)
		}
	}

	// Nested $where in a parsed argument is caught even without the
	// literal text match.
	if err := v.Validate(adapter.KindMongo, `db.users.find({"$whe" + "re": 1})`, true); err == nil {
		t.Error("unparseable trick query accepted")
	}
}

func TestExtractDatabases(t *testing.T) {
	refs, err := ExtractDatabases("SELECT * FROM other_db.sales JOIN u_abc.orders o ON o.id = sales.id")
	if err != nil {
		t.Fatalf("ExtractDatabases: %v", err)
	}
	want := []string{"other_db", "u_abc"}
	if len(refs) != 2 || refs[0] != want[0] || refs[1] != want[1] {
		t.Errorf("refs = %v, want %v", refs, want)
	}

	refs, err = ExtractDatabases("SELECT * FROM sales")
	if err != nil || len(refs) != 0 {
		t.Errorf("unqualified query refs = %v, err = %v", refs, err)
	}
}

func TestCheckIsolation(t *testing.T) {
	foreign, err := CheckIsolation("SELECT * FROM other_db.sales", "u_abc")
	if err != nil {
		t.Fatalf("CheckIsolation: %v", err)
	}
	if foreign != "other_db" {
		t.Errorf("foreign = %q, want other_db", foreign)
	}

	foreign, err = CheckIsolation("SELECT * FROM u_abc.sales", "u_abc")
	if err != nil || foreign != "" {
		t.Errorf("own database flagged: %q, %v", foreign, err)
	}

	foreign, err = CheckIsolation("SELECT * FROM sales", "u_abc")
	if err != nil || foreign != "" {
		t.Errorf("unqualified query flagged: %q, %v", foreign, err)
	}
}
