package mysql

import "testing"

func TestHumanType(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"INT", "integer"},
		{"varchar", "varchar"},
		{"DATETIME", "datetime"},
		{"", "unknown"},
		{"GEOMETRY", "unknown(GEOMETRY)"},
	}
	for _, tt := range tests {
		if got := humanType(tt.code); got != tt.want {
			t.Errorf("humanType(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestDatabaseNameValidation(t *testing.T) {
	valid := []string{"mydb", "u_0123abcd", "Db_1"}
	for _, name := range valid {
		if !databaseName.MatchString(name) {
			t.Errorf("%q rejected", name)
		}
	}
	invalid := []string{"", "my-db", "db`; DROP", "a b"}
	for _, name := range invalid {
		if databaseName.MatchString(name) {
			t.Errorf("%q accepted", name)
		}
	}
}
