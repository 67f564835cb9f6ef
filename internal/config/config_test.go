package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/sluicedb/sluice/internal/adapter"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.QueryTimeout != 30*time.Second {
		t.Errorf("QueryTimeout = %v", cfg.QueryTimeout)
	}
	if cfg.QueryDefaultLimit != 1000 {
		t.Errorf("QueryDefaultLimit = %d", cfg.QueryDefaultLimit)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if cfg.MaxQueryLength != 100000 || cfg.MaxNestedDepth != 10 {
		t.Errorf("limits = %d/%d", cfg.MaxQueryLength, cfg.MaxNestedDepth)
	}
	if len(cfg.Defaults) != 0 {
		t.Errorf("expected no default databases, got %v", cfg.Defaults)
	}
}

func TestLoadDefaultDatabases(t *testing.T) {
	v := viper.New()
	v.Set("db_postgresql_url", "postgres://u:p@localhost:5432/demo")
	v.Set("db_postgresql_name", "Demo PG")
	v.Set("db_mongodb_url", "mongodb://localhost:27017")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Defaults) != 2 {
		t.Fatalf("expected 2 defaults, got %d", len(cfg.Defaults))
	}

	pg := cfg.DefaultFor(adapter.KindPostgres)
	if pg == nil || pg.DisplayName != "Demo PG" {
		t.Errorf("postgres default = %+v", pg)
	}
	mg := cfg.DefaultFor(adapter.KindMongo)
	if mg == nil || mg.DisplayName != "MongoDB (shared)" {
		t.Errorf("mongo default = %+v", mg)
	}
	if cfg.DefaultFor(adapter.KindMySQL) != nil {
		t.Error("mysql default should be absent")
	}

	if !cfg.IsDefaultURL("postgres://u:p@localhost:5432/demo") {
		t.Error("IsDefaultURL should match configured postgres url")
	}
	if cfg.IsDefaultURL("postgres://u:p@elsewhere:5432/demo") {
		t.Error("IsDefaultURL matched a foreign url")
	}
}

func TestLoadRejectsMismatchedKind(t *testing.T) {
	v := viper.New()
	v.Set("db_mysql_url", "postgres://localhost/oops")
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for mysql url with postgres scheme")
	}
}

func TestLoadRejectsShortSecrets(t *testing.T) {
	v := viper.New()
	v.Set("admin_cleanup_token", "short")
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for short ADMIN_CLEANUP_TOKEN")
	}

	v = viper.New()
	v.Set("app_extend_code", "1234567")
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for short APP_EXTEND_CODE")
	}

	v = viper.New()
	v.Set("app_extend_code", "12345678")
	if _, err := Load(v); err != nil {
		t.Fatalf("8-char secret should be accepted: %v", err)
	}
}
