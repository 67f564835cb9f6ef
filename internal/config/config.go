// Package config loads the gateway's runtime configuration from the
// environment (optionally overlaid by a sluice.yaml file through viper).
// Nothing here is persisted: the process carries no durable state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sluicedb/sluice/internal/adapter"
)

// DefaultDatabase is one pre-configured shared connection, derived once from
// DB_<KIND>_URL / DB_<KIND>_NAME. The URL never leaves the server.
type DefaultDatabase struct {
	Kind        adapter.Kind
	URL         string
	DisplayName string
}

// Config is the immutable process-wide configuration.
type Config struct {
	RedisURL string

	QueryTimeout          time.Duration
	QueryDefaultLimit     int
	MongoSchemaSampleSize int

	RateLimitQueryMax      int
	RateLimitConnectionMax int
	RateLimitWindow        time.Duration

	SessionTimeout time.Duration
	MaxQueryLength int
	MaxNestedDepth int

	RedisRetryAttempts int
	RedisRetryDelay    time.Duration

	// AdminCleanupToken gates POST /admin/cleanup; ExtendCode gates
	// session-extend. Both are optional shared secrets, min 8 chars.
	AdminCleanupToken string
	ExtendCode        string

	Defaults []DefaultDatabase
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("query_timeout_ms", 30000)
	v.SetDefault("query_default_limit", 1000)
	v.SetDefault("mongo_schema_sample_size", 100)
	v.SetDefault("rate_limit_query_max", 100)
	v.SetDefault("rate_limit_connection_max", 20)
	v.SetDefault("rate_limit_window_ms", 60000)
	v.SetDefault("session_timeout_ms", 30*60*1000)
	v.SetDefault("max_query_length", 100000)
	v.SetDefault("max_nested_depth", 10)
	v.SetDefault("redis_retry_attempts", 3)
	v.SetDefault("redis_retry_delay_ms", 1000)
}

// Load builds a Config from the supplied viper instance. Pass viper.GetViper()
// in production; tests construct their own instance.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		RedisURL:               v.GetString("redis_url"),
		QueryTimeout:           time.Duration(v.GetInt("query_timeout_ms")) * time.Millisecond,
		QueryDefaultLimit:      v.GetInt("query_default_limit"),
		MongoSchemaSampleSize:  v.GetInt("mongo_schema_sample_size"),
		RateLimitQueryMax:      v.GetInt("rate_limit_query_max"),
		RateLimitConnectionMax: v.GetInt("rate_limit_connection_max"),
		RateLimitWindow:        time.Duration(v.GetInt("rate_limit_window_ms")) * time.Millisecond,
		SessionTimeout:         time.Duration(v.GetInt("session_timeout_ms")) * time.Millisecond,
		MaxQueryLength:         v.GetInt("max_query_length"),
		MaxNestedDepth:         v.GetInt("max_nested_depth"),
		RedisRetryAttempts:     v.GetInt("redis_retry_attempts"),
		RedisRetryDelay:        time.Duration(v.GetInt("redis_retry_delay_ms")) * time.Millisecond,
		AdminCleanupToken:      v.GetString("admin_cleanup_token"),
		ExtendCode:             v.GetString("app_extend_code"),
	}

	if err := validateSecret("ADMIN_CLEANUP_TOKEN", cfg.AdminCleanupToken); err != nil {
		return nil, err
	}
	if err := validateSecret("APP_EXTEND_CODE", cfg.ExtendCode); err != nil {
		return nil, err
	}

	for _, kind := range []adapter.Kind{adapter.KindMongo, adapter.KindPostgres, adapter.KindMySQL} {
		envKey := "db_" + string(kind) + "_url"
		url := v.GetString(envKey)
		if url == "" {
			continue
		}
		if !kind.ValidURL(url) {
			return nil, fmt.Errorf("%s: url does not match kind %s", strings.ToUpper(envKey), kind)
		}
		name := v.GetString("db_" + string(kind) + "_name")
		if name == "" {
			name = displayName(kind)
		}
		cfg.Defaults = append(cfg.Defaults, DefaultDatabase{Kind: kind, URL: url, DisplayName: name})
	}

	return cfg, nil
}

// DefaultFor returns the configured default for a kind, or nil.
func (c *Config) DefaultFor(kind adapter.Kind) *DefaultDatabase {
	for i := range c.Defaults {
		if c.Defaults[i].Kind == kind {
			return &c.Defaults[i]
		}
	}
	return nil
}

// IsDefaultURL reports whether url equals one of the configured default URLs.
func (c *Config) IsDefaultURL(url string) bool {
	for _, d := range c.Defaults {
		if d.URL == url {
			return true
		}
	}
	return false
}

func validateSecret(name, value string) error {
	if value != "" && len(value) < 8 {
		return fmt.Errorf("%s must be at least 8 characters", name)
	}
	return nil
}

func displayName(kind adapter.Kind) string {
	switch kind {
	case adapter.KindPostgres:
		return "PostgreSQL (shared)"
	case adapter.KindMySQL:
		return "MySQL (shared)"
	case adapter.KindMongo:
		return "MongoDB (shared)"
	}
	return string(kind)
}
