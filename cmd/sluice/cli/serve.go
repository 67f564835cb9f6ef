package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/adapter/mongo"
	"github.com/sluicedb/sluice/internal/adapter/mysql"
	"github.com/sluicedb/sluice/internal/adapter/postgres"
	"github.com/sluicedb/sluice/internal/config"
	"github.com/sluicedb/sluice/internal/ratelimit"
	"github.com/sluicedb/sluice/internal/scheduler"
	"github.com/sluicedb/sluice/internal/server"
	"github.com/sluicedb/sluice/internal/server/handler"
	"github.com/sluicedb/sluice/internal/session"
	"github.com/sluicedb/sluice/internal/validate"
)

// evictionInterval is how often the session manager sweeps for idle sessions.
const evictionInterval = time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Sluice gateway server",
		Long:  "Start the HTTP server that mediates browser query sessions against the configured database engines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, CORS *)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Defaults) == 0 {
		logger.Warn("no default databases configured - only user-supplied connection URLs will work")
	}

	store, err := ratelimit.NewRedisStore(cfg.RedisURL, cfg.RedisRetryAttempts, cfg.RedisRetryDelay)
	if err != nil {
		return fmt.Errorf("init rate limit store: %w", err)
	}
	defer store.Close()

	registry := adapter.NewRegistry()
	registry.Register(adapter.KindPostgres, postgres.NewFactory(logger, cfg.QueryTimeout, cfg.QueryDefaultLimit))
	registry.Register(adapter.KindMySQL, mysql.NewFactory(logger, cfg.QueryTimeout, cfg.QueryDefaultLimit))
	registry.Register(adapter.KindMongo, mongo.NewFactory(logger, cfg.QueryTimeout, cfg.QueryDefaultLimit, cfg.MongoSchemaSampleSize))
	logger.Info("adapter registry initialized", "kinds", []string{"postgresql", "mysql", "mongodb"})

	sessions := session.NewManager(registry, cfg.SessionTimeout, logger)
	sessions.StartEviction(evictionInterval)

	validator := validate.New(cfg.MaxQueryLength, cfg.MaxNestedDepth)

	cleaner := scheduler.New(registry, cfg.Defaults, logger)
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start cleanup scheduler: %w", err)
	}

	h := handler.New(cfg, sessions, validator, cleaner, registry, logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if !dev {
		if origins := viper.GetStringSlice("cors_origins"); len(origins) > 0 {
			srvCfg.CORSOrigins = origins
		}
	}

	srv := server.New(srvCfg, server.Deps{
		AppConfig:    cfg,
		Handler:      h,
		Sessions:     sessions,
		Cleaner:      cleaner,
		Store:        store,
		QueryLimiter: ratelimit.NewLimiter(store, "rl:query", cfg.RateLimitQueryMax, cfg.RateLimitWindow, logger),
		ConnLimiter:  ratelimit.NewLimiter(store, "rl:conn", cfg.RateLimitConnectionMax, cfg.RateLimitWindow, logger),
	}, logger)

	fmt.Printf("→ Sluice gateway\n")
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Default databases: %d\n", len(cfg.Defaults))
	fmt.Println()

	return srv.ListenAndServe()
}
