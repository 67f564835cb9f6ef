// Package server wires the chi router: middleware, rate limiting, and the
// endpoint surface, plus graceful shutdown of the HTTP listener, the session
// registry, and the cleanup scheduler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sluicedb/sluice/internal/config"
	"github.com/sluicedb/sluice/internal/ratelimit"
	"github.com/sluicedb/sluice/internal/scheduler"
	"github.com/sluicedb/sluice/internal/server/handler"
	"github.com/sluicedb/sluice/internal/server/middleware"
	"github.com/sluicedb/sluice/internal/session"
)

// Config holds the HTTP listener configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	BurstPerMinute  int
}

// DefaultConfig returns production defaults. Request bodies are capped at
// 1MB; a query is text, never bulk data.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20,
		BurstPerMinute:  600,
	}
}

// Pinger is the readiness probe for the rate-limit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server owns the router and the subsystems it drains on shutdown.
type Server struct {
	cfg        Config
	appCfg     *config.Config
	router     chi.Router
	sessions   *session.Manager
	cleaner    *scheduler.Cleanup
	store      Pinger
	httpServer *http.Server
	logger     *slog.Logger
}

// Deps carries the wired subsystems into New.
type Deps struct {
	AppConfig    *config.Config
	Handler      *handler.Handler
	Sessions     *session.Manager
	Cleaner      *scheduler.Cleanup
	Store        Pinger
	QueryLimiter *ratelimit.Limiter
	ConnLimiter  *ratelimit.Limiter
}

// New builds the Server with all routes and middleware attached.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		appCfg:   deps.AppConfig,
		sessions: deps.Sessions,
		cleaner:  deps.Cleaner,
		store:    deps.Store,
		logger:   logger,
	}
	s.setupRouter(deps)
	return s
}

func (s *Server) setupRouter(deps Deps) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Timestamp", "X-Signature", "X-Request-Code", "X-Admin-Token", "X-Requested-With"},
		ExposedHeaders: []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(middleware.BodyLimit(s.cfg.MaxBodySize))
	if s.cfg.BurstPerMinute > 0 {
		r.Use(middleware.Burst(s.cfg.BurstPerMinute))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	h := deps.Handler
	window := s.appCfg.RateLimitWindow

	r.Route("/connections", func(r chi.Router) {
		r.Use(middleware.Limit(deps.ConnLimiter, window))
		r.Post("/test", h.Test)
		r.Post("/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)
		r.Post("/keepalive", h.Keepalive)
		r.Post("/session-extend", h.SessionExtend)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Limit(deps.QueryLimiter, window))
		r.Post("/query/execute", h.Execute)
		r.Post("/query/export", h.Export)
		r.Post("/transaction", h.Transaction)
		r.Get("/schema/databases", h.Databases)
		r.Get("/schema/tables", h.Tables)
		r.Get("/schema/columns", h.Columns)
	})

	r.Get("/config/databases", h.ConfigDatabases)
	r.Post("/admin/cleanup", h.Cleanup)

	s.router = r
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports readiness: the rate-limit store must answer, and the
// session count is included for operators.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			checks["redis"] = "error: " + err.Error()
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   status,
		"checks":   checks,
		"sessions": s.sessions.Count(),
	})
}

// ListenAndServe starts the listener and blocks until SIGINT/SIGTERM, then
// drains in-flight requests, stops the scheduler, and closes every session.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if s.cleaner != nil {
		s.cleaner.Stop()
	}
	s.sessions.Shutdown(shutdownCtx)
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
