// Package scheduler runs the daily cleanup: every configured default
// connection gets its user-created databases dropped, returning the shared
// servers to a clean slate.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/config"
)

// cleanupSchedule fires daily at 02:00 UTC, outside the usual classroom hours.
const cleanupSchedule = "0 2 * * *"

// Cleanup wipes user databases on the configured default servers.
type Cleanup struct {
	registry *adapter.Registry
	defaults []config.DefaultDatabase
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates the scheduler. Call Start to arm the daily job.
func New(registry *adapter.Registry, defaults []config.DefaultDatabase, logger *slog.Logger) *Cleanup {
	return &Cleanup{
		registry: registry,
		defaults: defaults,
		logger:   logger,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start arms the daily schedule.
func (c *Cleanup) Start() error {
	_, err := c.cron.AddFunc(cleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		c.RunNow(ctx)
	})
	if err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info("cleanup scheduler armed", "schedule", cleanupSchedule)
	return nil
}

// Stop halts the schedule, waiting for a running job to finish.
func (c *Cleanup) Stop() {
	<-c.cron.Stop().Done()
}

// RunNow performs one cleanup pass over every configured default. Per-server
// failures are logged and do not abort the pass.
func (c *Cleanup) RunNow(ctx context.Context) {
	c.logger.Info("cleanup pass starting", "targets", len(c.defaults))
	for _, def := range c.defaults {
		if err := c.cleanupServer(ctx, def); err != nil {
			c.logger.Error("cleanup failed", "kind", def.Kind, "error", err)
		}
	}
	c.logger.Info("cleanup pass finished")
}

// cleanupServer connects a short-lived adapter against the server's admin
// scope and drops all user databases.
func (c *Cleanup) cleanupServer(ctx context.Context, def config.DefaultDatabase) error {
	ad, err := c.registry.New(def.Kind)
	if err != nil {
		return err
	}
	adminURL, err := adapter.AdminURL(def.Kind, def.URL)
	if err != nil {
		return err
	}
	if err := ad.Connect(ctx, adminURL); err != nil {
		return err
	}
	defer func() {
		if err := ad.Disconnect(ctx); err != nil {
			c.logger.Warn("disconnecting cleanup adapter", "kind", def.Kind, "error", err)
		}
	}()

	return ad.DropAllUserDatabases(ctx)
}
