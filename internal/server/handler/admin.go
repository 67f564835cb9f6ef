package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/sluicedb/sluice/internal/model"
)

// ConfigDatabases lists the configured default connections without their
// URLs; the browser only needs the kinds it can offer.
func (h *Handler) ConfigDatabases(w http.ResponseWriter, r *http.Request) {
	out := make([]model.DefaultDatabaseOption, 0, len(h.cfg.Defaults))
	for _, def := range h.cfg.Defaults {
		name := def.DisplayName
		if name == "" {
			name = string(def.Kind)
		}
		out = append(out, model.DefaultDatabaseOption{Kind: string(def.Kind), DisplayName: name})
	}
	writeSuccess(w, out)
}

// Cleanup triggers the daily wipe on demand, gated by the admin token.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminCleanupToken == "" {
		writeError(w, http.StatusServiceUnavailable, "admin cleanup is not configured")
		return
	}
	token := r.Header.Get("x-admin-token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AdminCleanupToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid admin token")
		return
	}

	done := false
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("cleanup panicked", "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
		defer cancel()
		h.cleaner.RunNow(ctx)
		done = true
	}()
	if !done {
		writeError(w, http.StatusInternalServerError, "cleanup failed unexpectedly")
		return
	}
	writeSuccess(w, map[string]interface{}{"cleaned": true})
}
