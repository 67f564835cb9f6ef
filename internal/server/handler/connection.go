package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
	"github.com/sluicedb/sluice/internal/session"
)

type connectRequest struct {
	Kind               string `json:"kind"`
	ConnectionURL      string `json:"connectionUrl"`
	UserID             string `json:"userId"`
	IsIsolated         bool   `json:"isIsolated"`
	UseDefaultDatabase bool   `json:"useDefaultDatabase"`
}

// resolveTarget turns a connect/test request into the URL to dial and
// whether it is one of the configured shared defaults.
func (h *Handler) resolveTarget(w http.ResponseWriter, req connectRequest) (adapter.Kind, string, bool, bool) {
	kind, err := adapter.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false, false
	}

	if req.UseDefaultDatabase || req.ConnectionURL == "" {
		def := h.cfg.DefaultFor(kind)
		if def == nil {
			writeError(w, http.StatusBadRequest, "no default connection configured for "+string(kind))
			return "", "", false, false
		}
		return kind, def.URL, true, true
	}

	if !kind.ValidURL(req.ConnectionURL) {
		writeError(w, http.StatusBadRequest, "connectionUrl does not match the expected scheme for "+string(kind))
		return "", "", false, false
	}
	return kind, req.ConnectionURL, h.cfg.IsDefaultURL(req.ConnectionURL), true
}

// Test connects briefly and reports the server version without creating a
// session.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !readJSON(w, r, &req) {
		return
	}
	kind, url, _, ok := h.resolveTarget(w, req)
	if !ok {
		return
	}

	ad, err := h.registry.New(kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := ad.Connect(ctx, url); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() {
		if err := ad.Disconnect(context.Background()); err != nil {
			h.logger.Warn("disconnecting test adapter", "error", err)
		}
	}()

	version, err := ad.GetServerVersion(ctx)
	if err != nil {
		h.logger.Warn("test connection version probe", "error", err)
		version = "unknown"
	}
	writeSuccess(w, map[string]interface{}{"serverVersion": version})
}

// Connect opens a session and returns its signing key.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !readJSON(w, r, &req) {
		return
	}
	kind, url, isDefault, ok := h.resolveTarget(w, req)
	if !ok {
		return
	}

	sess, err := h.sessions.Create(r.Context(), session.CreateParams{
		Kind:              kind,
		URL:               url,
		UserID:            req.UserID,
		Isolated:          req.IsIsolated,
		DefaultConnection: isDefault,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	version, err := sess.Adapter.GetServerVersion(ctx)
	if err != nil {
		h.logger.Warn("session version probe", "session_id", sess.ID, "error", err)
		version = "unknown"
	}

	writeJSON(w, http.StatusOK, model.ConnectResponse{
		Success:       true,
		SessionID:     sess.ID,
		ServerVersion: version,
		SigningKey:    sess.SigningKey,
		UserDatabase:  sess.UserDatabase,
		IsIsolated:    sess.IsIsolated,
	})
}

// Disconnect closes the caller's session.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.signedBody(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(r.Context(), sess.ID); err != nil {
		h.logger.Warn("closing session", "session_id", sess.ID, "error", err)
	}
	writeSuccess(w, nil)
}

// Keepalive refreshes the idle clock. The lookup in signedBody already
// touched the session.
func (h *Handler) Keepalive(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.signedBody(w, r)
	if !ok {
		return
	}
	writeSuccess(w, map[string]interface{}{
		"sessionId":    sess.ID,
		"lastActivity": sess.LastActivity().UnixMilli(),
	})
}

// SessionExtend flips allowDestructive for a default-connection session,
// gated by the configured shared code.
func (h *Handler) SessionExtend(w http.ResponseWriter, r *http.Request) {
	if h.cfg.ExtendCode == "" {
		writeError(w, http.StatusNotFound, "session extension is not configured")
		return
	}
	_, sess, ok := h.signedBody(w, r)
	if !ok {
		return
	}
	code := r.Header.Get("x-request-code")
	if subtle.ConstantTimeCompare([]byte(code), []byte(h.cfg.ExtendCode)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid request code")
		return
	}
	if err := h.sessions.SetAllowDestructive(sess.ID, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, map[string]interface{}{"allowDestructive": true})
}
