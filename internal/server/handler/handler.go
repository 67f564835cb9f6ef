// Package handler implements the HTTP endpoints: connection lifecycle, query
// execution and export, schema introspection, transactions, and the admin
// cleanup trigger. Signed endpoints authenticate the x-timestamp/x-signature
// pair against the session's key before touching an adapter.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/config"
	"github.com/sluicedb/sluice/internal/model"
	"github.com/sluicedb/sluice/internal/scheduler"
	"github.com/sluicedb/sluice/internal/session"
	"github.com/sluicedb/sluice/internal/signing"
	"github.com/sluicedb/sluice/internal/validate"
)

// Handler carries the shared dependencies of every endpoint.
type Handler struct {
	cfg       *config.Config
	sessions  *session.Manager
	validator *validate.Validator
	cleaner   *scheduler.Cleanup
	registry  *adapter.Registry
	logger    *slog.Logger
}

// New wires a Handler.
func New(cfg *config.Config, sessions *session.Manager, validator *validate.Validator, cleaner *scheduler.Cleanup, registry *adapter.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		sessions:  sessions,
		validator: validator,
		cleaner:   cleaner,
		registry:  registry,
		logger:    logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Success: false, Error: message})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, model.SuccessResponse{Success: true, Data: data})
}

// readJSON decodes an unsigned request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// signedBody reads a signed POST body, verifies the signature, and resolves
// the session. Numbers stay json.Number so the canonical form the client
// signed is reproduced byte for byte.
func (h *Handler) signedBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, *session.Session, bool) {
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, nil, false
	}

	sess, ok := h.authenticate(w, r, payload, getString(payload, "sessionId"))
	if !ok {
		return nil, nil, false
	}
	return payload, sess, true
}

// signedQuery verifies a signed GET: the payload is the map of query-string
// parameters, single-valued.
func (h *Handler) signedQuery(w http.ResponseWriter, r *http.Request) (map[string]interface{}, *session.Session, bool) {
	params := make(map[string]interface{})
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	sess, ok := h.authenticate(w, r, params, getString(params, "sessionId"))
	if !ok {
		return nil, nil, false
	}
	return params, sess, true
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, payload interface{}, sessionID string) (*session.Session, bool) {
	if sessionID == "" {
		writeError(w, http.StatusUnauthorized, "sessionId is required")
		return nil, false
	}
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session not found or expired")
		return nil, false
	}

	timestamp := r.Header.Get("x-timestamp")
	sig := r.Header.Get("x-signature")
	if timestamp == "" || sig == "" {
		writeError(w, http.StatusUnauthorized, "missing x-timestamp or x-signature header")
		return nil, false
	}
	if err := signing.Verify(sess.SigningKey, timestamp, sig, payload, time.Now()); err != nil {
		if errors.Is(err, signing.ErrStaleTimestamp) {
			writeError(w, http.StatusUnauthorized, "request timestamp outside the allowed window")
		} else {
			writeError(w, http.StatusUnauthorized, "invalid request signature")
		}
		return nil, false
	}
	return sess, true
}

func getString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func getBool(payload map[string]interface{}, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

func getInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case float64:
		return int(v)
	}
	return 0
}
