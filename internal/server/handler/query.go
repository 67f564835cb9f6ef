package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
	"github.com/sluicedb/sluice/internal/session"
	"github.com/sluicedb/sluice/internal/sqlutil"
	"github.com/sluicedb/sluice/internal/validate"
)

// queryOptions assembles the adapter options for a session and payload.
func queryOptions(sess *session.Session, payload map[string]interface{}) model.QueryOptions {
	return model.QueryOptions{
		Limit:             getInt(payload, "limit"),
		Offset:            getInt(payload, "offset"),
		Explain:           getBool(payload, "explain"),
		UserID:            sess.UserID,
		IsIsolated:        sess.IsIsolated,
		UserDatabase:      sess.UserDatabase,
		AllowDestructive:  sess.AllowDestructive(),
		DefaultConnection: sess.IsDefaultConnection,
	}
}

// effectiveDatabase defaults isolated sessions into their own database.
func effectiveDatabase(sess *session.Session, database string) string {
	if database == "" && sess.IsIsolated {
		return sess.UserDatabase
	}
	return database
}

// Execute runs one query (a SQL batch or a single Mongo statement).
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	payload, sess, ok := h.signedBody(w, r)
	if !ok {
		return
	}
	query := getString(payload, "query")
	if err := h.validator.Validate(sess.Kind, query, sess.IsDefaultConnection); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	database := effectiveDatabase(sess, getString(payload, "database"))
	opts := queryOptions(sess, payload)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.QueryTimeout+5*time.Second)
	defer cancel()

	sess.ExecMu.Lock()
	result, err := sess.Adapter.ExecuteQuery(ctx, query, database, opts)
	sess.ExecMu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, result)
}

// Transaction dispatches begin/commit/rollback on the session's adapter.
func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	payload, sess, ok := h.signedBody(w, r)
	if !ok {
		return
	}
	action := getString(payload, "action")

	sess.ExecMu.Lock()
	defer sess.ExecMu.Unlock()

	var err error
	switch action {
	case "begin":
		err = sess.Adapter.BeginTransaction(r.Context())
	case "commit":
		err = sess.Adapter.CommitTransaction(r.Context())
	case "rollback":
		err = sess.Adapter.RollbackTransaction(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "action must be begin, commit, or rollback")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, map[string]interface{}{
		"action":            action,
		"transactionActive": sess.Adapter.IsTransactionActive(),
	})
}

// Export runs one statement without the default row cap and streams the
// result as CSV or JSON.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	payload, sess, ok := h.signedBody(w, r)
	if !ok {
		return
	}
	format := getString(payload, "format")
	if format == "" {
		format = "json"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}

	query := getString(payload, "query")
	if err := h.validator.Validate(sess.Kind, query, sess.IsDefaultConnection); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	database := effectiveDatabase(sess, getString(payload, "database"))

	if sess.Kind != adapter.KindMongo {
		stmts := sqlutil.SplitStatements(query)
		if len(stmts) != 1 || !sqlutil.IsSelectLike(stmts[0]) {
			writeError(w, http.StatusBadRequest, "only a single SELECT statement can be exported")
			return
		}
	}
	// Isolated MySQL sessions share a server with other tenants; a
	// qualified reference outside their own database is refused.
	if sess.Kind == adapter.KindMySQL && sess.IsIsolated {
		foreign, err := validate.CheckIsolation(query, sess.UserDatabase, database)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if foreign != "" {
			writeError(w, http.StatusForbidden, fmt.Sprintf("query references database %q outside your isolated scope", foreign))
			return
		}
	}

	opts := queryOptions(sess, payload)
	opts.Limit = -1
	opts.Explain = false

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.QueryTimeout+5*time.Second)
	defer cancel()

	sess.ExecMu.Lock()
	result, err := sess.Adapter.ExecuteQuery(ctx, query, database, opts)
	sess.ExecMu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="export.csv"`)
		if err := writeCSV(w, result); err != nil {
			h.logger.Warn("streaming csv export", "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="export.json"`)
	if err := writeJSONRows(w, result); err != nil {
		h.logger.Warn("streaming json export", "error", err)
	}
}

// exportColumns returns the declared column order, falling back to the
// union of row keys in first-seen order.
func exportColumns(result *model.QueryResult) []string {
	if len(result.Columns) > 0 {
		names := make([]string, len(result.Columns))
		for i, c := range result.Columns {
			names[i] = c.Name
		}
		return names
	}
	var names []string
	seen := make(map[string]bool)
	for _, row := range result.Rows {
		for key := range row {
			if !seen[key] {
				seen[key] = true
				names = append(names, key)
			}
		}
	}
	return names
}

func writeCSV(w http.ResponseWriter, result *model.QueryResult) error {
	columns := exportColumns(result)
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range result.Rows {
		for i, col := range columns {
			record[i] = cellString(row[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// cellString coerces one cell to text; composite values become JSON.
func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(enc)
	}
	return fmt.Sprint(v)
}

// writeJSONRows streams a top-level array of row objects.
func writeJSONRows(w http.ResponseWriter, result *model.QueryResult) error {
	if _, err := w.Write([]byte("[")); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for i, row := range result.Rows {
		if i > 0 {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("]"))
	return err
}
