package handler

import "net/http"

// Databases lists schemas (Postgres) or databases (MySQL, MongoDB).
func (h *Handler) Databases(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.signedQuery(w, r)
	if !ok {
		return
	}
	sess.ExecMu.Lock()
	dbs, err := sess.Adapter.GetDatabases(r.Context())
	sess.ExecMu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, dbs)
}

// Tables lists tables, views, or collections of one database.
func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	params, sess, ok := h.signedQuery(w, r)
	if !ok {
		return
	}
	database := effectiveDatabase(sess, getString(params, "database"))

	sess.ExecMu.Lock()
	tables, err := sess.Adapter.GetTables(r.Context(), database)
	sess.ExecMu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, tables)
}

// Columns lists the columns or inferred fields of one table/collection.
func (h *Handler) Columns(w http.ResponseWriter, r *http.Request) {
	params, sess, ok := h.signedQuery(w, r)
	if !ok {
		return
	}
	table := getString(params, "table")
	if table == "" {
		writeError(w, http.StatusBadRequest, "table parameter is required")
		return
	}
	database := effectiveDatabase(sess, getString(params, "database"))

	sess.ExecMu.Lock()
	columns, err := sess.Adapter.GetColumns(r.Context(), database, table)
	sess.ExecMu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, columns)
}
