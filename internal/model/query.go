// Package model defines the wire-level types shared by the adapters, the
// session manager, and the HTTP layer: normalized query results, execution
// options, and the response envelopes returned to the browser client.
package model

// Column describes one column of a normalized result set. Type is a
// human-readable engine-independent name ("integer", "varchar", "objectId").
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the normalized tabular result every adapter produces.
// For non-row-producing statements Rows holds a single synthetic mapping
// describing the outcome (affectedRows, insertId, acknowledged, ...).
type QueryResult struct {
	Rows            []map[string]interface{} `json:"rows"`
	Columns         []Column                 `json:"columns"`
	RowCount        int                      `json:"rowCount"`
	ExecutionTimeMs float64                  `json:"executionTimeMs"`
}

// QueryOptions carries per-call execution settings from the HTTP layer down
// into an adapter. The zero value means "no pagination, no explain, not
// isolated, simulation active on default connections".
type QueryOptions struct {
	// Limit caps row output; 0 means "apply the configured default",
	// negative disables the cap entirely (export streaming).
	Limit int
	// Offset is the pagination start for SELECT-like statements.
	Offset int
	// Explain rewrites the statement as a plan request instead of executing it.
	Explain bool

	// UserID is the opaque tenant token bound to the session, if any.
	UserID string
	// IsIsolated marks a session whose SQL statements must not reach
	// databases outside UserDatabase.
	IsIsolated bool
	// UserDatabase is the per-tenant isolation database (u_<hash>).
	UserDatabase string

	// AllowDestructive bypasses destructive-operation simulation on
	// default connections.
	AllowDestructive bool
	// DefaultConnection marks a session bound to a configured default URL;
	// destructive statements are simulated unless AllowDestructive is set.
	DefaultConnection bool
}

// DatabaseInfo is one entry of a database/schema listing.
type DatabaseInfo struct {
	Name string `json:"name"`
}

// TableInfo is one entry of a table/collection listing.
type TableInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // "table", "view", or "collection"
}

// ColumnInfo is one entry of a column/field listing.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primaryKey"`
}
