package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
)

type tableRow struct {
	TableName string `db:"table_name"`
	TableType string `db:"table_type"`
}

type columnRow struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"udt_name"`
	IsNullable string `db:"is_nullable"`
	IsPrimary  bool   `db:"is_primary"`
}

// GetDatabases lists the non-system schemas of the connected database.
// Postgres sessions switch scope with search_path, so schemas play the
// database role here.
func (a *Adapter) GetDatabases(ctx context.Context) ([]model.DatabaseInfo, error) {
	db := a.pool()
	if db == nil {
		return nil, errNotConnected
	}

	const q = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%'
		  AND schema_name <> 'information_schema'
		ORDER BY schema_name`

	var names []string
	if err := db.SelectContext(ctx, &names, q); err != nil {
		return nil, fmt.Errorf("list schemas: %w", errors.New(adapter.Redact(err.Error())))
	}
	out := make([]model.DatabaseInfo, len(names))
	for i, n := range names {
		out[i] = model.DatabaseInfo{Name: n}
	}
	return out, nil
}

// GetTables lists tables and views in the schema (public when empty).
func (a *Adapter) GetTables(ctx context.Context, database string) ([]model.TableInfo, error) {
	db := a.pool()
	if db == nil {
		return nil, errNotConnected
	}
	if database == "" {
		database = "public"
	}

	const q = `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`

	var rows []tableRow
	if err := db.SelectContext(ctx, &rows, q, database); err != nil {
		return nil, fmt.Errorf("list tables: %w", errors.New(adapter.Redact(err.Error())))
	}
	out := make([]model.TableInfo, len(rows))
	for i, r := range rows {
		kind := "table"
		if r.TableType == "VIEW" {
			kind = "view"
		}
		out[i] = model.TableInfo{Name: r.TableName, Type: kind}
	}
	return out, nil
}

// GetColumns lists the columns of one table or view, with nullability and
// primary key membership.
func (a *Adapter) GetColumns(ctx context.Context, database, object string) ([]model.ColumnInfo, error) {
	db := a.pool()
	if db == nil {
		return nil, errNotConnected
	}
	if database == "" {
		database = "public"
	}

	const q = `
		SELECT c.column_name, c.udt_name, c.is_nullable,
		       COALESCE(pk.is_primary, false) AS is_primary
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_primary
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name
			 AND kcu.table_schema = tc.table_schema
			 AND kcu.table_name = tc.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = $1
			  AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1
		  AND c.table_name = $2
		ORDER BY c.ordinal_position`

	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, q, database, object); err != nil {
		return nil, fmt.Errorf("list columns: %w", errors.New(adapter.Redact(err.Error())))
	}
	out := make([]model.ColumnInfo, len(rows))
	for i, r := range rows {
		out[i] = model.ColumnInfo{
			Name:       r.ColumnName,
			Type:       humanType(r.DataType),
			Nullable:   r.IsNullable == "YES",
			PrimaryKey: r.IsPrimary,
		}
	}
	return out, nil
}

// CleanupDatabase force-drops one database: it terminates other backends
// first so the drop cannot hang on open connections.
func (a *Adapter) CleanupDatabase(ctx context.Context, database string) error {
	db := a.pool()
	if db == nil {
		return errNotConnected
	}
	if !searchPathRe.MatchString(database) {
		return fmt.Errorf("invalid database name %q", database)
	}

	const terminate = `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`
	if _, err := db.ExecContext(ctx, terminate, database); err != nil {
		a.logger.Warn("terminating backends", "database", database, "error", adapter.Redact(err.Error()))
	}

	drop := fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quoteIdent(database))
	if _, err := db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("drop database %s: %w", database, errors.New(adapter.Redact(err.Error())))
	}
	return nil
}

// DropAllUserDatabases drops every non-system database except the one this
// adapter is connected to. Per-database failures are logged and skipped.
func (a *Adapter) DropAllUserDatabases(ctx context.Context) error {
	db := a.pool()
	if db == nil {
		return errNotConnected
	}

	const q = `
		SELECT datname
		FROM pg_database
		WHERE datistemplate = false
		  AND datname <> 'postgres'
		  AND datname <> current_database()
		ORDER BY datname`

	var names []string
	if err := db.SelectContext(ctx, &names, q); err != nil {
		return fmt.Errorf("list databases: %w", errors.New(adapter.Redact(err.Error())))
	}

	for _, name := range names {
		if err := a.CleanupDatabase(ctx, name); err != nil {
			a.logger.Error("dropping database", "database", name, "error", err)
			continue
		}
		a.logger.Info("dropped database", "database", name)
	}
	return nil
}
