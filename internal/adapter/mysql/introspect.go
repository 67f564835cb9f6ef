package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
)

// System databases excluded from listings and cleanup.
var systemDatabases = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
}

type tableRow struct {
	TableName string `db:"TABLE_NAME"`
	TableType string `db:"TABLE_TYPE"`
}

type columnRow struct {
	ColumnName string `db:"COLUMN_NAME"`
	DataType   string `db:"DATA_TYPE"`
	IsNullable string `db:"IS_NULLABLE"`
	ColumnKey  string `db:"COLUMN_KEY"`
}

// GetDatabases lists the non-system databases.
func (a *Adapter) GetDatabases(ctx context.Context) ([]model.DatabaseInfo, error) {
	db := a.pool()
	if db == nil {
		return nil, errNotConnected
	}

	var names []string
	if err := db.SelectContext(ctx, &names, "SHOW DATABASES"); err != nil {
		return nil, fmt.Errorf("list databases: %w", errors.New(adapter.Redact(err.Error())))
	}
	out := make([]model.DatabaseInfo, 0, len(names))
	for _, n := range names {
		if systemDatabases[n] {
			continue
		}
		out = append(out, model.DatabaseInfo{Name: n})
	}
	return out, nil
}

// GetTables lists tables and views in a database.
func (a *Adapter) GetTables(ctx context.Context, database string) ([]model.TableInfo, error) {
	db := a.pool()
	if db == nil {
		return nil, errNotConnected
	}
	if database == "" {
		return nil, errors.New("database name required")
	}

	const q = `
		SELECT TABLE_NAME, TABLE_TYPE
		FROM information_schema.tables
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`

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

// GetColumns lists the columns of one table or view.
func (a *Adapter) GetColumns(ctx context.Context, database, object string) ([]model.ColumnInfo, error) {
	db := a.pool()
	if db == nil {
		return nil, errNotConnected
	}
	if database == "" {
		return nil, errors.New("database name required")
	}

	const q = `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_KEY
		FROM information_schema.columns
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

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
			PrimaryKey: r.ColumnKey == "PRI",
		}
	}
	return out, nil
}

// CleanupDatabase drops one database.
func (a *Adapter) CleanupDatabase(ctx context.Context, database string) error {
	db := a.pool()
	if db == nil {
		return errNotConnected
	}
	if !databaseName.MatchString(database) {
		return fmt.Errorf("invalid database name %q", database)
	}
	if systemDatabases[database] {
		return fmt.Errorf("refusing to drop system database %q", database)
	}
	if _, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS `"+database+"`"); err != nil {
		return fmt.Errorf("drop database %s: %w", database, errors.New(adapter.Redact(err.Error())))
	}
	return nil
}

// DropAllUserDatabases drops every non-system database. Per-database
// failures are logged and skipped.
func (a *Adapter) DropAllUserDatabases(ctx context.Context) error {
	dbs, err := a.GetDatabases(ctx)
	if err != nil {
		return err
	}
	for _, d := range dbs {
		if err := a.CleanupDatabase(ctx, d.Name); err != nil {
			a.logger.Error("dropping database", "database", d.Name, "error", err)
			continue
		}
		a.logger.Info("dropped database", "database", d.Name)
	}
	return nil
}
