package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
	"github.com/sluicedb/sluice/internal/sqlutil"
)

type runner interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var alreadyPlan = regexp.MustCompile(`(?is)^\s*explain\b`)

// ExecuteQuery runs a SQL batch. Statements are split, rewritten (EXPLAIN or
// pagination), and executed sequentially on one connection; the last
// row-producing result wins.
func (a *Adapter) ExecuteQuery(ctx context.Context, query, database string, opts model.QueryOptions) (*model.QueryResult, error) {
	if opts.DefaultConnection && !opts.AllowDestructive {
		if op, ok := adapter.DestructiveSQL(query); ok {
			return adapter.SimulatedResult(op), nil
		}
	}

	var run runner
	if tx := a.transaction(); tx != nil {
		run = tx
	} else {
		db := a.pool()
		if db == nil {
			return nil, errNotConnected
		}
		conn, err := db.Connx(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", errors.New(adapter.Redact(err.Error())))
		}
		defer conn.Close()
		run = conn
	}

	if database != "" {
		if !databaseName.MatchString(database) {
			return nil, fmt.Errorf("invalid database name %q", database)
		}
		if _, err := run.ExecContext(ctx, "USE `"+database+"`"); err != nil {
			return nil, fmt.Errorf("use database: %w", errors.New(adapter.Redact(err.Error())))
		}
	}
	if a.queryTimeout > 0 {
		// max_execution_time caps SELECT statements server-side; writes
		// rely on context cancellation.
		set := fmt.Sprintf("SET SESSION max_execution_time = %d", a.queryTimeout.Milliseconds())
		if _, err := run.ExecContext(ctx, set); err != nil {
			a.logger.Debug("set max_execution_time", "error", err)
		}
	}

	limit := opts.Limit
	if limit == 0 {
		limit = a.defaultLimit
	}

	start := time.Now()
	var last *model.QueryResult
	var lastRowProducing *model.QueryResult

	for _, stmt := range sqlutil.SplitStatements(query) {
		rewritten := stmt
		if opts.Explain && sqlutil.IsSelectLike(stmt) && !alreadyPlan.MatchString(stmt) {
			rewritten = "EXPLAIN " + stmt
		} else if !opts.Explain {
			rewritten = sqlutil.ApplyPagination(stmt, limit, opts.Offset)
		}

		res, rowProducing, err := a.runStatement(ctx, run, rewritten)
		if err != nil {
			return nil, err
		}
		last = res
		if rowProducing {
			lastRowProducing = res
		}
	}

	if last == nil {
		return nil, errors.New("query contained no statements")
	}
	result := last
	if lastRowProducing != nil {
		result = lastRowProducing
	}
	result.ExecutionTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	return result, nil
}

func (a *Adapter) runStatement(ctx context.Context, run runner, stmt string) (*model.QueryResult, bool, error) {
	if sqlutil.IsSelectLike(stmt) {
		rows, err := run.QueryxContext(ctx, stmt)
		if err != nil {
			return nil, false, execError(ctx, err)
		}
		defer rows.Close()
		res, err := scanRows(rows)
		if err != nil {
			return nil, false, execError(ctx, err)
		}
		return res, true, nil
	}

	res, err := run.ExecContext(ctx, stmt)
	if err != nil {
		return nil, false, execError(ctx, err)
	}
	affected, _ := res.RowsAffected()
	row := map[string]interface{}{"affectedRows": affected}
	columns := []model.Column{{Name: "affectedRows", Type: "bigint"}}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		row["insertId"] = id
		columns = append(columns, model.Column{Name: "insertId", Type: "bigint"})
	}
	return &model.QueryResult{
		Rows:     []map[string]interface{}{row},
		Columns:  columns,
		RowCount: 1,
	}, false, nil
}

func execError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("query canceled: %w", ctx.Err())
	}
	return errors.New(adapter.Redact(err.Error()))
}

func scanRows(rows *sqlx.Rows) (*model.QueryResult, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	columns := make([]model.Column, len(types))
	for i, ct := range types {
		columns[i] = model.Column{Name: ct.Name(), Type: humanType(ct.DatabaseTypeName())}
	}

	out := make([]map[string]interface{}, 0, 64)
	for rows.Next() {
		row := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &model.QueryResult{Rows: out, Columns: columns, RowCount: len(out)}, nil
}

// Fixed translation of driver type names to the names the editor shows.
var typeNames = map[string]string{
	"TINYINT":   "tinyint",
	"SMALLINT":  "smallint",
	"MEDIUMINT": "mediumint",
	"INT":       "integer",
	"BIGINT":    "bigint",
	"FLOAT":     "float",
	"DOUBLE":    "double",
	"DECIMAL":   "decimal",
	"CHAR":      "char",
	"VARCHAR":   "varchar",
	"TEXT":      "text",
	"TINYTEXT":  "tinytext",
	"LONGTEXT":  "longtext",
	"BLOB":      "blob",
	"LONGBLOB":  "longblob",
	"VARBINARY": "varbinary",
	"BINARY":    "binary",
	"DATE":      "date",
	"TIME":      "time",
	"DATETIME":  "datetime",
	"TIMESTAMP": "timestamp",
	"YEAR":      "year",
	"JSON":      "json",
	"ENUM":      "enum",
	"SET":       "set",
	"BIT":       "bit",
}

func humanType(code string) string {
	if name, ok := typeNames[strings.ToUpper(code)]; ok {
		return name
	}
	if code == "" {
		return "unknown"
	}
	return fmt.Sprintf("unknown(%s)", code)
}
