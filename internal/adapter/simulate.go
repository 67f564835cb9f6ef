package adapter

import (
	"regexp"
	"strings"

	"github.com/sluicedb/sluice/internal/model"
)

// Destructive statements are simulated on shared default connections so a
// visitor cannot wreck the demo databases. The patterns intentionally match
// the statement head only; anything else falls through to normal execution.
var destructivePatterns = []struct {
	re *regexp.Regexp
	op func(match []string) string
}{
	{
		re: regexp.MustCompile(`(?is)^\s*DROP\s+(DATABASE|SCHEMA|TABLE|VIEW|INDEX|FUNCTION|PROCEDURE|TRIGGER)\b`),
		op: func(m []string) string { return "DROP " + strings.ToUpper(m[1]) },
	},
	{
		re: regexp.MustCompile(`(?is)^\s*TRUNCATE\s+TABLE\b`),
		op: func(m []string) string { return "TRUNCATE TABLE" },
	},
	{
		re: regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\b`),
		op: func(m []string) string { return "DELETE FROM" },
	},
}

var deleteNoOp = regexp.MustCompile(`(?is)\bWHERE\s+1\s*=\s*0\b`)

// DestructiveSQL reports whether sql is a destructive statement subject to
// simulation, and the canonical operation name when it is. DELETE FROM with
// a "WHERE 1=0" guard is allowed through (it cannot delete anything).
func DestructiveSQL(sql string) (string, bool) {
	for _, p := range destructivePatterns {
		m := p.re.FindStringSubmatch(sql)
		if m == nil {
			continue
		}
		op := p.op(m)
		if op == "DELETE FROM" && deleteNoOp.MatchString(sql) {
			return "", false
		}
		return op, true
	}
	return "", false
}

// SimulatedResult builds the synthetic success row returned instead of
// executing a destructive operation.
func SimulatedResult(operation string) *model.QueryResult {
	return &model.QueryResult{
		Rows: []map[string]interface{}{{
			"acknowledged": true,
			"simulated":    true,
			"operation":    operation,
			"message":      "Destructive operation simulated on shared connection. Connect with your own database or enable destructive mode to execute it.",
		}},
		Columns: []model.Column{
			{Name: "acknowledged", Type: "boolean"},
			{Name: "simulated", Type: "boolean"},
			{Name: "operation", Type: "string"},
			{Name: "message", Type: "string"},
		},
		RowCount: 1,
	}
}
