package validate

import (
	"fmt"
	"sort"

	"github.com/xwb1989/sqlparser"

	"github.com/sluicedb/sluice/internal/sqlutil"
)

// ExtractDatabases returns the distinct database names a MySQL query
// references through qualified identifiers (db.table). Used to fence
// isolated sessions: anything outside the tenant's own database is a
// boundary violation.
func ExtractDatabases(query string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, stmtText := range sqlutil.SplitStatements(query) {
		stmt, err := sqlparser.Parse(stmtText)
		if err != nil {
			return nil, fmt.Errorf("cannot determine referenced databases: %s", shortParseError(err))
		}
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			switch n := node.(type) {
			case sqlparser.TableName:
				if q := n.Qualifier.String(); q != "" {
					seen[q] = struct{}{}
				}
			case *sqlparser.Use:
				if name := n.DBName.String(); name != "" {
					seen[name] = struct{}{}
				}
			}
			return true, nil
		}, stmt)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CheckIsolation verifies that every database a query references is inside
// the allowed set (the tenant's isolation database plus the explicitly
// selected one). Returns the first foreign reference found.
func CheckIsolation(query string, allowed ...string) (string, error) {
	refs, err := ExtractDatabases(query)
	if err != nil {
		return "", err
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if a != "" {
			allowedSet[a] = struct{}{}
		}
	}
	for _, ref := range refs {
		if _, ok := allowedSet[ref]; !ok {
			return ref, nil
		}
	}
	return "", nil
}
