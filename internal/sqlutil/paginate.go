// Package sqlutil contains the dialect-neutral SQL text transformations the
// gateway applies before execution: statement splitting and LIMIT/OFFSET
// pagination. Both operate on raw text and never reorder or reformat the
// statement body.
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	selectLike = regexp.MustCompile(`(?i)^\s*(select|with|show|describe|explain)\b`)
	// Any LIMIT or OFFSET counts as already paginated, whatever its
	// argument (a number, ALL, or a bind placeholder).
	hasLimit  = regexp.MustCompile(`(?i)\blimit\b`)
	hasFetch  = regexp.MustCompile(`(?i)\bfetch\s+first\b`)
	hasOffset = regexp.MustCompile(`(?i)\boffset\b`)
)

// IsSelectLike reports whether sql starts a row-producing statement
// (SELECT, WITH, SHOW, DESCRIBE, EXPLAIN).
func IsSelectLike(sql string) bool {
	return selectLike.MatchString(sql)
}

// ApplyPagination appends LIMIT/OFFSET to a single SELECT-like statement.
// It is a no-op for empty input, multi-statement buffers, statements that
// already paginate (LIMIT or FETCH FIRST), and non-SELECT statements.
// A trailing semicolon is preserved in place.
func ApplyPagination(sql string, limit, offset int) string {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" || limit <= 0 {
		return sql
	}

	body := trimmed
	hadSemicolon := false
	if strings.HasSuffix(body, ";") {
		hadSemicolon = true
		body = strings.TrimRight(strings.TrimSuffix(body, ";"), " \t\r\n")
	}

	// Any interior semicolon means a multi-statement buffer; leave it alone.
	if strings.Contains(body, ";") {
		return sql
	}
	if !IsSelectLike(body) {
		return sql
	}
	if hasLimit.MatchString(body) || hasFetch.MatchString(body) {
		return sql
	}

	body += fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 && !hasOffset.MatchString(body) {
		body += fmt.Sprintf(" OFFSET %d", offset)
	}
	if hadSemicolon {
		body += ";"
	}
	return body
}
