// Package validate screens query text before it reaches an adapter: size and
// nesting limits for everyone, dangerous-pattern detection for sessions on
// the shared default connections, and a dialect syntactic check.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/mongoshell"
	"github.com/sluicedb/sluice/internal/sqlutil"
)

// Validator holds the configured limits. The zero value is unusable; use New.
type Validator struct {
	maxLength int
	maxDepth  int
}

// New creates a Validator with the given query length and paren-depth limits.
func New(maxLength, maxDepth int) *Validator {
	return &Validator{maxLength: maxLength, maxDepth: maxDepth}
}

type rule struct {
	re  *regexp.Regexp
	msg string
}

// Patterns enforced only on default (shared) connections. Personal
// connections may run anything their own credentials allow.
var sqlDangerous = []rule{
	{regexp.MustCompile(`(?is);\s*drop\s+(table|database)`), "stacked DROP statements are not allowed"},
	{regexp.MustCompile(`(?is);\s*truncate\b`), "stacked TRUNCATE statements are not allowed"},
	{regexp.MustCompile(`(?is);\s*delete\s+from\b`), "stacked DELETE statements are not allowed"},
	{regexp.MustCompile(`--`), "SQL comments are not allowed on shared connections"},
	{regexp.MustCompile(`(?s)/\*.*\*/`), "SQL comments are not allowed on shared connections"},
	{regexp.MustCompile(`(?i)\b(alter|create)\s+(database|schema|user|role)\b`), "database and principal DDL is not allowed on shared connections"},
	{regexp.MustCompile(`(?i)\bgrant\b`), "GRANT is not allowed on shared connections"},
	{regexp.MustCompile(`(?i)\brevoke\b`), "REVOKE is not allowed on shared connections"},
	{regexp.MustCompile(`(?i)\bexec(ute)?\s*\(`), "dynamic execution is not allowed"},
	{regexp.MustCompile(`(?i)\bsp_\w+`), "system stored procedures are not allowed"},
}

var mysqlDangerous = []rule{
	{regexp.MustCompile(`(?i)\bload\s+data\b`), "LOAD DATA is not allowed on shared connections"},
	{regexp.MustCompile(`(?i)\bload_file\s*\(`), "LOAD_FILE is not allowed on shared connections"},
	{regexp.MustCompile(`(?i)\binto\s+outfile\b`), "INTO OUTFILE is not allowed on shared connections"},
}

var postgresDangerous = []rule{
	{regexp.MustCompile(`(?is)\bcopy\b.*\bfrom\s+program\b`), "COPY FROM PROGRAM is not allowed"},
	{regexp.MustCompile(`(?i)\bpg_read_file\s*\(`), "pg_read_file is not allowed"},
}

var mongoDangerous = []rule{
	{regexp.MustCompile(`\$where`), "$where is not allowed"},
	{regexp.MustCompile(`\$eval`), "$eval is not allowed"},
	{regexp.MustCompile(`\$function`), "$function is not allowed"},
	{regexp.MustCompile(`(?i)db\.eval\s*\(`), "db.eval is not allowed"},
	{regexp.MustCompile(`(?i)db\.runCommand\s*\(`), "db.runCommand is not allowed"},
}

// Statements the MySQL-dialect parser cannot handle but the engines accept;
// treated as syntactically valid without a full parse.
var ddlShape = regexp.MustCompile(`(?is)^\s*(create|alter|drop|truncate)\s+(temporary\s+)?(table|database|schema|view|index|unique\s+index|function|procedure|trigger|sequence|user|role)\b`)

// Validate screens a query for the session's engine kind. defaultConn marks
// sessions bound to a configured shared URL, which get the extra
// dangerous-pattern screening.
func (v *Validator) Validate(kind adapter.Kind, query string, defaultConn bool) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return errors.New("query is empty")
	}
	if len(query) > v.maxLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", v.maxLength)
	}
	if depth := maxParenDepth(query); depth > v.maxDepth {
		return fmt.Errorf("query nesting depth %d exceeds maximum of %d", depth, v.maxDepth)
	}

	if kind == adapter.KindMongo {
		return v.validateMongo(trimmed, defaultConn)
	}
	return v.validateSQL(kind, trimmed, defaultConn)
}

func (v *Validator) validateSQL(kind adapter.Kind, query string, defaultConn bool) error {
	if defaultConn {
		rules := sqlDangerous
		switch kind {
		case adapter.KindMySQL:
			rules = append(rules, mysqlDangerous...)
		case adapter.KindPostgres:
			rules = append(rules, postgresDangerous...)
		}
		for _, r := range rules {
			if r.re.MatchString(query) {
				return errors.New(r.msg)
			}
		}
	}

	// Syntactic check per statement. The parser speaks the MySQL dialect,
	// so for Postgres it is advisory only: Postgres-specific syntax
	// (casts, $n parameters, RETURNING) routinely outruns it and must not
	// be rejected here.
	for _, stmt := range sqlutil.SplitStatements(query) {
		if ddlShape.MatchString(stmt) {
			continue
		}
		if _, err := sqlparser.Parse(stmt); err != nil {
			if kind == adapter.KindPostgres {
				continue
			}
			return fmt.Errorf("syntax error in statement: %s (check quotes, matching braces, and statement structure)", shortParseError(err))
		}
	}
	return nil
}

func (v *Validator) validateMongo(query string, defaultConn bool) error {
	if defaultConn {
		for _, r := range mongoDangerous {
			if r.re.MatchString(query) {
				return errors.New(r.msg)
			}
		}
	}

	parsed, err := mongoshell.Parse(query)
	if err != nil {
		return fmt.Errorf("invalid MongoDB query: %s (check quotes, matching braces, and method syntax)", err)
	}

	if defaultConn {
		for _, arg := range parsed.Args {
			if key := findForbiddenOperator(arg); key != "" {
				return fmt.Errorf("%s is not allowed", key)
			}
		}
		for _, call := range parsed.Chain {
			for _, arg := range call.Args {
				if key := findForbiddenOperator(arg); key != "" {
					return fmt.Errorf("%s is not allowed", key)
				}
			}
		}
	}
	return nil
}

// findForbiddenOperator walks a parsed argument for $where/$eval keys, which
// execute server-side JavaScript.
func findForbiddenOperator(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, elem := range val {
			if k == "$where" || k == "$eval" {
				return k
			}
			if found := findForbiddenOperator(elem); found != "" {
				return found
			}
		}
	case []interface{}:
		for _, elem := range val {
			if found := findForbiddenOperator(elem); found != "" {
				return found
			}
		}
	}
	return ""
}

// maxParenDepth measures parenthesis nesting outside string literals.
func maxParenDepth(s string) int {
	depth, deepest := 0, 0
	inString := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString != 0 {
			if c == '\\' {
				i++
			} else if c == inString {
				inString = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inString = c
		case '(':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}

func shortParseError(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return msg
}
