// Package mongoshell parses MongoDB shell statements
// (db.collection.op(args).chain()...) into a typed AST the Mongo adapter
// dispatches against the official driver. The parser is tolerant of shell
// conveniences (single quotes, unquoted keys, BSON constructors, regex
// literals) but strict about structure.
package mongoshell

import (
	"errors"
	"fmt"
	"strings"
)

// Target classifies where an operation is dispatched.
type Target string

const (
	TargetCollection Target = "collection"
	TargetDB         Target = "db"
	TargetAdmin      Target = "admin"
)

// Call is one chained method invocation (sort, limit, skip, project, ...).
type Call struct {
	Name string
	Args []interface{}
}

// Query is the parsed form of one shell statement.
type Query struct {
	Database   string
	Collection string
	Operation  string
	Args       []interface{}
	Chain      []Call
	Target     Target
}

// Parse parses one shell statement. Errors carry enough context for the
// editor to show a useful message.
func Parse(input string) (*Query, error) {
	text := strings.TrimSpace(input)
	text = strings.TrimSuffix(text, ";")
	text = strings.TrimSpace(text)

	// The front end sometimes wraps the statement in quotes; unwrap.
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			text = strings.TrimSpace(text[1 : len(text)-1])
		}
	}
	if text == "" {
		return nil, errors.New("empty query")
	}

	// Shell command sugar.
	switch strings.ToLower(text) {
	case "show dbs", "show databases":
		text = "db.admin().listDatabases()"
	case "show collections":
		text = "db.listCollections()"
	}
	if text == "use" {
		return nil, errors.New("use requires a database name")
	}
	if name, ok := strings.CutPrefix(text, "use "); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("use requires a database name")
		}
		return &Query{
			Target:    TargetDB,
			Operation: "use",
			Args:      []interface{}{name},
			Database:  name,
		}, nil
	}

	segs := splitSegments(text)
	if len(segs) == 0 {
		return nil, errors.New("empty query")
	}

	q := &Query{}
	idx := 0

	head := segs[0]
	switch {
	case head == "db":
		idx++
	case strings.HasPrefix(head, "db["):
		coll, err := bracketName(head)
		if err != nil {
			return nil, err
		}
		q.Collection = coll
		idx++
	default:
		return nil, fmt.Errorf("query must start with 'db', got %q", head)
	}

	// Optional getSiblingDB("name").
	if idx < len(segs) {
		if seg, err := parseSegment(segs[idx]); err == nil && seg.isCall && seg.name == "getSiblingDB" {
			args, err := ParseArgs(seg.args)
			if err != nil {
				return nil, fmt.Errorf("getSiblingDB: %w", err)
			}
			name, ok := firstString(args)
			if !ok {
				return nil, errors.New(`getSiblingDB requires a database name string, e.g. db.getSiblingDB("mydb")`)
			}
			q.Database = name
			idx++
		}
	}

	if q.Collection == "" {
		if idx >= len(segs) {
			return nil, errors.New("incomplete query: expected an operation or collection name after 'db'")
		}
		seg, err := parseSegment(segs[idx])
		if err != nil {
			return nil, err
		}
		idx++

		if seg.isCall {
			if seg.name == "admin" {
				// db.admin().<op>(...)
				if idx >= len(segs) {
					return nil, errors.New("expected an operation after db.admin()")
				}
				op, err := parseSegment(segs[idx])
				if err != nil {
					return nil, err
				}
				if !op.isCall {
					return nil, fmt.Errorf("%q is not a method call", op.name)
				}
				idx++
				args, err := ParseArgs(op.args)
				if err != nil {
					return nil, err
				}
				q.Target = TargetAdmin
				q.Operation = op.name
				q.Args = args
			} else {
				// db-level operation: db.stats(), db.createCollection("x"), ...
				args, err := ParseArgs(seg.args)
				if err != nil {
					return nil, err
				}
				q.Target = TargetDB
				q.Operation = seg.name
				q.Args = args
			}
		} else {
			if seg.name == "length" {
				return nil, errors.New(".length is not supported; use countDocuments() instead")
			}
			q.Collection = seg.name
		}
	}

	// Collection operation.
	if q.Collection != "" && q.Operation == "" {
		if idx >= len(segs) {
			return nil, fmt.Errorf("incomplete query: expected an operation on collection %q", q.Collection)
		}
		op, err := parseSegment(segs[idx])
		if err != nil {
			return nil, err
		}
		idx++
		if !op.isCall {
			if op.name == "length" {
				return nil, errors.New(".length is not supported; use countDocuments() instead")
			}
			return nil, fmt.Errorf("%q is not a method call: collection operations need parentheses, e.g. find({})", op.name)
		}
		args, err := ParseArgs(op.args)
		if err != nil {
			return nil, err
		}
		q.Target = TargetCollection
		q.Operation = op.name
		q.Args = args
	}

	// Chained calls.
	for ; idx < len(segs); idx++ {
		seg, err := parseSegment(segs[idx])
		if err != nil {
			return nil, err
		}
		if !seg.isCall {
			if seg.name == "length" {
				return nil, errors.New(".length is not supported; use countDocuments() instead")
			}
			return nil, fmt.Errorf("unexpected %q: chained methods need parentheses", seg.name)
		}
		args, err := ParseArgs(seg.args)
		if err != nil {
			return nil, err
		}
		q.Chain = append(q.Chain, Call{Name: seg.name, Args: args})
	}

	if q.Operation == "" {
		return nil, errors.New("incomplete query: no operation found")
	}
	return q, nil
}

type segment struct {
	name   string
	args   string
	isCall bool
}

// parseSegment splits "name(args)" into its parts, validating that nothing
// trails the closing parenthesis.
func parseSegment(raw string) (segment, error) {
	open := topLevelIndex(raw, '(')
	if open < 0 {
		if raw == "" {
			return segment{}, errors.New("empty path segment (double dot?)")
		}
		return segment{name: raw}, nil
	}

	name := strings.TrimSpace(raw[:open])
	if name == "" {
		return segment{}, fmt.Errorf("malformed call %q", raw)
	}
	if !strings.HasSuffix(raw, ")") {
		return segment{}, fmt.Errorf("malformed call %q: missing closing parenthesis", raw)
	}
	return segment{name: name, args: raw[open+1 : len(raw)-1], isCall: true}, nil
}

// splitSegments splits on top-level dots, ignoring dots inside parentheses,
// brackets, braces, and string literals.
func splitSegments(s string) []string {
	parts := splitTopLevel(s, '.')
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// topLevelIndex finds the first occurrence of c outside strings.
func topLevelIndex(s string, c byte) int {
	inString := byte(0)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString != 0 {
			if ch == '\\' {
				i++
			} else if ch == inString {
				inString = 0
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			inString = ch
			continue
		}
		if ch == c {
			return i
		}
	}
	return -1
}

// bracketName extracts the collection from db["name"] syntax.
func bracketName(raw string) (string, error) {
	if !strings.HasSuffix(raw, "]") {
		return "", fmt.Errorf("malformed collection accessor %q", raw)
	}
	inner := strings.TrimSpace(raw[len("db[") : len(raw)-1])
	if len(inner) >= 2 {
		first, last := inner[0], inner[len(inner)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			inner = inner[1 : len(inner)-1]
		}
	}
	if inner == "" {
		return "", errors.New("empty collection name in db[...]")
	}
	return inner, nil
}

func firstString(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok && s != ""
}
