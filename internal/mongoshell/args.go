package mongoshell

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Shell argument lists are not JSON: they allow single quotes, unquoted keys,
// regex literals, and BSON constructor calls. normalizeArgs rewrites the text
// into strict JSON, tagging BSON constructors with marker objects
// (__$oid, __$date, __$numberLong, __$regex) that revive() later replaces
// with driver types. Keeping the normalizer and the JSON parser separate
// means the tolerant layer never has to understand value semantics.

const (
	markerOID     = "__$oid"
	markerDate    = "__$date"
	markerLong    = "__$numberLong"
	markerRegex   = "__$regex"
	markerOptions = "__$options"
)

// ParseArgs parses a shell call's argument text into revived values.
func ParseArgs(argText string) ([]interface{}, error) {
	trimmed := strings.TrimSpace(argText)
	if trimmed == "" {
		return nil, nil
	}

	norm, err := normalizeArgs(trimmed)
	if err != nil {
		return nil, err
	}

	// A single JSON value is one argument (this keeps insertMany([...])
	// as one array argument instead of exploding it).
	var single interface{}
	if err := json.Unmarshal([]byte(norm), &single); err == nil {
		return []interface{}{revive(single)}, nil
	}

	// Multiple arguments: wrap as an array.
	var arr []interface{}
	if err := json.Unmarshal([]byte("["+norm+"]"), &arr); err == nil {
		for i := range arr {
			arr[i] = revive(arr[i])
		}
		return arr, nil
	}

	// Last resort: hand-walk top-level commas and parse each piece.
	var out []interface{}
	for _, part := range splitTopLevel(norm, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(part), &v); err != nil {
			return nil, fmt.Errorf("unable to parse argument %q: check quotes and matching braces", part)
		}
		out = append(out, revive(v))
	}
	return out, nil
}

func normalizeArgs(s string) (string, error) {
	var out strings.Builder
	lastSig := byte(0)
	i := 0

	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			out.WriteByte(c)
			i++

		case c == '"':
			next, err := copyDoubleQuoted(&out, s, i)
			if err != nil {
				return "", err
			}
			i = next
			lastSig = '"'

		case c == '\'':
			decoded, next, err := readQuoted(s, i, '\'')
			if err != nil {
				return "", err
			}
			enc, _ := json.Marshal(decoded)
			out.Write(enc)
			i = next
			lastSig = '"'

		case c == '/' && valuePosition(lastSig):
			pattern, flags, next, err := readRegex(s, i)
			if err != nil {
				return "", err
			}
			encPat, _ := json.Marshal(pattern)
			encFlags, _ := json.Marshal(flags)
			fmt.Fprintf(&out, `{%q:%s,%q:%s}`, markerRegex, encPat, markerOptions, encFlags)
			i = next
			lastSig = '}'

		case c == '-' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(s) && strings.IndexByte("0123456789.eE+-", s[i]) >= 0 {
				i++
			}
			out.WriteString(s[start:i])
			lastSig = '0'

		case isIdentStart(c):
			ident, next := readIdent(s, i)
			i = next
			consumed, err := normalizeIdent(&out, s, &i, ident)
			if err != nil {
				return "", err
			}
			lastSig = consumed

		default:
			out.WriteByte(c)
			lastSig = c
			i++
		}
	}
	return out.String(), nil
}

// normalizeIdent handles an identifier just read at position *i (now pointing
// past it): BSON constructors, keywords, or an unquoted object key. It
// returns the significant byte the emitted text ends with.
func normalizeIdent(out *strings.Builder, s string, i *int, ident string) (byte, error) {
	switch ident {
	case "true", "false":
		out.WriteString(ident)
		return 'e', nil
	case "null", "undefined":
		out.WriteString("null")
		return 'l', nil
	case "new":
		j := skipSpace(s, *i)
		ctor, next := readIdent(s, j)
		if ctor != "Date" {
			return 0, fmt.Errorf("unsupported constructor 'new %s'", ctor)
		}
		*i = next
		return emitCall(out, s, i, "ISODate")
	case "ObjectId", "ISODate", "Date", "NumberLong", "NumberInt", "NumberDecimal":
		if at(s, skipSpace(s, *i)) == '(' {
			return emitCall(out, s, i, ident)
		}
	}

	// Unquoted object key: identifier directly followed by ':'.
	j := skipSpace(s, *i)
	if at(s, j) == ':' {
		enc, _ := json.Marshal(ident)
		out.Write(enc)
		return '"', nil
	}
	return 0, fmt.Errorf("unexpected identifier %q in arguments: values must be quoted", ident)
}

// emitCall consumes "(<literal>)" for a BSON constructor and writes its
// marker form. *i must point at or just before the opening parenthesis.
func emitCall(out *strings.Builder, s string, i *int, name string) (byte, error) {
	j := skipSpace(s, *i)
	if at(s, j) != '(' {
		return 0, fmt.Errorf("%s must be called with parentheses", name)
	}
	j = skipSpace(s, j+1)

	lit := ""
	quoted := false
	switch {
	case at(s, j) == '"' || at(s, j) == '\'':
		var err error
		lit, j, err = readQuoted(s, j, s[j])
		if err != nil {
			return 0, err
		}
		quoted = true
	case at(s, j) == ')':
		// no argument
	default:
		start := j
		for j < len(s) && strings.IndexByte("0123456789+-.eE", s[j]) >= 0 {
			j++
		}
		lit = s[start:j]
	}

	j = skipSpace(s, j)
	if at(s, j) != ')' {
		return 0, fmt.Errorf("%s: expected closing parenthesis", name)
	}
	*i = j + 1

	switch name {
	case "ObjectId":
		if !quoted || lit == "" {
			return 0, errors.New(`ObjectId requires a hex string argument, e.g. ObjectId("507f1f77bcf86cd799439011")`)
		}
		enc, _ := json.Marshal(lit)
		fmt.Fprintf(out, `{%q:%s}`, markerOID, enc)
		return '}', nil
	case "ISODate", "Date":
		if lit == "" {
			return 0, fmt.Errorf("%s requires a date string argument", name)
		}
		enc, _ := json.Marshal(lit)
		fmt.Fprintf(out, `{%q:%s}`, markerDate, enc)
		return '}', nil
	case "NumberLong":
		if lit == "" {
			return 0, errors.New("NumberLong requires an argument")
		}
		enc, _ := json.Marshal(lit)
		fmt.Fprintf(out, `{%q:%s}`, markerLong, enc)
		return '}', nil
	case "NumberInt":
		if lit == "" {
			return 0, errors.New("NumberInt requires an argument")
		}
		out.WriteString(strings.Trim(lit, `"'`))
		return '0', nil
	case "NumberDecimal":
		enc, _ := json.Marshal(lit)
		out.Write(enc)
		return '"', nil
	}
	return 0, fmt.Errorf("unsupported function %s", name)
}

// revive replaces marker objects produced by the normalizer with BSON-typed
// values, recursing through containers.
func revive(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 1 {
			if hexStr, ok := val[markerOID].(string); ok {
				if oid, err := primitive.ObjectIDFromHex(hexStr); err == nil {
					return oid
				}
				return hexStr
			}
			if dateStr, ok := val[markerDate].(string); ok {
				if t, ok := parseDate(dateStr); ok {
					return primitive.NewDateTimeFromTime(t)
				}
				return dateStr
			}
			if longStr, ok := val[markerLong].(string); ok {
				if n, err := strconv.ParseInt(longStr, 10, 64); err == nil {
					return n
				}
				return longStr
			}
		}
		if pattern, ok := val[markerRegex].(string); ok && len(val) <= 2 {
			opts, _ := val[markerOptions].(string)
			return primitive.Regex{Pattern: pattern, Options: opts}
		}
		for k, elem := range val {
			val[k] = revive(elem)
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = revive(val[i])
		}
		return val
	}
	return v
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// --- lexer helpers ---

func copyDoubleQuoted(out *strings.Builder, s string, i int) (int, error) {
	out.WriteByte('"')
	i++
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			out.WriteByte(c)
			out.WriteByte(s[i+1])
			i += 2
			continue
		}
		out.WriteByte(c)
		i++
		if c == '"' {
			return i, nil
		}
	}
	return 0, errors.New("unterminated string literal")
}

// readQuoted decodes a quoted string starting at s[i] (which must be the
// quote character) and returns the content with escapes resolved.
func readQuoted(s string, i int, quote byte) (string, int, error) {
	var b strings.Builder
	i++
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			esc := s[i+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"', '/':
				b.WriteByte(esc)
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, errors.New("unterminated string literal")
}

func readRegex(s string, i int) (pattern, flags string, next int, err error) {
	var b strings.Builder
	i++
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] == '/' {
				b.WriteByte('/')
			} else {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		if c == '/' {
			i++
			start := i
			for i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
				i++
			}
			return b.String(), s[start:i], i, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", "", 0, errors.New("unterminated regex literal")
}

func readIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return s[start:i], i
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func valuePosition(lastSig byte) bool {
	switch lastSig {
	case 0, '(', '[', '{', ',', ':':
		return true
	}
	return false
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func at(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// splitTopLevel splits s on sep outside strings and brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
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
		case '"', '\'':
			inString = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
