package sqlutil

import "strings"

// SplitStatements splits a SQL buffer on top-level semicolons. Semicolons
// inside single-quoted strings, double-quoted identifiers, line comments,
// block comments, and dollar-quoted bodies ($$...$$ or $tag$...$tag$) do not
// terminate a statement. Output statements are trimmed; empty ones dropped.
func SplitStatements(sql string) []string {
	var (
		statements []string
		start      int
	)

	const (
		stNormal = iota
		stSingleQuote
		stDoubleQuote
		stLineComment
		stBlockComment
		stDollarQuote
	)

	state := stNormal
	dollarTag := ""

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		switch state {
		case stNormal:
			switch {
			case c == '\'':
				state = stSingleQuote
			case c == '"':
				state = stDoubleQuote
			case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state = stLineComment
				i++
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = stBlockComment
				i++
			case c == '$':
				if tag, ok := dollarTagAt(sql, i); ok {
					state = stDollarQuote
					dollarTag = tag
					i += len(tag) - 1
				}
			case c == ';':
				if stmt := strings.TrimSpace(sql[start:i]); stmt != "" {
					statements = append(statements, stmt)
				}
				start = i + 1
			}

		case stSingleQuote:
			if c == '\\' && i+1 < len(sql) {
				i++ // skip escaped character
			} else if c == '\'' {
				state = stNormal
			}

		case stDoubleQuote:
			if c == '\\' && i+1 < len(sql) {
				i++
			} else if c == '"' {
				state = stNormal
			}

		case stLineComment:
			if c == '\n' {
				state = stNormal
			}

		case stBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				state = stNormal
				i++
			}

		case stDollarQuote:
			if c == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				i += len(dollarTag) - 1
				state = stNormal
				dollarTag = ""
			}
		}
	}

	if stmt := strings.TrimSpace(sql[start:]); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// ContainsKeyword reports whether keyword appears as a bare word in sql,
// ignoring occurrences inside single-quoted strings, quoted identifiers,
// comments, and dollar-quoted bodies. The match is case-insensitive.
func ContainsKeyword(sql, keyword string) bool {
	const (
		stNormal = iota
		stSingleQuote
		stDoubleQuote
		stLineComment
		stBlockComment
		stDollarQuote
	)

	state := stNormal
	dollarTag := ""

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		switch state {
		case stNormal:
			switch {
			case c == '\'':
				state = stSingleQuote
			case c == '"':
				state = stDoubleQuote
			case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state = stLineComment
				i++
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = stBlockComment
				i++
			case c == '$':
				if tag, ok := dollarTagAt(sql, i); ok {
					state = stDollarQuote
					dollarTag = tag
					i += len(tag) - 1
				}
			default:
				if keywordAt(sql, i, keyword) {
					return true
				}
			}

		case stSingleQuote:
			if c == '\\' && i+1 < len(sql) {
				i++
			} else if c == '\'' {
				state = stNormal
			}

		case stDoubleQuote:
			if c == '\\' && i+1 < len(sql) {
				i++
			} else if c == '"' {
				state = stNormal
			}

		case stLineComment:
			if c == '\n' {
				state = stNormal
			}

		case stBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				state = stNormal
				i++
			}

		case stDollarQuote:
			if c == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				i += len(dollarTag) - 1
				state = stNormal
				dollarTag = ""
			}
		}
	}
	return false
}

// keywordAt reports a case-insensitive word-boundary match at position i.
func keywordAt(sql string, i int, keyword string) bool {
	if i > 0 && isTagChar(sql[i-1]) {
		return false
	}
	end := i + len(keyword)
	if end > len(sql) || !strings.EqualFold(sql[i:end], keyword) {
		return false
	}
	return end == len(sql) || !isTagChar(sql[end])
}

// dollarTagAt reports whether sql[i:] opens a dollar-quote token ($$, $tag$)
// and returns the full token including both dollar signs.
func dollarTagAt(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) {
		c := sql[j]
		if c == '$' {
			return sql[i : j+1], true
		}
		if !isTagChar(c) {
			return "", false
		}
		j++
	}
	return "", false
}

func isTagChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
