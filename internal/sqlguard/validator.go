// Package sqlguard statically validates that a SQL statement is read-only
// before it is allowed anywhere near the analytics database.
//
// Validation never executes or EXPLAINs the statement. It strips comments
// and string literals, confirms exactly one statement, and classifies it by
// leading keyword, rejecting anything that could write.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnsafe is returned for statements that are not provably read-only.
// Callers match it with errors.Is.
var ErrUnsafe = errors.New("unsafe query")

// writeKeywords are statement keywords that can mutate data or schema.
// Their appearance anywhere at token level fails validation, which also
// catches writable CTEs like WITH x AS (DELETE ... RETURNING *).
var writeKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"TRUNCATE": true,
	"REPLACE":  true,
	"MERGE":    true,
	"GRANT":    true,
	"REVOKE":   true,
	"COPY":     true,
	"VACUUM":   true,
	"ATTACH":   true,
	"DETACH":   true,
	"PRAGMA":   true,
	"EXEC":     true,
	"EXECUTE":  true,
	"CALL":     true,
	"DO":       true,
	"SET":      true,
	"LOCK":     true,
}

// Validate reports whether the statement is a single read-only query.
// Returns nil when it is, and an error wrapping ErrUnsafe when it is not.
func Validate(query string) error {
	stripped, err := stripLiterals(query)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafe, err)
	}

	tokens := tokenize(stripped)
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty statement", ErrUnsafe)
	}

	if n := statementCount(stripped); n > 1 {
		return fmt.Errorf("%w: expected a single statement, found %d", ErrUnsafe, n)
	}

	first := strings.ToUpper(tokens[0])
	if first != "SELECT" && first != "WITH" {
		return fmt.Errorf("%w: statement must start with SELECT, got %s", ErrUnsafe, first)
	}

	for _, tok := range tokens {
		if writeKeywords[strings.ToUpper(tok)] {
			return fmt.Errorf("%w: statement contains %s", ErrUnsafe, strings.ToUpper(tok))
		}
	}

	return nil
}

// stripLiterals removes comments and replaces string literals and quoted
// identifiers with placeholders so later keyword scanning cannot be fooled
// by quoted content. Unterminated literals or comments are an error: a
// statement that cannot be fully scanned cannot be trusted.
func stripLiterals(query string) (string, error) {
	var out strings.Builder
	s := query
	i := 0

	for i < len(s) {
		switch {
		// Line comment.
		case strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				i = len(s)
			} else {
				i += end + 1
				out.WriteByte(' ')
			}

		// Block comment (no nesting, matching SQL standard).
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return "", errors.New("unterminated block comment")
			}
			i += 2 + end + 2
			out.WriteByte(' ')

		// Single-quoted string literal, with '' escaping.
		case s[i] == '\'':
			j, err := scanQuoted(s, i, '\'')
			if err != nil {
				return "", err
			}
			out.WriteString(" 'str' ")
			i = j

		// Double-quoted identifier, with "" escaping.
		case s[i] == '"':
			j, err := scanQuoted(s, i, '"')
			if err != nil {
				return "", err
			}
			out.WriteString(" ident ")
			i = j

		// Dollar-quoted string (PostgreSQL), e.g. $$...$$ or $tag$...$tag$.
		case s[i] == '$':
			if tag, ok := dollarTag(s[i:]); ok {
				end := strings.Index(s[i+len(tag):], tag)
				if end < 0 {
					return "", errors.New("unterminated dollar-quoted string")
				}
				out.WriteString(" 'str' ")
				i += len(tag) + end + len(tag)
			} else {
				out.WriteByte(s[i])
				i++
			}

		default:
			out.WriteByte(s[i])
			i++
		}
	}

	return out.String(), nil
}

// scanQuoted returns the index just past a quoted region starting at start,
// honoring doubled-quote escapes.
func scanQuoted(s string, start int, quote byte) (int, error) {
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated %c-quoted literal", quote)
}

// dollarTag reports whether s starts a dollar-quote delimiter and returns it.
func dollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !unicode.IsLetter(rune(c)) && !unicode.IsDigit(rune(c)) && c != '_' {
			return "", false
		}
	}
	return "", false
}

// statementCount counts semicolon-separated statements with content.
// The input must already have literals stripped.
func statementCount(stripped string) int {
	n := 0
	for _, part := range strings.Split(stripped, ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

// tokenize splits stripped SQL into word tokens. Identifiers and keywords
// come out whole ("update_time" is one token, not UPDATE), so keyword
// matching is word-accurate.
func tokenize(stripped string) []string {
	return strings.FieldsFunc(stripped, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
