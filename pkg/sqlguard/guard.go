// Package sqlguard decides whether a SQL string may be executed against the
// read-only query surface. Admission is two checks run in order: a coarse
// mutating-keyword denylist (substring match anywhere, including comments and
// literals) and a statement-level classification that requires exactly one
// read-only statement.
package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
)

// DenylistKeywords are rejected wherever they appear in the input, even
// inside comments or string literals. The match is deliberately coarse.
var DenylistKeywords = []string{"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE"}

// StatementKind is the classified kind of a single SQL statement.
type StatementKind string

const (
	KindSelect   StatementKind = "SELECT"
	KindWith     StatementKind = "WITH"
	KindPragma   StatementKind = "PRAGMA"
	KindExplain  StatementKind = "EXPLAIN"
	KindDescribe StatementKind = "DESCRIBE"
	KindShow     StatementKind = "SHOW"
	KindOther    StatementKind = "OTHER"
)

var readOnlyKinds = map[StatementKind]bool{
	KindSelect:   true,
	KindWith:     true,
	KindPragma:   true,
	KindExplain:  true,
	KindDescribe: true,
	KindShow:     true,
}

// RejectedStatementError reports why a statement was refused admission.
type RejectedStatementError struct {
	Reason string
}

func (e *RejectedStatementError) Error() string {
	return fmt.Sprintf("statement rejected: %s", e.Reason)
}

// Check returns nil if the input is admissible on the read-only surface, or a
// *RejectedStatementError describing the first violation. The store is never
// touched here.
func Check(sql string) error {
	upper := strings.ToUpper(sql)
	for _, kw := range DenylistKeywords {
		if strings.Contains(upper, kw) {
			return &RejectedStatementError{
				Reason: fmt.Sprintf("the keyword %s is not allowed on this read-only interface", kw),
			}
		}
	}

	stmts := SplitStatements(sql)
	if len(stmts) == 0 {
		return &RejectedStatementError{Reason: "empty SQL statement"}
	}
	if len(stmts) > 1 {
		return &RejectedStatementError{
			Reason: fmt.Sprintf("multiple SQL statements are not allowed (%d found); send one statement per query", len(stmts)),
		}
	}

	kind := Classify(stmts[0])
	if !readOnlyKinds[kind] {
		return &RejectedStatementError{
			Reason: fmt.Sprintf("statement kind %s is not allowed; only read-only statements (SELECT, WITH, PRAGMA, EXPLAIN, DESCRIBE, SHOW) are accepted", kind),
		}
	}
	return nil
}

// Classify returns the kind of a single statement based on its leading
// keyword, ignoring comments and whitespace.
func Classify(stmt string) StatementKind {
	kw := strings.ToUpper(firstKeyword(stmt))
	switch kw {
	case "SELECT":
		return KindSelect
	case "WITH":
		return KindWith
	case "PRAGMA":
		return KindPragma
	case "EXPLAIN":
		return KindExplain
	case "DESCRIBE", "DESC":
		return KindDescribe
	case "SHOW":
		return KindShow
	default:
		return KindOther
	}
}

// SplitStatements splits input on top-level semicolons, skipping string
// literals, quoted identifiers, and comments. Empty statements are dropped.
func SplitStatements(sql string) []string {
	var (
		stmts []string
		buf   strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if s != "" {
			stmts = append(stmts, s)
		}
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			// Quoted literal or identifier; consume through the closing
			// quote, honoring doubled-quote escapes.
			quote := c
			buf.WriteRune(c)
			for i++; i < len(runes); i++ {
				buf.WriteRune(runes[i])
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						i++
						buf.WriteRune(runes[i])
						continue
					}
					break
				}
			}
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			buf.WriteRune(' ')
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			buf.WriteRune(' ')
		case c == ';':
			flush()
		default:
			buf.WriteRune(c)
		}
	}
	flush()
	return stmts
}

// firstKeyword returns the first run of letters in the statement.
func firstKeyword(stmt string) string {
	start := -1
	for i, c := range stmt {
		if unicode.IsLetter(c) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return stmt[start:i]
		}
	}
	if start >= 0 {
		return stmt[start:]
	}
	return ""
}
