// Package dax provides a tokenizing scanner for the formula sub-language
// used in measure and calculated-column expressions.
//
// The scanner does not build an AST. It recognizes exactly the syntactic
// shapes a rename needs: bracket-qualified column references (Table[Column],
// 'Quoted Table'[Column]) and bare [Column] references, while tracking
// string-literal state so text inside "..." is never mistaken for a
// reference.
package dax

import "strings"

// Ref is one bracket reference found in an expression. Offsets are byte
// positions relative to the start of the scanned expression text.
//
// Table fields are zero-valued when the reference has no qualifier
// (a bare [Column] scoped to the host table).
type Ref struct {
	Table       string // qualifier name, unquoted form
	TableQuoted bool   // qualifier appeared as 'Name'
	TableStart  int    // span of the qualifier, including quotes
	TableEnd    int
	Column      string // column name as written between the brackets
	ColumnStart int    // span of the name inside the brackets
	ColumnEnd   int
}

// Qualified reports whether the reference carries a table qualifier.
func (r Ref) Qualified() bool { return r.TableEnd > r.TableStart }

// Scan finds every bracket reference in expr.
func Scan(expr string) []Ref {
	var refs []Ref
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == '"':
			i = skipString(expr, i)
		case ch == '\'':
			// Quoted table qualifier; only a reference when immediately
			// followed by an opening bracket.
			name, end := readQuoted(expr, i)
			if end < len(expr) && expr[end] == '[' {
				col, cs, ce, after := readBracket(expr, end)
				if after > end {
					refs = append(refs, Ref{
						Table:       name,
						TableQuoted: true,
						TableStart:  i,
						TableEnd:    end,
						Column:      col,
						ColumnStart: cs,
						ColumnEnd:   ce,
					})
					i = after
					continue
				}
			}
			i = end
		case ch == '[':
			col, cs, ce, after := readBracket(expr, i)
			if after > i {
				refs = append(refs, Ref{Column: col, ColumnStart: cs, ColumnEnd: ce})
				i = after
			} else {
				i++
			}
		case isIdentStart(ch):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			if i < len(expr) && expr[i] == '[' {
				col, cs, ce, after := readBracket(expr, i)
				if after > i {
					refs = append(refs, Ref{
						Table:       expr[start:i],
						TableStart:  start,
						TableEnd:    i,
						Column:      col,
						ColumnStart: cs,
						ColumnEnd:   ce,
					})
					i = after
				}
			}
		default:
			i++
		}
	}
	return refs
}

// skipString advances past a double-quoted string literal starting at i.
// Doubled quotes escape: "a""b" is one literal.
func skipString(expr string, i int) int {
	i++ // opening quote
	for i < len(expr) {
		if expr[i] == '"' {
			if i+1 < len(expr) && expr[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// readQuoted reads a single-quoted identifier starting at i and returns the
// unquoted name and the offset just past the closing quote. Doubled single
// quotes escape a literal quote.
func readQuoted(expr string, i int) (string, int) {
	var b strings.Builder
	i++ // opening quote
	for i < len(expr) {
		if expr[i] == '\'' {
			if i+1 < len(expr) && expr[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return b.String(), i + 1
		}
		b.WriteByte(expr[i])
		i++
	}
	return b.String(), i
}

// readBracket reads a [Name] reference starting at the opening bracket.
// A doubled closing bracket escapes a literal ] in the name. Returns the
// name, its inner span, and the offset just past the closing bracket; a
// zero after offset means no well-formed reference was found.
func readBracket(expr string, open int) (name string, start, end, after int) {
	i := open + 1
	nameStart := i
	var b strings.Builder
	for i < len(expr) {
		if expr[i] == ']' {
			if i+1 < len(expr) && expr[i+1] == ']' {
				b.WriteByte(']')
				i += 2
				continue
			}
			return b.String(), nameStart, i, i + 1
		}
		if expr[i] == '[' || expr[i] == '\n' {
			return "", 0, 0, 0
		}
		b.WriteByte(expr[i])
		i++
	}
	return "", 0, 0, 0
}

// NeedsQuote reports whether a table name must be single-quoted when used
// as a bracket qualifier. Any character outside the unquoted identifier
// charset, or a leading digit, forces quoting.
func NeedsQuote(name string) bool {
	if name == "" {
		return true
	}
	if name[0] >= '0' && name[0] <= '9' {
		return true
	}
	for i := 0; i < len(name); i++ {
		if !isIdentPart(name[i]) {
			return true
		}
	}
	return false
}

// QuoteTable renders a table name for use as a bracket qualifier, quoting
// only when required by the name's character content.
func QuoteTable(name string) string {
	if !NeedsQuote(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// EscapeColumn renders a column name for use between brackets. Brackets
// delimit the name, so only a literal ] needs escaping.
func EscapeColumn(name string) string {
	return strings.ReplaceAll(name, "]", "]]")
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
