// Package mquery provides a tokenizing scanner and a source-step parser for
// the query sub-language used in partition pipelines.
//
// Like the formula scanner, this package never builds a full AST for step
// expressions. It finds identifier occurrence sites (field accesses, quoted
// identifiers, navigation-record string values) with string-literal state
// tracking, and it fully parses only the access-function call that forms a
// partition's source step.
package mquery

import "strings"

// RefKind classifies an identifier occurrence in a query expression.
type RefKind int

const (
	// RefFieldAccess is a bare [Field] record access.
	RefFieldAccess RefKind = iota
	// RefQuotedIdent is a #"quoted identifier".
	RefQuotedIdent
	// RefIdent is a bare identifier outside any string literal.
	RefIdent
	// RefNavField is the string value of a navigation-record field such as
	// Item="Sales" or Name="SALES"; Field holds the record field name.
	RefNavField
)

// Ref is one identifier occurrence. Offsets are byte positions relative to
// the start of the scanned expression text. RefNavField spans cover only the
// content between the quotes; identifier spans cover the whole token
// including any #"..." quoting, so a substitution can drop or add the
// quoting as the new name requires.
type Ref struct {
	Kind  RefKind
	Name  string
	Field string // record field name, RefNavField only
	Start int
	End   int
}

// Scan finds every identifier occurrence in expr.
func Scan(expr string) []Ref {
	var refs []Ref
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == '"':
			i = skipMString(expr, i)
		case ch == '#' && i+1 < len(expr) && expr[i+1] == '"':
			name, end, _ := readQuotedIdent(expr, i)
			refs = append(refs, Ref{Kind: RefQuotedIdent, Name: name, Start: i, End: end})
			i = end
		case ch == '[':
			if rs, after, ok := scanRecord(expr, i); ok {
				refs = append(refs, rs...)
				i = after
				continue
			}
			if name, start, end, after, ok := scanFieldAccess(expr, i); ok {
				refs = append(refs, Ref{Kind: RefFieldAccess, Name: name, Start: start, End: end})
				i = after
				continue
			}
			i++
		case isIdentStart(ch):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			refs = append(refs, Ref{Kind: RefIdent, Name: expr[start:i], Start: start, End: i})
		default:
			i++
		}
	}
	return refs
}

// scanFieldAccess matches [Ident] or [#"Quoted Ident"] starting at the
// opening bracket. The span covers the identifier token inside the brackets.
func scanFieldAccess(expr string, open int) (name string, start, end, after int, ok bool) {
	i := open + 1
	for i < len(expr) && (expr[i] == ' ' || expr[i] == '\t') {
		i++
	}
	nameStart := i
	var nameEnd int
	if i+1 < len(expr) && expr[i] == '#' && expr[i+1] == '"' {
		var closed bool
		name, nameEnd, closed = readQuotedIdent(expr, i)
		if !closed {
			return "", 0, 0, 0, false
		}
		i = nameEnd
	} else {
		for i < len(expr) && isIdentPart(expr[i]) {
			i++
		}
		if i == nameStart {
			return "", 0, 0, 0, false
		}
		nameEnd = i
		name = expr[nameStart:nameEnd]
	}
	for i < len(expr) && (expr[i] == ' ' || expr[i] == '\t') {
		i++
	}
	if i >= len(expr) || expr[i] != ']' {
		return "", 0, 0, 0, false
	}
	return name, nameStart, nameEnd, i + 1, true
}

// scanRecord matches a [Field="value", ...] navigation record starting at
// the opening bracket and returns one RefNavField per string-valued field.
func scanRecord(expr string, open int) ([]Ref, int, bool) {
	var refs []Ref
	i := open + 1
	sawField := false
	for i < len(expr) {
		for i < len(expr) && isSpace(expr[i]) {
			i++
		}
		fieldStart := i
		for i < len(expr) && isIdentPart(expr[i]) {
			i++
		}
		if i == fieldStart {
			return nil, 0, false
		}
		field := expr[fieldStart:i]
		for i < len(expr) && isSpace(expr[i]) {
			i++
		}
		if i >= len(expr) || expr[i] != '=' {
			return nil, 0, false
		}
		i++
		for i < len(expr) && isSpace(expr[i]) {
			i++
		}
		if i < len(expr) && expr[i] == '"' {
			valStart := i + 1
			valEnd := skipMString(expr, i)
			refs = append(refs, Ref{
				Kind:  RefNavField,
				Name:  unescapeMString(expr[valStart : valEnd-1]),
				Field: field,
				Start: valStart,
				End:   valEnd - 1,
			})
			i = valEnd
		} else {
			// Non-string field value: consume until the field separator.
			for i < len(expr) && expr[i] != ',' && expr[i] != ']' {
				i++
			}
		}
		sawField = true
		for i < len(expr) && isSpace(expr[i]) {
			i++
		}
		if i < len(expr) && expr[i] == ',' {
			i++
			continue
		}
		break
	}
	if i >= len(expr) || expr[i] != ']' || !sawField {
		return nil, 0, false
	}
	return refs, i + 1, true
}

// readQuotedIdent reads a #"..." identifier starting at the hash. end is the
// offset just past the closing quote; ok is false when the quote never
// closes.
func readQuotedIdent(expr string, hash int) (name string, end int, ok bool) {
	i := hash + 2
	contentStart := i
	for i < len(expr) {
		if expr[i] == '"' {
			if i+1 < len(expr) && expr[i+1] == '"' {
				i += 2
				continue
			}
			return unescapeMString(expr[contentStart:i]), i + 1, true
		}
		i++
	}
	return unescapeMString(expr[contentStart:i]), i, false
}

// skipMString advances past a double-quoted string literal starting at i.
// Doubled quotes escape.
func skipMString(expr string, i int) int {
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

func unescapeMString(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// NeedsQuote reports whether a name must be #"..."-quoted when used as a
// query-language identifier.
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

// QuoteIdent renders a name as a query-language identifier, quoting only
// when required.
func QuoteIdent(name string) string {
	if !NeedsQuote(name) {
		return name
	}
	return `#"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EscapeString renders a name for use inside a double-quoted string value.
func EscapeString(name string) string {
	return strings.ReplaceAll(name, `"`, `""`)
}

func isSpace(ch byte) bool { return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' }

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '.'
}
