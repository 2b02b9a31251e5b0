package tmd

import "strings"

// NeedsQuote reports whether a name must be single-quoted in the definition
// language. Anything outside the unquoted identifier charset, or a leading
// digit, forces quoting; Unicode or reserved punctuation is always quoted
// and verified by the re-parse self-check rather than a wider charset rule.
func NeedsQuote(name string) bool {
	if name == "" {
		return true
	}
	if name[0] >= '0' && name[0] <= '9' {
		return true
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		return true
	}
	return false
}

// Quote renders a name as a definition-language identifier, quoting only
// when the name's character content requires it.
func Quote(name string) string {
	if !NeedsQuote(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ValidName reports whether a name is acceptable as a new table or column
// name: non-empty, no control characters, and no backtick (expression
// fences) or bracket (formula reference delimiters the column escape rule
// cannot round-trip through the definition language).
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == '`' || r == '[' {
			return false
		}
	}
	return true
}
