package tmd

import "fmt"

// TokenType identifies the type of a lexical token.
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF
	TOKEN_IDENT  // table, Sales, 'Sales Data'
	TOKEN_LBRACE // {
	TOKEN_RBRACE // }
	TOKEN_COLON  // :
	TOKEN_EXPR   // `...` opaque expression body
)

// String returns a readable name for the token type.
func (t TokenType) String() string {
	switch t {
	case TOKEN_ILLEGAL:
		return "ILLEGAL"
	case TOKEN_EOF:
		return "EOF"
	case TOKEN_IDENT:
		return "IDENT"
	case TOKEN_LBRACE:
		return "{"
	case TOKEN_RBRACE:
		return "}"
	case TOKEN_COLON:
		return ":"
	case TOKEN_EXPR:
		return "EXPR"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

// Position is a location in a source file.
type Position struct {
	Line   int // 1-based
	Column int // 1-based
	Offset int // 0-based byte offset
}

// Span is a half-open byte range [Start, End) in a source file.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Token is a lexical token with its source span.
type Token struct {
	Type    TokenType
	Literal string // normalized text; quotes stripped for quoted idents
	Quoted  bool   // identifier appeared single-quoted in the source
	Pos     Position
	End     int // byte offset just past the token
}

// Span returns the byte range the token occupies, including any quotes.
func (t Token) Span() Span {
	return Span{Start: t.Pos.Offset, End: t.End}
}
