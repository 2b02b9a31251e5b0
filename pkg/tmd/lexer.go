package tmd

import (
	"strings"
	"unicode"
)

// Lexer tokenizes definition-language input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// currentPos returns the current position.
func (l *Lexer) currentPos() Position {
	return Position{
		Line:   l.line,
		Column: l.col,
		Offset: l.pos,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()

	var tok Token
	tok.Pos = pos

	switch l.ch {
	case 0:
		tok.Type = TOKEN_EOF
		tok.Literal = ""
		tok.End = l.pos
		return tok
	case '{':
		tok.Type = TOKEN_LBRACE
		tok.Literal = "{"
	case '}':
		tok.Type = TOKEN_RBRACE
		tok.Literal = "}"
	case ':':
		tok.Type = TOKEN_COLON
		tok.Literal = ":"
	case '\'':
		tok.Type = TOKEN_IDENT
		tok.Literal = l.readQuotedIdentifier()
		tok.Quoted = true
		tok.End = l.pos
		return tok
	case '`':
		tok.Type = TOKEN_EXPR
		tok.Literal = l.readExpression()
		tok.End = l.pos
		return tok
	default:
		if isIdentStart(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = TOKEN_IDENT
			tok.End = l.pos
			return tok
		}
		tok.Type = TOKEN_ILLEGAL
		tok.Literal = string(l.ch)
	}

	l.readChar()
	tok.End = l.pos
	return tok
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		break
	}
}

// readQuotedIdentifier reads a single-quoted identifier.
// Handles doubled single quotes as escape: 'it''s' -> it's
func (l *Lexer) readQuotedIdentifier() string {
	l.readChar() // skip opening quote

	var result strings.Builder
	for l.ch != 0 {
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				result.WriteByte('\'')
				l.readChar() // skip first quote
				l.readChar() // skip second quote
			} else {
				l.readChar() // skip closing quote
				break
			}
		} else {
			result.WriteByte(l.ch)
			l.readChar()
		}
	}
	return result.String()
}

// readExpression reads a backtick-fenced opaque expression body.
// Backticks cannot appear inside an expression; the body is captured verbatim.
func (l *Lexer) readExpression() string {
	l.readChar() // skip opening backtick
	start := l.pos
	for l.ch != '`' && l.ch != 0 {
		l.readChar()
	}
	body := l.input[start:l.pos]
	if l.ch == '`' {
		l.readChar() // skip closing backtick
	}
	return body
}

// ExprBodySpan returns the span of the expression body inside a TOKEN_EXPR
// token span (the range between the backticks).
func ExprBodySpan(tok Token) Span {
	return Span{Start: tok.Pos.Offset + 1, End: tok.Pos.Offset + 1 + len(tok.Literal)}
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// ReadRestOfLine consumes the remainder of the current line as a raw property
// value, trimmed of surrounding whitespace. The returned span covers exactly
// the trimmed text.
func (l *Lexer) ReadRestOfLine() (string, Span) {
	for l.ch == ' ' || l.ch == '\t' {
		l.readChar()
	}
	start := l.pos
	for l.ch != '\n' && l.ch != '\r' && l.ch != 0 {
		l.readChar()
	}
	end := l.pos
	for end > start && (l.input[end-1] == ' ' || l.input[end-1] == '\t') {
		end--
	}
	return l.input[start:end], Span{Start: start, End: end}
}

// PeekByte returns the next significant byte without consuming tokens.
// Used by the parser to decide between a backtick expression value and a
// raw line value after a colon.
func (l *Lexer) PeekByte() byte {
	p := l.pos
	for p < len(l.input) && (l.input[p] == ' ' || l.input[p] == '\t') {
		p++
	}
	if p >= len(l.input) {
		return 0
	}
	return l.input[p]
}

// isIdentStart returns true if ch can start an unquoted identifier.
func isIdentStart(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

// isIdentPart returns true if ch can appear in an unquoted identifier.
func isIdentPart(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_'
}
