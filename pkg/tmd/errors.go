package tmd

import "fmt"

// ParseError represents a parsing error with file and position information.
// Parsing a model directory is all-or-nothing: the first ParseError aborts
// the whole parse and no partial model is returned.
type ParseError struct {
	File    string
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Message)
}

// errorf builds a ParseError for the given file and position.
func errorf(file string, pos Position, format string, args ...any) *ParseError {
	return &ParseError{File: file, Pos: pos, Message: fmt.Sprintf(format, args...)}
}
