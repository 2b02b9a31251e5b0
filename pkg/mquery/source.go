package mquery

import (
	"fmt"
	"strings"
)

// ValueKind discriminates access-call argument values.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueIdent
	ValueCall
	ValueRecord
)

// Value is one argument of an access-function call.
type Value struct {
	Kind   ValueKind
	Str    string      // ValueString
	Num    string      // ValueNumber, kept as written
	Ident  string      // ValueIdent (true, null, ...)
	Call   *AccessCall // ValueCall
	Record []Field     // ValueRecord
}

// Field is a name/value pair inside a record value or navigation record.
type Field struct {
	Name  string
	Value Value
}

// NavStep is one navigation applied to an access call's result: either a
// keyed record lookup {[Name="x", ...]} or a field access [Data].
type NavStep struct {
	Record []Field // keyed lookup; nil for a field access
	Field  string  // field access; empty for a keyed lookup
}

// AccessCall is the structured form of a partition's source step: a dotted
// function name, ordered arguments, and any navigation applied to the
// result. It is the only part of the query sub-language parsed into a
// structure rather than scanned, because the migration engine replaces it
// mechanically.
type AccessCall struct {
	Func string
	Args []Value
	Nav  []NavStep
}

// SourceError reports a source step that does not parse as an access call.
type SourceError struct {
	Offset  int
	Message string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("invalid source step at offset %d: %s", e.Offset, e.Message)
}

type sourceParser struct {
	input string
	pos   int
}

// ParseAccessCall parses a source-step expression into an AccessCall.
func ParseAccessCall(expr string) (*AccessCall, error) {
	p := &sourceParser{input: expr}
	p.skipSpace()
	call, err := p.parseCall()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, p.errorf("unexpected trailing text %q", p.input[p.pos:])
	}
	return call, nil
}

func (p *sourceParser) errorf(format string, args ...any) *SourceError {
	return &SourceError{Offset: p.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *sourceParser) skipSpace() {
	for p.pos < len(p.input) && isSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *sourceParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *sourceParser) expect(ch byte) error {
	if p.peek() != ch {
		return p.errorf("expected %q", string(ch))
	}
	p.pos++
	return nil
}

func (p *sourceParser) parseCall() (*AccessCall, error) {
	name, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	call := &AccessCall{Func: name}
	p.skipSpace()
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() != ')' {
		for {
			arg, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
				p.skipSpace()
				continue
			}
			break
		}
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '{':
			p.pos++
			p.skipSpace()
			if err := p.expect('['); err != nil {
				return nil, err
			}
			fields, err := p.parseFields()
			if err != nil {
				return nil, err
			}
			if err := p.expect(']'); err != nil {
				return nil, err
			}
			p.skipSpace()
			if err := p.expect('}'); err != nil {
				return nil, err
			}
			call.Nav = append(call.Nav, NavStep{Record: fields})
		case '[':
			p.pos++
			p.skipSpace()
			field, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			p.skipSpace()
			if err := p.expect(']'); err != nil {
				return nil, err
			}
			call.Nav = append(call.Nav, NavStep{Field: field})
		default:
			return call, nil
		}
	}
}

func (p *sourceParser) parseDottedName() (string, error) {
	start := p.pos
	for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected function name")
	}
	return p.input[start:p.pos], nil
}

func (p *sourceParser) parseIdent() (string, error) {
	if p.peek() == '#' {
		name, end, ok := readQuotedIdent(p.input, p.pos)
		if !ok {
			return "", p.errorf("unterminated quoted identifier")
		}
		p.pos = end
		return name, nil
	}
	start := p.pos
	for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected identifier")
	}
	return p.input[start:p.pos], nil
}

func (p *sourceParser) parseFields() ([]Field, error) {
	var fields []Field
	for {
		p.skipSpace()
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect('='); err != nil {
			return nil, err
		}
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Value: val})
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		return fields, nil
	}
}

func (p *sourceParser) parseValue() (Value, error) {
	p.skipSpace()
	switch ch := p.peek(); {
	case ch == '"':
		end := skipMString(p.input, p.pos)
		if end <= p.pos+1 || p.input[end-1] != '"' {
			return Value{}, p.errorf("unterminated string")
		}
		s := unescapeMString(p.input[p.pos+1 : end-1])
		p.pos = end
		return Value{Kind: ValueString, Str: s}, nil
	case ch == '[':
		p.pos++
		fields, err := p.parseFields()
		if err != nil {
			return Value{}, err
		}
		if err := p.expect(']'); err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueRecord, Record: fields}, nil
	case ch >= '0' && ch <= '9':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] == '.' || (p.input[p.pos] >= '0' && p.input[p.pos] <= '9')) {
			p.pos++
		}
		return Value{Kind: ValueNumber, Num: p.input[start:p.pos]}, nil
	case isIdentStart(ch):
		start := p.pos
		for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
			p.pos++
		}
		name := p.input[start:p.pos]
		p.skipSpace()
		if p.peek() == '(' {
			p.pos = start
			call, err := p.parseCall()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: ValueCall, Call: call}, nil
		}
		return Value{Kind: ValueIdent, Ident: name}, nil
	default:
		return Value{}, p.errorf("unexpected character %q", string(ch))
	}
}

// String renders the access call back to canonical query-language text.
func (c *AccessCall) String() string {
	var b strings.Builder
	b.WriteString(c.Func)
	b.WriteByte('(')
	for i, arg := range c.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.String())
	}
	b.WriteByte(')')
	for _, nav := range c.Nav {
		if nav.Field != "" {
			b.WriteByte('[')
			b.WriteString(nav.Field)
			b.WriteByte(']')
			continue
		}
		b.WriteString("{[")
		for i, f := range nav.Record {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteByte('=')
			b.WriteString(f.Value.String())
		}
		b.WriteString("]}")
	}
	return b.String()
}

// String renders a value back to query-language text.
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return `"` + EscapeString(v.Str) + `"`
	case ValueNumber:
		return v.Num
	case ValueIdent:
		return v.Ident
	case ValueCall:
		return v.Call.String()
	case ValueRecord:
		var b strings.Builder
		b.WriteByte('[')
		for i, f := range v.Record {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteByte('=')
			b.WriteString(f.Value.String())
		}
		b.WriteByte(']')
		return b.String()
	default:
		return ""
	}
}

// NavItem returns the string value of the first navigation-record field
// with the given name, searching all keyed lookups in order.
func (c *AccessCall) NavItem(field string) (string, bool) {
	for _, nav := range c.Nav {
		for _, f := range nav.Record {
			if f.Name == field && f.Value.Kind == ValueString {
				return f.Value.Str, true
			}
		}
	}
	return "", false
}

// StringArg returns the i-th argument if it is a string literal.
func (c *AccessCall) StringArg(i int) (string, bool) {
	if i < 0 || i >= len(c.Args) || c.Args[i].Kind != ValueString {
		return "", false
	}
	return c.Args[i].Str, true
}
