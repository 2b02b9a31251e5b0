// Package tmd parses the tabular definition language: a directory of .tmd
// files describing tables, columns, measures, partitions, relationships and
// security roles in a braced block syntax
// (keyword identifier { property: value ... }).
//
// Expression bodies (measures, calculated columns, pipeline steps) are
// captured as opaque backtick-fenced strings with their byte spans; only a
// partition's first step is parsed further, into a structured access call.
// Parsing is all-or-nothing per directory: any error aborts with a
// ParseError and no partial model is returned.
package tmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/remodel-labs/remodel/pkg/mquery"
)

// Well-known layout of a model directory.
const (
	DefinitionDir     = "definition"
	TablesDir         = "definition/tables"
	RolesDir          = "definition/roles"
	ModelFile         = "definition/model.tmd"
	RelationshipsFile = "definition/relationships.tmd"
	FileExt           = ".tmd"
)

// Parse reads a model directory from disk and parses it into a
// SemanticModel.
func Parse(root string) (*SemanticModel, error) {
	files := make(map[string]string)

	defDir := filepath.Join(root, DefinitionDir)
	if _, err := os.Stat(defDir); err != nil {
		return nil, fmt.Errorf("model directory has no %s folder: %w", DefinitionDir, err)
	}

	for _, rel := range []string{ModelFile, RelationshipsFile} {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", rel, err)
		}
		files[rel] = string(data)
	}

	for _, dir := range []string{TablesDir, RolesDir} {
		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(dir)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
				continue
			}
			rel := path.Join(dir, e.Name())
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", rel, err)
			}
			files[rel] = string(data)
		}
	}

	return ParseFiles(root, files)
}

// ParseFiles parses an in-memory file set keyed by slash-separated paths
// relative to the model root. The engine uses this to re-parse rewritten
// content as a self-check before committing a transaction.
func ParseFiles(root string, files map[string]string) (*SemanticModel, error) {
	model := &SemanticModel{
		Root:  root,
		Files: make(map[string]*SourceFile, len(files)),
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		model.Files[p] = &SourceFile{Path: p, Content: files[p]}
	}

	for _, p := range paths {
		content := files[p]
		switch {
		case p == ModelFile:
			if err := bindModelFile(model, p, content); err != nil {
				return nil, err
			}
		case p == RelationshipsFile:
			if err := bindRelationshipsFile(model, p, content); err != nil {
				return nil, err
			}
		case path.Dir(p) == TablesDir && strings.HasSuffix(p, FileExt):
			if err := bindTableFile(model, p, content); err != nil {
				return nil, err
			}
		case path.Dir(p) == RolesDir && strings.HasSuffix(p, FileExt):
			if err := bindRoleFile(model, p, content); err != nil {
				return nil, err
			}
		}
	}

	if err := validate(model); err != nil {
		return nil, err
	}
	return model, nil
}

// --- block-tree stage ---

type prop struct {
	Key       Token
	Value     string
	ValueSpan Span
	IsExpr    bool
}

type block struct {
	Keyword   Token
	Name      Token
	HasName   bool
	Props     []prop
	Children  []*block
	RefTables []Token
}

func (b *block) prop(key string) (prop, bool) {
	for _, p := range b.Props {
		if p.Key.Literal == key {
			return p, true
		}
	}
	return prop{}, false
}

type fileParser struct {
	file string
	lex  *Lexer
	cur  Token
}

func newFileParser(file, content string) *fileParser {
	p := &fileParser{file: file, lex: NewLexer(content)}
	p.next()
	return p
}

func (p *fileParser) next() { p.cur = p.lex.NextToken() }

func (p *fileParser) errorf(pos Position, format string, args ...any) *ParseError {
	return errorf(p.file, pos, format, args...)
}

// parseTopBlocks parses a whole file as a sequence of blocks.
func (p *fileParser) parseTopBlocks() ([]*block, error) {
	var blocks []*block
	for p.cur.Type != TOKEN_EOF {
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (p *fileParser) parseBlock() (*block, error) {
	if p.cur.Type != TOKEN_IDENT {
		return nil, p.errorf(p.cur.Pos, "expected block keyword, got %s", p.cur.Type)
	}
	keyword := p.cur
	p.next()
	return p.parseBlockBody(keyword)
}

// parseBlockBody parses the optional name and braced body of a block whose
// keyword token has already been consumed.
func (p *fileParser) parseBlockBody(keyword Token) (*block, error) {
	b := &block{Keyword: keyword}

	if p.cur.Type == TOKEN_IDENT {
		b.Name = p.cur
		b.HasName = true
		p.next()
	}
	if p.cur.Type != TOKEN_LBRACE {
		return nil, p.errorf(p.cur.Pos, "expected { after %q, got %s", keyword.Literal, p.cur.Type)
	}
	p.next()

	for p.cur.Type != TOKEN_RBRACE {
		switch p.cur.Type {
		case TOKEN_EOF:
			return nil, p.errorf(p.cur.Pos, "unexpected end of file inside %q block", keyword.Literal)
		case TOKEN_IDENT:
			if p.cur.Literal == "ref" && !p.cur.Quoted {
				if err := p.parseRefEntry(b); err != nil {
					return nil, err
				}
				continue
			}
			key := p.cur
			p.next()
			switch p.cur.Type {
			case TOKEN_COLON:
				pr, err := p.parsePropValue(key)
				if err != nil {
					return nil, err
				}
				b.Props = append(b.Props, pr)
			case TOKEN_IDENT, TOKEN_LBRACE:
				child, err := p.parseBlockBody(key)
				if err != nil {
					return nil, err
				}
				b.Children = append(b.Children, child)
			default:
				return nil, p.errorf(p.cur.Pos, "expected : or block after %q, got %s", key.Literal, p.cur.Type)
			}
		default:
			return nil, p.errorf(p.cur.Pos, "unexpected %s in %q block", p.cur.Type, keyword.Literal)
		}
	}
	p.next() // consume }
	return b, nil
}

// parsePropValue parses the value after "key:". A backtick fence yields an
// opaque expression value; anything else is the raw remainder of the line.
func (p *fileParser) parsePropValue(key Token) (prop, error) {
	// cur is the colon; the lexer has not read past it.
	if p.lex.PeekByte() == '`' {
		p.next()
		if p.cur.Type != TOKEN_EXPR {
			return prop{}, p.errorf(p.cur.Pos, "expected expression value for %q", key.Literal)
		}
		pr := prop{Key: key, Value: p.cur.Literal, ValueSpan: ExprBodySpan(p.cur), IsExpr: true}
		p.next()
		return pr, nil
	}
	value, span := p.lex.ReadRestOfLine()
	if value == "" {
		return prop{}, p.errorf(p.cur.Pos, "missing value for property %q", key.Literal)
	}
	pr := prop{Key: key, Value: value, ValueSpan: span}
	p.next()
	return pr, nil
}

// parseRefEntry parses a "ref table <name>" entry; cur is the ref keyword.
func (p *fileParser) parseRefEntry(b *block) error {
	refPos := p.cur.Pos
	p.next()
	if p.cur.Type != TOKEN_IDENT || p.cur.Literal != "table" || p.cur.Quoted {
		return p.errorf(refPos, "expected 'table' after 'ref'")
	}
	p.next()
	if p.cur.Type != TOKEN_IDENT {
		return p.errorf(p.cur.Pos, "expected table name after 'ref table'")
	}
	b.RefTables = append(b.RefTables, p.cur)
	p.next()
	return nil
}

// --- binding stage ---

func tokenIdent(tok Token) Ident {
	return Ident{Name: tok.Literal, Quoted: tok.Quoted, Span: tok.Span(), Pos: tok.Pos}
}

func bindModelFile(m *SemanticModel, file, content string) error {
	p := newFileParser(file, content)
	blocks, err := p.parseTopBlocks()
	if err != nil {
		return err
	}
	if len(blocks) != 1 || blocks[0].Keyword.Literal != "model" {
		return errorf(file, Position{Line: 1, Column: 1}, "model file must contain exactly one model block")
	}
	b := blocks[0]
	if !b.HasName {
		return errorf(file, b.Keyword.Pos, "model block requires a name")
	}
	m.Name = b.Name.Literal
	m.ModelFile = file
	for _, ref := range b.RefTables {
		m.RefTables = append(m.RefTables, tokenIdent(ref))
	}
	for _, child := range b.Children {
		if child.Keyword.Literal != "measure" {
			continue
		}
		ms, err := bindMeasure(file, "", child)
		if err != nil {
			return err
		}
		m.Measures = append(m.Measures, ms)
	}
	return nil
}

func bindTableFile(m *SemanticModel, file, content string) error {
	p := newFileParser(file, content)
	blocks, err := p.parseTopBlocks()
	if err != nil {
		return err
	}
	if len(blocks) != 1 || blocks[0].Keyword.Literal != "table" {
		return errorf(file, Position{Line: 1, Column: 1}, "table file must contain exactly one table block")
	}
	b := blocks[0]
	if !b.HasName {
		return errorf(file, b.Keyword.Pos, "table block requires a name")
	}

	table := &Table{Name: tokenIdent(b.Name), File: file}

	base := strings.TrimSuffix(path.Base(file), FileExt)
	if base != table.Name.Name {
		return errorf(file, b.Name.Pos, "table file name %q does not match table name %q", base, table.Name.Name)
	}

	if hidden, ok := b.prop("isHidden"); ok && hidden.Value == "true" {
		table.IsHidden = true
	}

	for _, child := range b.Children {
		switch child.Keyword.Literal {
		case "column":
			col, err := bindColumn(file, child)
			if err != nil {
				return err
			}
			table.Columns = append(table.Columns, col)
		case "measure":
			ms, err := bindMeasure(file, table.Name.Name, child)
			if err != nil {
				return err
			}
			table.Measures = append(table.Measures, ms)
		case "partition":
			if table.Partition != nil {
				return errorf(file, child.Keyword.Pos, "table %q has more than one partition", table.Name.Name)
			}
			part, err := bindPartition(file, child)
			if err != nil {
				return err
			}
			table.Partition = part
		}
	}

	m.Tables = append(m.Tables, table)
	return nil
}

func bindColumn(file string, b *block) (*Column, error) {
	if !b.HasName {
		return nil, errorf(file, b.Keyword.Pos, "column block requires a name")
	}
	col := &Column{Name: tokenIdent(b.Name)}

	if dt, ok := b.prop("dataType"); ok {
		col.DataType = dt.Value
	}
	if calc, ok := b.prop("isCalculated"); ok && calc.Value == "true" {
		col.IsCalculated = true
	}
	if src, ok := b.prop("sourceColumn"); ok {
		name, _ := unquoteValue(src.Value)
		col.SourceColumn = name
		col.SourceColumnSpan = src.ValueSpan
	}
	if expr, ok := b.prop("expression"); ok {
		if !expr.IsExpr {
			return nil, errorf(file, expr.Key.Pos, "column expression must be backtick-fenced")
		}
		col.Expression = &Expr{Text: expr.Value, Span: expr.ValueSpan}
	}

	if col.IsCalculated && col.Expression == nil {
		return nil, errorf(file, b.Name.Pos, "calculated column %q has no expression", col.Name.Name)
	}
	if !col.IsCalculated && col.Expression != nil {
		return nil, errorf(file, b.Name.Pos, "column %q has an expression but is not calculated", col.Name.Name)
	}
	if !col.IsCalculated && col.SourceColumn == "" {
		// Display name doubles as the source column name.
		col.SourceColumn = col.Name.Name
	}
	return col, nil
}

func bindMeasure(file, table string, b *block) (*Measure, error) {
	if !b.HasName {
		return nil, errorf(file, b.Keyword.Pos, "measure block requires a name")
	}
	ms := &Measure{Name: tokenIdent(b.Name), File: file, Table: table}

	expr, ok := b.prop("expression")
	if !ok {
		return nil, errorf(file, b.Name.Pos, "measure %q has no expression", ms.Name.Name)
	}
	if !expr.IsExpr {
		return nil, errorf(file, expr.Key.Pos, "measure expression must be backtick-fenced")
	}
	ms.Expression = &Expr{Text: expr.Value, Span: expr.ValueSpan}

	if fs, ok := b.prop("formatString"); ok {
		ms.FormatString = fs.Value
	}
	if df, ok := b.prop("displayFolder"); ok {
		ms.DisplayFolder = df.Value
	}
	return ms, nil
}

func bindPartition(file string, b *block) (*Partition, error) {
	if !b.HasName {
		return nil, errorf(file, b.Keyword.Pos, "partition block requires a name")
	}
	part := &Partition{Name: tokenIdent(b.Name)}

	if mode, ok := b.prop("mode"); ok {
		part.Mode = mode.Value
	}

	for _, child := range b.Children {
		if child.Keyword.Literal != "step" {
			continue
		}
		if !child.HasName {
			return nil, errorf(file, child.Keyword.Pos, "step block requires a name")
		}
		expr, ok := child.prop("expression")
		if !ok {
			return nil, errorf(file, child.Name.Pos, "step %q has no expression", child.Name.Literal)
		}
		if !expr.IsExpr {
			return nil, errorf(file, expr.Key.Pos, "step expression must be backtick-fenced")
		}
		part.Steps = append(part.Steps, &Step{
			Name: tokenIdent(child.Name),
			Expr: Expr{Text: expr.Value, Span: expr.ValueSpan},
		})
	}

	if len(part.Steps) == 0 {
		return nil, errorf(file, b.Name.Pos, "partition %q has no steps", part.Name.Name)
	}

	// The first step identifies the data source and must parse into a
	// structured access call; later steps stay opaque.
	first := part.Steps[0]
	call, err := mquery.ParseAccessCall(first.Expr.Text)
	if err != nil {
		return nil, errorf(file, first.Name.Pos, "source step %q: %v", first.Name.Name, err)
	}
	first.Source = call

	return part, nil
}

func bindRelationshipsFile(m *SemanticModel, file, content string) error {
	p := newFileParser(file, content)
	blocks, err := p.parseTopBlocks()
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if b.Keyword.Literal != "relationship" {
			return errorf(file, b.Keyword.Pos, "expected relationship block, got %q", b.Keyword.Literal)
		}
		if !b.HasName {
			return errorf(file, b.Keyword.Pos, "relationship block requires an id")
		}
		rel := &Relationship{ID: b.Name.Literal, File: file, IsActive: true}

		from, ok := b.prop("fromColumn")
		if !ok {
			return errorf(file, b.Name.Pos, "relationship %q has no fromColumn", rel.ID)
		}
		rel.From, err = parseEndpoint(file, from)
		if err != nil {
			return err
		}
		to, ok := b.prop("toColumn")
		if !ok {
			return errorf(file, b.Name.Pos, "relationship %q has no toColumn", rel.ID)
		}
		rel.To, err = parseEndpoint(file, to)
		if err != nil {
			return err
		}
		if card, ok := b.prop("cardinality"); ok {
			rel.Cardinality = card.Value
		}
		if cf, ok := b.prop("crossFilter"); ok {
			rel.CrossFilter = cf.Value
		}
		if active, ok := b.prop("isActive"); ok && active.Value == "false" {
			rel.IsActive = false
		}
		m.Relationships = append(m.Relationships, rel)
	}
	return nil
}

func bindRoleFile(m *SemanticModel, file, content string) error {
	p := newFileParser(file, content)
	blocks, err := p.parseTopBlocks()
	if err != nil {
		return err
	}
	if len(blocks) != 1 || blocks[0].Keyword.Literal != "role" {
		return errorf(file, Position{Line: 1, Column: 1}, "role file must contain exactly one role block")
	}
	b := blocks[0]
	if !b.HasName {
		return errorf(file, b.Keyword.Pos, "role block requires a name")
	}
	role := &Role{Name: tokenIdent(b.Name), File: file}

	if mp, ok := b.prop("modelPermission"); ok {
		role.ModelPermission = mp.Value
	}
	for _, child := range b.Children {
		if child.Keyword.Literal != "tablePermission" {
			continue
		}
		if !child.HasName {
			return errorf(file, child.Keyword.Pos, "tablePermission block requires a table name")
		}
		perm := &TablePermission{Table: tokenIdent(child.Name)}
		if filter, ok := child.prop("filterExpression"); ok {
			if !filter.IsExpr {
				return errorf(file, filter.Key.Pos, "filterExpression must be backtick-fenced")
			}
			perm.FilterExpression = &Expr{Text: filter.Value, Span: filter.ValueSpan}
		}
		role.TablePermissions = append(role.TablePermissions, perm)
	}
	m.Roles = append(m.Roles, role)
	return nil
}

// parseEndpoint parses a Table.Column value, tracking the span of each part
// so relationship endpoints can be rewritten textually.
func parseEndpoint(file string, pr prop) (Endpoint, error) {
	value := pr.Value
	base := pr.ValueSpan.Start

	table, consumed, err := scanEndpointPart(file, pr, value, 0)
	if err != nil {
		return Endpoint{}, err
	}
	if consumed >= len(value) || value[consumed] != '.' {
		return Endpoint{}, errorf(file, pr.Key.Pos, "endpoint %q must be Table.Column", value)
	}
	column, end, err := scanEndpointPart(file, pr, value, consumed+1)
	if err != nil {
		return Endpoint{}, err
	}
	if end != len(value) {
		return Endpoint{}, errorf(file, pr.Key.Pos, "unexpected trailing text in endpoint %q", value)
	}

	table.Span.Start += base
	table.Span.End += base
	column.Span.Start += base
	column.Span.End += base
	return Endpoint{Table: table, Column: column}, nil
}

// scanEndpointPart reads one quoted or unquoted identifier from value at
// offset i, returning the identifier with a span relative to the value.
func scanEndpointPart(file string, pr prop, value string, i int) (Ident, int, error) {
	if i < len(value) && value[i] == '\'' {
		var b strings.Builder
		start := i
		i++
		for i < len(value) {
			if value[i] == '\'' {
				if i+1 < len(value) && value[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				i++
				return Ident{Name: b.String(), Quoted: true, Span: Span{Start: start, End: i}, Pos: pr.Key.Pos}, i, nil
			}
			b.WriteByte(value[i])
			i++
		}
		return Ident{}, 0, errorf(file, pr.Key.Pos, "unterminated quoted name in endpoint %q", value)
	}
	start := i
	for i < len(value) && isIdentPart(value[i]) {
		i++
	}
	if i == start {
		return Ident{}, 0, errorf(file, pr.Key.Pos, "invalid endpoint %q", value)
	}
	return Ident{Name: value[start:i], Span: Span{Start: start, End: i}, Pos: pr.Key.Pos}, i, nil
}

// unquoteValue strips single quotes from a raw property value when present.
func unquoteValue(raw string) (string, bool) {
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), true
	}
	return raw, false
}

// --- model-level validation ---

func validate(m *SemanticModel) error {
	seen := make(map[string]*Table, len(m.Tables))
	for _, t := range m.Tables {
		key := strings.ToLower(t.Name.Name)
		if prev, ok := seen[key]; ok {
			return errorf(t.File, t.Name.Pos, "duplicate table name %q (already defined in %s)", t.Name.Name, prev.File)
		}
		seen[key] = t

		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			ck := strings.ToLower(c.Name.Name)
			if cols[ck] {
				return errorf(t.File, c.Name.Pos, "duplicate column name %q in table %q", c.Name.Name, t.Name.Name)
			}
			cols[ck] = true
		}
	}

	for _, rel := range m.Relationships {
		for _, ep := range []Endpoint{rel.From, rel.To} {
			table := m.Table(ep.Table.Name)
			if table == nil {
				return errorf(rel.File, ep.Table.Pos, "relationship %q references unknown table %q", rel.ID, ep.Table.Name)
			}
			if table.Column(ep.Column.Name) == nil {
				return errorf(rel.File, ep.Column.Pos, "relationship %q references unknown column %q on table %q", rel.ID, ep.Column.Name, ep.Table.Name)
			}
		}
	}

	for _, ref := range m.RefTables {
		if m.Table(ref.Name) == nil {
			return errorf(m.ModelFile, ref.Pos, "ref table entry references unknown table %q", ref.Name)
		}
	}

	for _, role := range m.Roles {
		for _, perm := range role.TablePermissions {
			if m.Table(perm.Table.Name) == nil {
				return errorf(role.File, perm.Table.Pos, "role %q grants permission on unknown table %q", role.Name.Name, perm.Table.Name)
			}
		}
	}

	return nil
}
