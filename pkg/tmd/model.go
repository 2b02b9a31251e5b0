package tmd

import (
	"strings"

	"github.com/remodel-labs/remodel/pkg/mquery"
)

// SourceFile holds the raw bytes of one definition file. Rewrites splice
// spans out of Content, so the parsed graph never needs to re-serialize.
type SourceFile struct {
	Path    string // slash-separated, relative to the model root
	Content string
}

// Ident is a parsed identifier with its source location and the quoting
// convention the source file used (needed for faithful rewriting).
type Ident struct {
	Name   string
	Quoted bool
	Span   Span
	Pos    Position
}

// Expr is an opaque expression body with the span of its text between the
// backtick fences.
type Expr struct {
	Text string
	Span Span
}

// SemanticModel is the root aggregate of a parsed model directory.
//
// Table names are unique within a model (case-insensitive) and column names
// are unique within a table; Parse enforces both.
type SemanticModel struct {
	Name          string
	Root          string
	Tables        []*Table
	Relationships []*Relationship
	Measures      []*Measure // model-level measures
	Roles         []*Role
	RefTables     []Ident // ref table entries in the model file
	ModelFile     string  // path of the model file, "" if absent
	Files         map[string]*SourceFile
}

// Table is one table definition with its columns, table-scoped measures,
// and query pipeline.
type Table struct {
	Name      Ident
	File      string
	IsHidden  bool
	Columns   []*Column
	Measures  []*Measure
	Partition *Partition
}

// Column is a table column. Non-calculated columns map 1:1 to an underlying
// source column name, independent of the model-facing display name; when the
// definition omits sourceColumn the display name is assumed.
type Column struct {
	Name             Ident
	DataType         string
	SourceColumn     string
	SourceColumnSpan Span // value span of the sourceColumn property; zero when absent
	IsCalculated     bool
	Expression       *Expr // formula sub-language; calculated columns only
}

// Measure is a named formula expression. The engine treats measures as
// read-only except for identifier substitution inside the expression text.
type Measure struct {
	Name          Ident
	File          string
	Table         string // owning table name; empty for model-level measures
	Expression    *Expr
	FormatString  string
	DisplayFolder string
}

// Partition is a table's query pipeline: an ordered list of named steps.
// The first step is the source step and carries a parsed access call.
type Partition struct {
	Name  Ident
	Mode  string
	Steps []*Step
}

// Step is one pipeline step. Source is non-nil only for the first step.
type Step struct {
	Name   Ident
	Expr   Expr
	Source *mquery.AccessCall
}

// Endpoint is one side of a relationship: a (table, column) pair with the
// spans of both parts in the relationships file.
type Endpoint struct {
	Table  Ident
	Column Ident
}

// Relationship is an ordered pair of endpoints.
type Relationship struct {
	ID          string
	File        string
	From        Endpoint
	To          Endpoint
	Cardinality string
	CrossFilter string
	IsActive    bool
}

// Role is a security role with optional per-table filter rules.
type Role struct {
	Name             Ident
	File             string
	ModelPermission  string
	TablePermissions []*TablePermission
}

// TablePermission is a row-filter rule scoped to one table.
type TablePermission struct {
	Table            Ident
	FilterExpression *Expr
}

// Table returns the table with the given name (case-insensitive), or nil.
func (m *SemanticModel) Table(name string) *Table {
	for _, t := range m.Tables {
		if strings.EqualFold(t.Name.Name, name) {
			return t
		}
	}
	return nil
}

// Column returns the column with the given name (case-insensitive), or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name.Name, name) {
			return c
		}
	}
	return nil
}

// SourceStep returns the table's source step, or nil when the table has no
// partition.
func (t *Table) SourceStep() *Step {
	if t.Partition == nil || len(t.Partition.Steps) == 0 {
		return nil
	}
	return t.Partition.Steps[0]
}

// AllMeasures returns model-level measures followed by every table's
// measures, in definition order.
func (m *SemanticModel) AllMeasures() []*Measure {
	out := make([]*Measure, 0, len(m.Measures))
	out = append(out, m.Measures...)
	for _, t := range m.Tables {
		out = append(out, t.Measures...)
	}
	return out
}

// IsBuiltinTable reports whether a table name belongs to an auto-generated
// calendar table that refactoring operations must leave alone.
func IsBuiltinTable(name string) bool {
	return strings.HasPrefix(name, "DateTableTemplate_") ||
		strings.HasPrefix(name, "LocalDateTable_")
}
