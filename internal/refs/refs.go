// Package refs builds the reference index: every syntactic site where a
// table or column identifier occurs across the definition language,
// formula expressions, and query pipeline steps.
//
// Sites are transient: one resolution pass produces them and the rename
// engine consumes them immediately. Each site, substituted with a valid new
// name and re-quoted per its sub-language, yields syntactically valid text.
package refs

import (
	"strings"

	"github.com/remodel-labs/remodel/pkg/dax"
	"github.com/remodel-labs/remodel/pkg/mquery"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// Kind says whether a site references a table or a column.
type Kind int

const (
	KindTable Kind = iota
	KindColumn
)

func (k Kind) String() string {
	if k == KindTable {
		return "table"
	}
	return "column"
}

// Language identifies the sub-language a site occurs in; each has its own
// quoting grammar, so substitution re-quotes per language.
type Language int

const (
	LangDefinition Language = iota
	LangFormula
	LangQuery
)

func (l Language) String() string {
	switch l {
	case LangDefinition:
		return "definition"
	case LangFormula:
		return "formula"
	default:
		return "query"
	}
}

// Occurrence classifies the role a site plays.
type Occurrence int

const (
	OccDefinition Occurrence = iota
	OccRelationship
	OccFormula
	OccQuery
	OccSecurity
)

func (o Occurrence) String() string {
	switch o {
	case OccDefinition:
		return "definition"
	case OccRelationship:
		return "relationship"
	case OccFormula:
		return "formula"
	case OccQuery:
		return "query"
	default:
		return "security"
	}
}

// Site is one located occurrence of an identifier inside a file.
type Site struct {
	File string
	Span tmd.Span
	Lang Language
	Occ  Occurrence
	Kind Kind
	// Name is the referenced identifier as currently named.
	Name string
	// Table is the owning table for column sites and the empty string for
	// table sites.
	Table string
	// Quoted records whether the site is quoted in the source.
	Quoted bool
	// InString marks sites inside a string literal value (query-language
	// navigation fields); substitution uses string escaping, not
	// identifier quoting.
	InString bool
	// Backend marks query-language sites that name the underlying source
	// object rather than the model-facing identifier. Renames may skip
	// them when the backend is not being renamed along.
	Backend bool
}

// Index is the complete cross-reference index for one model.
type Index struct {
	Sites    []Site
	byTable  map[string][]int
	byColumn map[string][]int
}

func columnKey(table, column string) string {
	return strings.ToLower(table) + "\x00" + strings.ToLower(column)
}

func (ix *Index) add(s Site) {
	i := len(ix.Sites)
	ix.Sites = append(ix.Sites, s)
	if s.Kind == KindTable {
		key := strings.ToLower(s.Name)
		ix.byTable[key] = append(ix.byTable[key], i)
	} else {
		key := columnKey(s.Table, s.Name)
		ix.byColumn[key] = append(ix.byColumn[key], i)
	}
}

// TableSites returns every site referencing the given table.
func (ix *Index) TableSites(name string) []Site {
	return ix.collect(ix.byTable[strings.ToLower(name)])
}

// ColumnSites returns every site referencing the given column, scoped to
// its owning table.
func (ix *Index) ColumnSites(table, column string) []Site {
	return ix.collect(ix.byColumn[columnKey(table, column)])
}

func (ix *Index) collect(idx []int) []Site {
	out := make([]Site, 0, len(idx))
	for _, i := range idx {
		out = append(out, ix.Sites[i])
	}
	return out
}

// Resolve walks the parsed model and every embedded expression string and
// produces the reference index.
func Resolve(model *tmd.SemanticModel) *Index {
	r := &resolver{
		model: model,
		index: &Index{
			byTable:  make(map[string][]int),
			byColumn: make(map[string][]int),
		},
	}
	r.run()
	return r.index
}

type resolver struct {
	model *tmd.SemanticModel
	index *Index
}

func (r *resolver) run() {
	m := r.model

	for _, t := range m.Tables {
		r.tableDefinition(t)
		r.tableQuerySteps(t)
	}
	for _, ref := range m.RefTables {
		r.index.add(Site{
			File: m.ModelFile, Span: ref.Span, Lang: LangDefinition, Occ: OccDefinition,
			Kind: KindTable, Name: ref.Name, Quoted: ref.Quoted,
		})
	}
	for _, rel := range m.Relationships {
		r.relationship(rel)
	}
	for _, ms := range m.Measures {
		r.formula(ms.File, "", ms.Expression, OccFormula)
	}
	for _, t := range m.Tables {
		for _, ms := range t.Measures {
			r.formula(ms.File, t.Name.Name, ms.Expression, OccFormula)
		}
		for _, c := range t.Columns {
			if c.Expression != nil {
				r.formula(t.File, t.Name.Name, c.Expression, OccFormula)
			}
		}
	}
	for _, role := range m.Roles {
		for _, perm := range role.TablePermissions {
			r.index.add(Site{
				File: role.File, Span: perm.Table.Span, Lang: LangDefinition, Occ: OccSecurity,
				Kind: KindTable, Name: perm.Table.Name, Quoted: perm.Table.Quoted,
			})
			if perm.FilterExpression != nil {
				r.formula(role.File, perm.Table.Name, perm.FilterExpression, OccSecurity)
			}
		}
	}
}

// tableDefinition records the table header, column definitions, and the
// partition name when it mirrors the table name.
func (r *resolver) tableDefinition(t *tmd.Table) {
	r.index.add(Site{
		File: t.File, Span: t.Name.Span, Lang: LangDefinition, Occ: OccDefinition,
		Kind: KindTable, Name: t.Name.Name, Quoted: t.Name.Quoted,
	})
	if t.Partition != nil && strings.EqualFold(t.Partition.Name.Name, t.Name.Name) {
		r.index.add(Site{
			File: t.File, Span: t.Partition.Name.Span, Lang: LangDefinition, Occ: OccDefinition,
			Kind: KindTable, Name: t.Partition.Name.Name, Quoted: t.Partition.Name.Quoted,
		})
	}
	for _, c := range t.Columns {
		r.index.add(Site{
			File: t.File, Span: c.Name.Span, Lang: LangDefinition, Occ: OccDefinition,
			Kind: KindColumn, Name: c.Name.Name, Table: t.Name.Name, Quoted: c.Name.Quoted,
		})
	}
}

func (r *resolver) relationship(rel *tmd.Relationship) {
	for _, ep := range []tmd.Endpoint{rel.From, rel.To} {
		r.index.add(Site{
			File: rel.File, Span: ep.Table.Span, Lang: LangDefinition, Occ: OccRelationship,
			Kind: KindTable, Name: ep.Table.Name, Quoted: ep.Table.Quoted,
		})
		r.index.add(Site{
			File: rel.File, Span: ep.Column.Span, Lang: LangDefinition, Occ: OccRelationship,
			Kind: KindColumn, Name: ep.Column.Name, Table: ep.Table.Name, Quoted: ep.Column.Quoted,
		})
	}
}

// formula scans a formula expression. owner is the table unqualified column
// references are scoped to; empty for model-level measures, whose
// unqualified references cannot be resolved to a column and are skipped.
func (r *resolver) formula(file, owner string, expr *tmd.Expr, occ Occurrence) {
	base := expr.Span.Start
	for _, ref := range dax.Scan(expr.Text) {
		scope := owner
		if ref.Qualified() {
			table := r.model.Table(ref.Table)
			if table == nil {
				continue
			}
			scope = table.Name.Name
			r.index.add(Site{
				File: file, Span: tmd.Span{Start: base + ref.TableStart, End: base + ref.TableEnd},
				Lang: LangFormula, Occ: occ, Kind: KindTable,
				Name: ref.Table, Quoted: ref.TableQuoted,
			})
		}
		if scope == "" {
			continue
		}
		table := r.model.Table(scope)
		if table == nil || table.Column(ref.Column) == nil {
			// Bare brackets also reference measures; only genuine column
			// references of the scope table are indexed.
			continue
		}
		r.index.add(Site{
			File: file, Span: tmd.Span{Start: base + ref.ColumnStart, End: base + ref.ColumnEnd},
			Lang: LangFormula, Occ: occ, Kind: KindColumn,
			Name: ref.Column, Table: table.Name.Name,
		})
	}
}

// tableQuerySteps scans a table's own pipeline steps for backend
// references: navigation fields naming the source object, quoted or bare
// identifiers spelling the table name, and field accesses matching columns
// whose source name follows the display name.
func (r *resolver) tableQuerySteps(t *tmd.Table) {
	if t.Partition == nil {
		return
	}
	for _, step := range t.Partition.Steps {
		base := step.Expr.Span.Start
		for _, ref := range mquery.Scan(step.Expr.Text) {
			span := tmd.Span{Start: base + ref.Start, End: base + ref.End}
			switch ref.Kind {
			case mquery.RefNavField:
				if (ref.Field == "Item" || ref.Field == "Name") && strings.EqualFold(ref.Name, t.Name.Name) {
					r.index.add(Site{
						File: t.File, Span: span, Lang: LangQuery, Occ: OccQuery,
						Kind: KindTable, Name: ref.Name, InString: true, Backend: true,
					})
				}
			case mquery.RefQuotedIdent, mquery.RefIdent:
				if strings.EqualFold(ref.Name, t.Name.Name) {
					r.index.add(Site{
						File: t.File, Span: span, Lang: LangQuery, Occ: OccQuery,
						Kind: KindTable, Name: ref.Name,
						Quoted: ref.Kind == mquery.RefQuotedIdent, Backend: true,
					})
				}
			case mquery.RefFieldAccess:
				col := t.Column(ref.Name)
				if col == nil || col.SourceColumn != col.Name.Name {
					continue
				}
				r.index.add(Site{
					File: t.File, Span: span, Lang: LangQuery, Occ: OccQuery,
					Kind: KindColumn, Name: ref.Name, Table: t.Name.Name, Backend: true,
				})
			}
		}
	}
}
