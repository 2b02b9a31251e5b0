// Package rename plans batch table and column renames against a resolved
// reference index.
//
// Planning validates the whole batch before any file is touched: unknown
// targets, invalid new names, duplicate targets and name collisions all
// reject the plan with a ConflictError. Content substitution replaces each
// reference site with its final name in one splice per file, so even swap
// batches (A renamed to B while B is renamed to A) never pass through a
// state where two entities share a name. File renames are the one place a
// real intermediate state exists on disk; renames whose target path is
// vacated by another operation in the same batch hop through a placeholder
// path first.
package rename

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/remodel-labs/remodel/internal/refs"
	"github.com/remodel-labs/remodel/internal/rewrite"
	"github.com/remodel-labs/remodel/pkg/dax"
	"github.com/remodel-labs/remodel/pkg/mquery"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// OpKind distinguishes table renames from column renames.
type OpKind int

const (
	OpTable OpKind = iota
	OpColumn
)

func (k OpKind) String() string {
	if k == OpTable {
		return "table"
	}
	return "column"
}

// Op is one rename operation. Table is the owning table for column renames
// and is ignored for table renames.
type Op struct {
	Kind  OpKind
	Table string
	Old   string
	New   string
}

func (o Op) String() string {
	if o.Kind == OpColumn {
		return fmt.Sprintf("column %s[%s] -> %s[%s]", o.Table, o.Old, o.Table, o.New)
	}
	return fmt.Sprintf("table %s -> %s", o.Old, o.New)
}

// ConflictError rejects a rename batch during planning, before any file is
// touched.
type ConflictError struct {
	Op      Op
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rename conflict (%s): %s", e.Op, e.Message)
}

// FileRename moves one file inside the model directory.
type FileRename struct {
	Old string
	New string
}

// Options tunes plan construction.
type Options struct {
	// SkipBackend leaves query-language sites naming the underlying source
	// object untouched, so the rename changes only the model-facing name.
	SkipBackend bool
}

// Plan is the validated output of PlanBatch: per-file edits plus the file
// renames that follow table renames, ready for a transaction to apply.
type Plan struct {
	Ops         []Op
	Edits       map[string][]rewrite.Edit
	FileRenames []FileRename
	// SkippedBackend counts sites left untouched because of
	// Options.SkipBackend.
	SkippedBackend int
}

// ChangedFiles returns the sorted set of files the plan rewrites or moves.
func (p *Plan) ChangedFiles() []string {
	set := make(map[string]bool, len(p.Edits)+len(p.FileRenames))
	for f := range p.Edits {
		set[f] = true
	}
	for _, fr := range p.FileRenames {
		set[fr.Old] = true
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// PlanBatch validates ops against the model and produces a rewrite plan
// from the reference index.
func PlanBatch(model *tmd.SemanticModel, index *refs.Index, ops []Op, opts Options) (*Plan, error) {
	ops = dropNoops(ops)
	if err := validateBatch(model, ops); err != nil {
		return nil, err
	}

	plan := &Plan{
		Ops:   ops,
		Edits: make(map[string][]rewrite.Edit),
	}

	for _, op := range ops {
		var sites []refs.Site
		if op.Kind == OpTable {
			sites = index.TableSites(op.Old)
		} else {
			sites = index.ColumnSites(op.Table, op.Old)
		}
		for _, s := range sites {
			if opts.SkipBackend && s.Backend {
				plan.SkippedBackend++
				continue
			}
			plan.Edits[s.File] = append(plan.Edits[s.File], rewrite.Edit{
				Span: s.Span,
				Text: render(s, op.New),
			})
		}
		if op.Kind == OpColumn {
			if err := planSourceColumn(model, op, opts, plan); err != nil {
				return nil, err
			}
		}
	}

	plan.FileRenames = planFileRenames(model, ops)
	return plan, nil
}

// render re-quotes the new name per the site's sub-language and position.
func render(s refs.Site, newName string) string {
	switch s.Lang {
	case refs.LangDefinition:
		return tmd.Quote(newName)
	case refs.LangFormula:
		if s.Kind == refs.KindTable {
			return dax.QuoteTable(newName)
		}
		return dax.EscapeColumn(newName)
	default:
		// Navigation-field string values span only the content between the
		// quotes. Identifier sites span the whole token including any #"..."
		// quoting, so the new name is quoted only when it needs it.
		if s.InString {
			return mquery.EscapeString(newName)
		}
		return mquery.QuoteIdent(newName)
	}
}

// planSourceColumn keeps a renamed column's source mapping coherent. When
// the backend is renamed along, an explicit sourceColumn equal to the old
// display name follows it. When the backend is kept, the mapping must
// already be pinned by an explicit sourceColumn; an implicit one would
// silently retarget the column.
func planSourceColumn(model *tmd.SemanticModel, op Op, opts Options, plan *Plan) error {
	table := model.Table(op.Table)
	col := table.Column(op.Old)
	if col.IsCalculated {
		return nil
	}
	explicit := col.SourceColumnSpan != (tmd.Span{})
	if opts.SkipBackend {
		if !explicit {
			return &ConflictError{Op: op, Message: fmt.Sprintf(
				"column %q has no explicit sourceColumn; renaming only the display name would retarget it to %q", op.Old, op.New)}
		}
		return nil
	}
	if explicit && strings.EqualFold(col.SourceColumn, col.Name.Name) {
		plan.Edits[table.File] = append(plan.Edits[table.File], rewrite.Edit{
			Span: col.SourceColumnSpan,
			Text: tmd.Quote(op.New),
		})
	}
	return nil
}

func dropNoops(ops []Op) []Op {
	out := ops[:0:0]
	for _, op := range ops {
		if op.Old != op.New {
			out = append(out, op)
		}
	}
	return out
}

func validateBatch(model *tmd.SemanticModel, ops []Op) error {
	type scope struct {
		olds map[string]bool // names vacated by the batch
		news map[string]Op   // names claimed by the batch
	}
	scopes := make(map[string]*scope)
	get := func(key string) *scope {
		s := scopes[key]
		if s == nil {
			s = &scope{olds: make(map[string]bool), news: make(map[string]Op)}
			scopes[key] = s
		}
		return s
	}

	for _, op := range ops {
		if !tmd.ValidName(op.New) {
			return &ConflictError{Op: op, Message: fmt.Sprintf("invalid new name %q", op.New)}
		}

		var key string
		switch op.Kind {
		case OpTable:
			if tmd.IsBuiltinTable(op.Old) {
				return &ConflictError{Op: op, Message: "auto-generated calendar tables cannot be renamed"}
			}
			if strings.ContainsAny(op.New, `/\`) {
				return &ConflictError{Op: op, Message: fmt.Sprintf("table name %q is not a valid file name", op.New)}
			}
			if model.Table(op.Old) == nil {
				return &ConflictError{Op: op, Message: fmt.Sprintf("unknown table %q", op.Old)}
			}
			key = "table"
		default:
			table := model.Table(op.Table)
			if table == nil {
				return &ConflictError{Op: op, Message: fmt.Sprintf("unknown table %q", op.Table)}
			}
			if tmd.IsBuiltinTable(table.Name.Name) {
				return &ConflictError{Op: op, Message: "auto-generated calendar tables cannot be modified"}
			}
			if table.Column(op.Old) == nil {
				return &ConflictError{Op: op, Message: fmt.Sprintf("unknown column %q on table %q", op.Old, op.Table)}
			}
			key = "column:" + strings.ToLower(table.Name.Name)
		}

		s := get(key)
		oldKey := strings.ToLower(op.Old)
		newKey := strings.ToLower(op.New)
		if s.olds[oldKey] {
			return &ConflictError{Op: op, Message: fmt.Sprintf("%q is renamed more than once in this batch", op.Old)}
		}
		s.olds[oldKey] = true
		if prev, ok := s.news[newKey]; ok {
			return &ConflictError{Op: op, Message: fmt.Sprintf("new name %q is also the target of %s", op.New, prev)}
		}
		s.news[newKey] = op
	}

	// Collision check: a claimed new name must not match an existing name of
	// the same kind and scope unless that name is vacated by the batch. A
	// case-only rename of the same entity is not a collision.
	for _, op := range ops {
		oldKey := strings.ToLower(op.Old)
		newKey := strings.ToLower(op.New)
		if newKey == oldKey {
			continue
		}
		var exists bool
		var s *scope
		if op.Kind == OpTable {
			exists = model.Table(op.New) != nil
			s = scopes["table"]
		} else {
			table := model.Table(op.Table)
			exists = table.Column(op.New) != nil
			s = scopes["column:"+strings.ToLower(table.Name.Name)]
		}
		if exists && !s.olds[newKey] {
			return &ConflictError{Op: op, Message: fmt.Sprintf("%s %q already exists", op.Kind, op.New)}
		}
	}
	return nil
}

// planFileRenames moves each renamed table's definition file. A rename whose
// target path is the source path of another rename in the batch (a swap or
// a chain) first hops to a placeholder path; the placeholders are resolved
// to final paths after every direct rename has run.
func planFileRenames(model *tmd.SemanticModel, ops []Op) []FileRename {
	type move struct{ old, new string }
	var moves []move
	vacating := make(map[string]bool)
	for _, op := range ops {
		if op.Kind != OpTable {
			continue
		}
		// Lookups are case-insensitive, so the source path comes from the
		// parsed table, not from the operation's spelling of the old name.
		m := move{
			old: model.Table(op.Old).File,
			new: path.Join(tmd.TablesDir, op.New+tmd.FileExt),
		}
		moves = append(moves, m)
		vacating[strings.ToLower(m.old)] = true
	}

	var first, direct, second []FileRename
	for _, m := range moves {
		if m.old == m.new {
			continue
		}
		if vacating[strings.ToLower(m.new)] {
			tmp := path.Join(tmd.TablesDir, ".rename-"+uuid.NewString()+tmd.FileExt)
			first = append(first, FileRename{Old: m.old, New: tmp})
			second = append(second, FileRename{Old: tmp, New: m.new})
		} else {
			direct = append(direct, FileRename{Old: m.old, New: m.new})
		}
	}
	out := append(first, direct...)
	return append(out, second...)
}
