// Package migrate plans data source migrations: replacing the source step
// of selected tables' query pipelines with an access-function call for a
// new source kind, leaving every downstream step byte-for-byte unchanged.
package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/remodel-labs/remodel/internal/rewrite"
	"github.com/remodel-labs/remodel/pkg/mquery"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// Target describes the migration destination: a source kind, its connection
// parameters, and optional explicit per-table overrides.
type Target struct {
	Kind   string
	Params map[string]string
	// TableNames overrides the backend object name per table (keyed by
	// display name). Absent entries keep the current source object name.
	TableNames map[string]string
	// ColumnMaps remaps source column names per table when the new source
	// uses different underlying names. Never inferred; callers supply it.
	ColumnMaps map[string]map[string]string
}

// UnsupportedTargetError rejects a migration plan before any write: the
// target kind is unknown or its connection parameters are incomplete.
type UnsupportedTargetError struct {
	Kind    string
	Message string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("unsupported migration target %q: %s", e.Kind, e.Message)
}

// TableChange records the source-step rewrite planned for one table.
type TableChange struct {
	Table   string
	File    string
	OldStep string
	NewStep string
}

// Plan is a validated migration ready for a transaction to apply.
type Plan struct {
	Target Target
	Tables []TableChange
	Edits  map[string][]rewrite.Edit
}

// ChangedFiles returns the sorted set of files the plan rewrites.
func (p *Plan) ChangedFiles() []string {
	out := make([]string, 0, len(p.Edits))
	for f := range p.Edits {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// kindSpec is one entry of the source-kind template map: the parameters a
// kind requires and the access call it builds.
type kindSpec struct {
	params []string
	build  func(params map[string]string, object string) *mquery.AccessCall
}

var kinds = map[string]kindSpec{
	"sqlserver": {
		params: []string{"server", "database"},
		build: func(p map[string]string, object string) *mquery.AccessCall {
			schema := p["schema"]
			if schema == "" {
				schema = "dbo"
			}
			return &mquery.AccessCall{
				Func: "Sql.Database",
				Args: []mquery.Value{str(p["server"]), str(p["database"])},
				Nav: []mquery.NavStep{
					{Record: []mquery.Field{
						{Name: "Schema", Value: str(schema)},
						{Name: "Item", Value: str(object)},
					}},
					{Field: "Data"},
				},
			}
		},
	},
	"snowflake": {
		params: []string{"account", "warehouse", "database", "schema"},
		build: func(p map[string]string, object string) *mquery.AccessCall {
			return &mquery.AccessCall{
				Func: "Snowflake.Databases",
				Args: []mquery.Value{str(p["account"]), str(p["warehouse"])},
				Nav: []mquery.NavStep{
					{Record: []mquery.Field{{Name: "Name", Value: str(p["database"])}}},
					{Field: "Data"},
					{Record: []mquery.Field{{Name: "Name", Value: str(p["schema"])}}},
					{Field: "Data"},
					{Record: []mquery.Field{{Name: "Name", Value: str(object)}}},
					{Field: "Data"},
				},
			}
		},
	},
	"lakehouse": {
		params: []string{"workspaceId", "lakehouseId"},
		build: func(p map[string]string, object string) *mquery.AccessCall {
			return &mquery.AccessCall{
				Func: "Lakehouse.Contents",
				Nav: []mquery.NavStep{
					{Record: []mquery.Field{{Name: "workspaceId", Value: str(p["workspaceId"])}}},
					{Field: "Data"},
					{Record: []mquery.Field{{Name: "lakehouseId", Value: str(p["lakehouseId"])}}},
					{Field: "Data"},
					{Record: []mquery.Field{
						{Name: "Id", Value: str(object)},
						{Name: "ItemKind", Value: str("Table")},
					}},
					{Field: "Data"},
				},
			}
		},
	},
	"csv": {
		params: []string{"directory"},
		build: func(p map[string]string, object string) *mquery.AccessCall {
			dir := strings.TrimRight(p["directory"], "/\\")
			return &mquery.AccessCall{
				Func: "Csv.Document",
				Args: []mquery.Value{
					{Kind: mquery.ValueCall, Call: &mquery.AccessCall{
						Func: "File.Contents",
						Args: []mquery.Value{str(dir + "/" + object + ".csv")},
					}},
					{Kind: mquery.ValueRecord, Record: []mquery.Field{
						{Name: "Delimiter", Value: str(",")},
						{Name: "Encoding", Value: mquery.Value{Kind: mquery.ValueNumber, Num: "65001"}},
					}},
				},
			}
		},
	},
}

func str(s string) mquery.Value { return mquery.Value{Kind: mquery.ValueString, Str: s} }

// Kinds returns the supported target kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PlanMigration validates the target and builds the source-step rewrite for
// every listed table. An empty table list selects every table with a parsed
// source step, excluding auto-generated calendar tables.
func PlanMigration(model *tmd.SemanticModel, tables []string, target Target) (*Plan, error) {
	spec, ok := kinds[target.Kind]
	if !ok {
		return nil, &UnsupportedTargetError{Kind: target.Kind, Message: fmt.Sprintf("supported kinds are %s", strings.Join(Kinds(), ", "))}
	}
	for _, name := range spec.params {
		if target.Params[name] == "" {
			return nil, &UnsupportedTargetError{Kind: target.Kind, Message: fmt.Sprintf("missing connection parameter %q", name)}
		}
	}

	selected, err := selectTables(model, tables)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Target: target, Edits: make(map[string][]rewrite.Edit)}
	for _, t := range selected {
		step := t.SourceStep()
		if step == nil || step.Source == nil {
			return nil, fmt.Errorf("table %q has no source step to migrate", t.Name.Name)
		}
		call := spec.build(target.Params, objectName(t, target))
		text := call.String()
		plan.Tables = append(plan.Tables, TableChange{
			Table:   t.Name.Name,
			File:    t.File,
			OldStep: step.Expr.Text,
			NewStep: text,
		})
		plan.Edits[t.File] = append(plan.Edits[t.File], rewrite.Edit{Span: step.Expr.Span, Text: text})

		if err := planColumnMap(t, target, plan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// planColumnMap rewrites explicit sourceColumn properties per the caller's
// mapping. Columns whose mapping cannot be recorded (no explicit
// sourceColumn property to rewrite) reject the plan.
func planColumnMap(t *tmd.Table, target Target, plan *Plan) error {
	mapping := target.ColumnMaps[t.Name.Name]
	if mapping == nil {
		return nil
	}
	for from, to := range mapping {
		var col *tmd.Column
		for _, c := range t.Columns {
			if strings.EqualFold(c.SourceColumn, from) && !c.IsCalculated {
				col = c
				break
			}
		}
		if col == nil {
			return fmt.Errorf("table %q has no column with source name %q to remap", t.Name.Name, from)
		}
		if col.SourceColumnSpan == (tmd.Span{}) {
			return fmt.Errorf("column %q on table %q needs an explicit sourceColumn before its source name can be remapped", col.Name.Name, t.Name.Name)
		}
		plan.Edits[t.File] = append(plan.Edits[t.File], rewrite.Edit{
			Span: col.SourceColumnSpan,
			Text: tmd.Quote(to),
		})
	}
	return nil
}

// objectName picks the backend object name for a table: an explicit
// override, else the current source object, else the display name.
func objectName(t *tmd.Table, target Target) string {
	if name, ok := target.TableNames[t.Name.Name]; ok && name != "" {
		return name
	}
	if step := t.SourceStep(); step != nil && step.Source != nil {
		for _, field := range []string{"Item", "Name", "Id"} {
			if name, ok := step.Source.NavItem(field); ok {
				return name
			}
		}
	}
	return t.Name.Name
}

func selectTables(model *tmd.SemanticModel, names []string) ([]*tmd.Table, error) {
	if len(names) == 0 {
		var out []*tmd.Table
		for _, t := range model.Tables {
			if tmd.IsBuiltinTable(t.Name.Name) || t.SourceStep() == nil {
				continue
			}
			out = append(out, t)
		}
		return out, nil
	}
	out := make([]*tmd.Table, 0, len(names))
	for _, name := range names {
		t := model.Table(name)
		if t == nil {
			return nil, fmt.Errorf("unknown table %q", name)
		}
		if tmd.IsBuiltinTable(t.Name.Name) {
			return nil, fmt.Errorf("auto-generated calendar table %q cannot be migrated", name)
		}
		out = append(out, t)
	}
	return out, nil
}
