package migrate

import (
	"path"
	"sort"
	"strings"

	"github.com/remodel-labs/remodel/pkg/mquery"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// SourceGroup is one detected data source: the kind, a connection summary,
// and the tables reading from it.
type SourceGroup struct {
	Kind       string
	Connection string
	Tables     []string
}

// DetectSources groups the model's tables by the source kind and connection
// parameters of their source steps. Tables without a source step and
// auto-generated calendar tables are skipped.
func DetectSources(model *tmd.SemanticModel) []SourceGroup {
	groups := make(map[string]*SourceGroup)
	for _, t := range model.Tables {
		if tmd.IsBuiltinTable(t.Name.Name) {
			continue
		}
		step := t.SourceStep()
		if step == nil || step.Source == nil {
			continue
		}
		kind, conn := classify(step.Source)
		key := kind + "|" + conn
		g := groups[key]
		if g == nil {
			g = &SourceGroup{Kind: kind, Connection: conn}
			groups[key] = g
		}
		g.Tables = append(g.Tables, t.Name.Name)
	}

	out := make([]SourceGroup, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.Tables)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Connection < out[j].Connection
	})
	return out
}

func classify(call *mquery.AccessCall) (kind, connection string) {
	switch call.Func {
	case "Sql.Database":
		server, _ := call.StringArg(0)
		database, _ := call.StringArg(1)
		return "sqlserver", server + "/" + database
	case "Snowflake.Databases":
		account, _ := call.StringArg(0)
		warehouse, _ := call.StringArg(1)
		return "snowflake", account + "/" + warehouse
	case "Lakehouse.Contents":
		var parts []string
		for _, field := range []string{"workspaceId", "lakehouseId"} {
			if v, ok := call.NavItem(field); ok {
				parts = append(parts, v)
			}
		}
		return "lakehouse", strings.Join(parts, "/")
	case "Csv.Document":
		if len(call.Args) > 0 && call.Args[0].Kind == mquery.ValueCall {
			if p, ok := call.Args[0].Call.StringArg(0); ok {
				return "csv", path.Dir(strings.ReplaceAll(p, `\`, "/"))
			}
		}
		return "csv", ""
	case "Excel.Workbook":
		if len(call.Args) > 0 && call.Args[0].Kind == mquery.ValueCall {
			if p, ok := call.Args[0].Call.StringArg(0); ok {
				return "excel", p
			}
		}
		return "excel", ""
	default:
		conn, _ := call.StringArg(0)
		return call.Func, conn
	}
}
