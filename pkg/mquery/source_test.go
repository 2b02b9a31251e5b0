package mquery

import (
	"strings"
	"testing"
)

func TestParseAccessCall_SqlDatabase(t *testing.T) {
	expr := `Sql.Database("sql01", "dwh"){[Schema="dbo", Item="Sales"]}[Data]`
	call, err := ParseAccessCall(expr)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if call.Func != "Sql.Database" {
		t.Errorf("expected Sql.Database, got %q", call.Func)
	}
	if len(call.Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(call.Args))
	}
	if server, ok := call.StringArg(0); !ok || server != "sql01" {
		t.Errorf("unexpected first arg %q (ok=%v)", server, ok)
	}
	if len(call.Nav) != 2 {
		t.Fatalf("expected 2 nav steps, got %d", len(call.Nav))
	}
	if call.Nav[1].Field != "Data" {
		t.Errorf("expected [Data] field access, got %+v", call.Nav[1])
	}
	if item, ok := call.NavItem("Item"); !ok || item != "Sales" {
		t.Errorf("NavItem(Item) = %q, %v", item, ok)
	}
}

func TestParseAccessCall_NestedCallAndRecord(t *testing.T) {
	expr := `Csv.Document(File.Contents("data/products.csv"), [Delimiter=",", Encoding=65001])`
	call, err := ParseAccessCall(expr)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	if call.Args[0].Kind != ValueCall || call.Args[0].Call.Func != "File.Contents" {
		t.Fatalf("expected nested File.Contents call, got %+v", call.Args[0])
	}
	if p, ok := call.Args[0].Call.StringArg(0); !ok || p != "data/products.csv" {
		t.Errorf("unexpected path %q", p)
	}
	rec := call.Args[1]
	if rec.Kind != ValueRecord || len(rec.Record) != 2 {
		t.Fatalf("expected 2-field record, got %+v", rec)
	}
	if rec.Record[1].Name != "Encoding" || rec.Record[1].Value.Num != "65001" {
		t.Errorf("unexpected Encoding field %+v", rec.Record[1])
	}
}

func TestParseAccessCall_RoundTrip(t *testing.T) {
	exprs := []string{
		`Sql.Database("sql01", "dwh"){[Schema="dbo", Item="Sales"]}[Data]`,
		`Lakehouse.Contents(){[workspaceId="W1"]}[Data]{[lakehouseId="L1"]}[Data]`,
		`Csv.Document(File.Contents("c.csv"), [Delimiter=",", Encoding=65001])`,
		`Snowflake.Databases("acme", "wh"){[Name="DWH"]}[Data]`,
	}
	for _, expr := range exprs {
		call, err := ParseAccessCall(expr)
		if err != nil {
			t.Fatalf("failed to parse %q: %v", expr, err)
		}
		if got := call.String(); got != expr {
			t.Errorf("round trip of %q produced %q", expr, got)
		}
		// Canonical output must parse back to itself.
		if _, err := ParseAccessCall(call.String()); err != nil {
			t.Errorf("canonical form %q does not re-parse: %v", call.String(), err)
		}
	}
}

func TestParseAccessCall_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"trailing text", `Sql.Database("a", "b") junk`},
		{"missing paren", `Sql.Database("a", "b"`},
		{"not a call", `42 + 1`},
		{"unterminated string", `Sql.Database("a`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAccessCall(tt.expr)
			if err == nil {
				t.Fatalf("expected error for %q", tt.expr)
			}
			if !strings.Contains(err.Error(), "invalid source step") {
				t.Errorf("unexpected error text %q", err.Error())
			}
		})
	}
}

func TestAccessCall_StringEscapes(t *testing.T) {
	call := &AccessCall{
		Func: "Sql.Database",
		Args: []Value{{Kind: ValueString, Str: `he said "hi"`}},
	}
	want := `Sql.Database("he said ""hi""")`
	if got := call.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
