package mquery

import "testing"

func findRef(refs []Ref, kind RefKind, name string) *Ref {
	for i := range refs {
		if refs[i].Kind == kind && refs[i].Name == name {
			return &refs[i]
		}
	}
	return nil
}

func TestScan_NavigationRecord(t *testing.T) {
	expr := `Sql.Database("sql01", "dwh"){[Schema="dbo", Item="Sales"]}[Data]`
	refs := Scan(expr)

	item := findRef(refs, RefNavField, "Sales")
	if item == nil {
		t.Fatalf("no nav field for Sales in %+v", refs)
	}
	if item.Field != "Item" {
		t.Errorf("expected field Item, got %q", item.Field)
	}
	// The span covers only the content between the quotes.
	if got := expr[item.Start:item.End]; got != "Sales" {
		t.Errorf("nav field span covers %q", got)
	}

	if schema := findRef(refs, RefNavField, "dbo"); schema == nil || schema.Field != "Schema" {
		t.Errorf("expected Schema=dbo nav field, got %+v", schema)
	}
	// The connection string arguments are plain literals, not nav fields.
	if findRef(refs, RefNavField, "sql01") != nil {
		t.Error("call arguments must not be scanned as nav fields")
	}
}

func TestScan_QuotedIdentifier(t *testing.T) {
	expr := `Table.SelectRows(#"Changed Type", each [Active])`
	refs := Scan(expr)

	q := findRef(refs, RefQuotedIdent, "Changed Type")
	if q == nil {
		t.Fatalf("no quoted identifier in %+v", refs)
	}
	// The span covers the whole token including the quoting, so a
	// substitution can drop the quotes when the new name allows it.
	if got := expr[q.Start:q.End]; got != `#"Changed Type"` {
		t.Errorf("quoted identifier span covers %q", got)
	}
	if findRef(refs, RefFieldAccess, "Active") == nil {
		t.Errorf("expected [Active] field access in %+v", refs)
	}
}

func TestScan_QuotedFieldAccess(t *testing.T) {
	expr := `Table.TransformColumnTypes(Src, [#"Net Amount"], [Qty])`
	refs := Scan(expr)

	f := findRef(refs, RefFieldAccess, "Net Amount")
	if f == nil {
		t.Fatalf("no quoted field access in %+v", refs)
	}
	if got := expr[f.Start:f.End]; got != `#"Net Amount"` {
		t.Errorf("quoted field access span covers %q", got)
	}
	if findRef(refs, RefFieldAccess, "Qty") == nil {
		t.Errorf("expected bare field access in %+v", refs)
	}
	// The quoted form inside brackets is a field access, not a standalone
	// identifier.
	if findRef(refs, RefQuotedIdent, "Net Amount") != nil {
		t.Error("quoted field access double-reported as quoted identifier")
	}
}

func TestScan_BareIdentifiers(t *testing.T) {
	expr := `Table.RenameColumns(Source, "a", "b")`
	refs := Scan(expr)

	if findRef(refs, RefIdent, "Source") == nil {
		t.Errorf("expected bare identifier Source in %+v", refs)
	}
	if findRef(refs, RefIdent, "Table.RenameColumns") == nil {
		t.Errorf("expected dotted function identifier in %+v", refs)
	}
	if findRef(refs, RefIdent, "a") != nil || findRef(refs, RefIdent, "b") != nil {
		t.Error("string literal contents must not be scanned as identifiers")
	}
}

func TestScan_EscapedQuotes(t *testing.T) {
	expr := `f("say ""hi""", Source)`
	refs := Scan(expr)
	if findRef(refs, RefIdent, "hi") != nil {
		t.Error("escaped quotes must not terminate the string literal")
	}
	if findRef(refs, RefIdent, "Source") == nil {
		t.Errorf("expected Source after escaped string, got %+v", refs)
	}
}

func TestScan_NavFieldUnescapes(t *testing.T) {
	expr := `Src{[Item="He said ""hi"""]}[Data]`
	refs := Scan(expr)
	item := findRef(refs, RefNavField, `He said "hi"`)
	if item == nil {
		t.Fatalf("expected unescaped nav field value, got %+v", refs)
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Source", "Source"},
		{"Changed Type", `#"Changed Type"`},
		{"2nd", `#"2nd"`},
		{`say "hi"`, `#"say ""hi"""`},
	}
	for _, tt := range tests {
		if got := QuoteIdent(tt.in); got != tt.want {
			t.Errorf("QuoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeString(t *testing.T) {
	if got := EscapeString(`a"b`); got != `a""b` {
		t.Errorf("EscapeString = %q", got)
	}
}
