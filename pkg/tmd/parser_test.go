package tmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func modelFixture() map[string]string {
	return map[string]string{
		"definition/model.tmd": `model Contoso {
	ref table Sales

	measure 'Total Sales' {
		expression: ` + "`SUM(Sales[Amount])`" + `
		formatString: #,0.00
	}
}
`,
		"definition/tables/Sales.tmd": `table Sales {
	column Amount {
		dataType: decimal
	}
	column OrderId {
		dataType: int64
		sourceColumn: order_id
	}
	column Margin {
		dataType: decimal
		isCalculated: true
		expression: ` + "`[Amount] - [Cost]`" + `
	}
	column Cost {
		dataType: decimal
	}

	measure 'Order Count' {
		expression: ` + "`COUNTROWS(Sales)`" + `
		displayFolder: Counts
	}

	partition Sales {
		mode: import
		step Source {
			expression: ` + "`Sql.Database(\"sql01\", \"dwh\"){[Schema=\"dbo\", Item=\"Sales\"]}[Data]`" + `
		}
		step Typed {
			expression: ` + "`Table.TransformColumnTypes(Source, [Amount])`" + `
		}
	}
}
`,
		"definition/tables/Customer.tmd": `table Customer {
	column Id {
		dataType: int64
	}
}
`,
		"definition/relationships.tmd": `relationship rel1 {
	fromColumn: Sales.OrderId
	toColumn: Customer.Id
	cardinality: manyToOne
}
`,
		"definition/roles/Readers.tmd": `role Readers {
	modelPermission: read

	tablePermission Sales {
		filterExpression: ` + "`[Amount] > 0`" + `
	}
}
`,
	}
}

func TestParseFiles_FullModel(t *testing.T) {
	model, err := ParseFiles("/models/contoso", modelFixture())
	if err != nil {
		t.Fatalf("failed to parse model: %v", err)
	}

	if model.Name != "Contoso" {
		t.Errorf("expected model name Contoso, got %q", model.Name)
	}
	if len(model.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(model.Tables))
	}

	sales := model.Table("Sales")
	if sales == nil {
		t.Fatal("table Sales not found")
	}
	if len(sales.Columns) != 4 {
		t.Errorf("expected 4 columns on Sales, got %d", len(sales.Columns))
	}
	if len(sales.Measures) != 1 || sales.Measures[0].Name.Name != "Order Count" {
		t.Errorf("unexpected Sales measures: %+v", sales.Measures)
	}
	if sales.Measures[0].DisplayFolder != "Counts" {
		t.Errorf("expected displayFolder Counts, got %q", sales.Measures[0].DisplayFolder)
	}

	if len(model.Measures) != 1 || model.Measures[0].Name.Name != "Total Sales" {
		t.Fatalf("unexpected model measures: %+v", model.Measures)
	}
	if model.Measures[0].Table != "" {
		t.Errorf("model-level measure should have no owning table, got %q", model.Measures[0].Table)
	}

	if len(model.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(model.Relationships))
	}
	rel := model.Relationships[0]
	if rel.From.Table.Name != "Sales" || rel.From.Column.Name != "OrderId" {
		t.Errorf("unexpected from endpoint %q.%q", rel.From.Table.Name, rel.From.Column.Name)
	}
	if !rel.IsActive {
		t.Error("relationship should default to active")
	}

	if len(model.Roles) != 1 || len(model.Roles[0].TablePermissions) != 1 {
		t.Fatalf("unexpected roles: %+v", model.Roles)
	}
}

func TestParseFiles_SourceColumnDefaults(t *testing.T) {
	model, err := ParseFiles("/models/contoso", modelFixture())
	if err != nil {
		t.Fatalf("failed to parse model: %v", err)
	}
	sales := model.Table("Sales")

	amount := sales.Column("Amount")
	if amount.SourceColumn != "Amount" {
		t.Errorf("implicit sourceColumn should default to the display name, got %q", amount.SourceColumn)
	}
	if amount.SourceColumnSpan != (Span{}) {
		t.Error("implicit sourceColumn must carry a zero span")
	}

	orderID := sales.Column("OrderId")
	if orderID.SourceColumn != "order_id" {
		t.Errorf("expected explicit sourceColumn order_id, got %q", orderID.SourceColumn)
	}
	content := model.Files[sales.File].Content
	if got := content[orderID.SourceColumnSpan.Start:orderID.SourceColumnSpan.End]; got != "order_id" {
		t.Errorf("sourceColumn span covers %q, want order_id", got)
	}
}

func TestParseFiles_SourceStepParsed(t *testing.T) {
	model, err := ParseFiles("/models/contoso", modelFixture())
	if err != nil {
		t.Fatalf("failed to parse model: %v", err)
	}
	step := model.Table("Sales").SourceStep()
	if step == nil || step.Source == nil {
		t.Fatal("expected a parsed source step")
	}
	if step.Source.Func != "Sql.Database" {
		t.Errorf("expected Sql.Database source, got %q", step.Source.Func)
	}
	if item, ok := step.Source.NavItem("Item"); !ok || item != "Sales" {
		t.Errorf("expected Item=Sales, got %q (ok=%v)", item, ok)
	}
	// Later steps stay opaque.
	if model.Table("Sales").Partition.Steps[1].Source != nil {
		t.Error("non-source steps must not be parsed into access calls")
	}
}

func TestParseFiles_ContentPreserved(t *testing.T) {
	files := modelFixture()
	model, err := ParseFiles("/models/contoso", files)
	if err != nil {
		t.Fatalf("failed to parse model: %v", err)
	}

	// Rewrites splice SourceFile.Content directly, so parsing must keep every
	// file byte-identical to its input.
	if len(model.Files) != len(files) {
		t.Fatalf("expected %d files, got %d", len(files), len(model.Files))
	}
	for rel, content := range files {
		src, ok := model.Files[rel]
		if !ok {
			t.Errorf("file %s missing from parsed model", rel)
			continue
		}
		if src.Content != content {
			t.Errorf("content of %s altered by parsing", rel)
		}
	}
}

func TestParseFiles_DuplicateColumn(t *testing.T) {
	files := modelFixture()
	files["definition/tables/Customer.tmd"] = `table Customer {
	column Id {
		dataType: int64
	}
	column 'id' {
		dataType: string
	}
}
`
	_, err := ParseFiles("/models/contoso", files)
	if err == nil {
		t.Fatal("expected duplicate column error")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if !strings.Contains(pe.Message, "duplicate column") {
		t.Errorf("unexpected message %q", pe.Message)
	}
}

func TestParseFiles_DanglingRelationship(t *testing.T) {
	files := modelFixture()
	files["definition/relationships.tmd"] = `relationship rel1 {
	fromColumn: Sales.OrderId
	toColumn: Ghost.Id
}
`
	_, err := ParseFiles("/models/contoso", files)
	if err == nil || !strings.Contains(err.Error(), "unknown table") {
		t.Fatalf("expected unknown table error, got %v", err)
	}
}

func TestParseFiles_FileNameMismatch(t *testing.T) {
	files := modelFixture()
	files["definition/tables/Wrong.tmd"] = files["definition/tables/Customer.tmd"]
	delete(files, "definition/tables/Customer.tmd")

	_, err := ParseFiles("/models/contoso", files)
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected file name mismatch error, got %v", err)
	}
}

func TestParseFiles_CalculatedColumnRequiresExpression(t *testing.T) {
	files := modelFixture()
	files["definition/tables/Customer.tmd"] = `table Customer {
	column Id {
		dataType: int64
		isCalculated: true
	}
}
`
	_, err := ParseFiles("/models/contoso", files)
	if err == nil || !strings.Contains(err.Error(), "no expression") {
		t.Fatalf("expected missing expression error, got %v", err)
	}
}

func TestParse_FromDisk(t *testing.T) {
	root := t.TempDir()
	for rel, content := range modelFixture() {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	model, err := Parse(root)
	if err != nil {
		t.Fatalf("failed to parse from disk: %v", err)
	}
	if model.Root != root {
		t.Errorf("expected root %q, got %q", root, model.Root)
	}
	if len(model.Files) != len(modelFixture()) {
		t.Errorf("expected %d files, got %d", len(modelFixture()), len(model.Files))
	}
	for rel, content := range modelFixture() {
		if src := model.Files[rel]; src == nil || src.Content != content {
			t.Errorf("content of %s altered by parsing", rel)
		}
	}
}

func TestParse_MissingDefinitionDir(t *testing.T) {
	_, err := Parse(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing definition directory")
	}
}

func TestIsBuiltinTable(t *testing.T) {
	if !IsBuiltinTable("DateTableTemplate_9fca") || !IsBuiltinTable("LocalDateTable_01ab") {
		t.Error("calendar tables should be builtin")
	}
	if IsBuiltinTable("Sales") {
		t.Error("Sales should not be builtin")
	}
}
