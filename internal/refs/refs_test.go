package refs

import (
	"testing"

	"github.com/remodel-labs/remodel/internal/testutil"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

func resolveFixture(t *testing.T) (*tmd.SemanticModel, *Index) {
	t.Helper()
	model, err := tmd.ParseFiles("/models/contoso", testutil.ModelFiles())
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	return model, Resolve(model)
}

func countBy(sites []Site, pred func(Site) bool) int {
	n := 0
	for _, s := range sites {
		if pred(s) {
			n++
		}
	}
	return n
}

func TestResolve_TableSites(t *testing.T) {
	model, index := resolveFixture(t)

	sites := index.TableSites("Sales")
	if len(sites) == 0 {
		t.Fatal("no sites for table Sales")
	}

	// Every site's span must actually spell a form of the name in its file.
	for _, s := range sites {
		content := model.Files[s.File].Content
		got := content[s.Span.Start:s.Span.End]
		switch {
		case s.Lang == LangDefinition && !s.Quoted:
			if got != "Sales" {
				t.Errorf("definition site in %s covers %q", s.File, got)
			}
		case s.Lang == LangQuery && s.InString:
			if got != "Sales" {
				t.Errorf("query string site in %s covers %q", s.File, got)
			}
		}
	}

	if n := countBy(sites, func(s Site) bool { return s.Occ == OccRelationship }); n != 1 {
		t.Errorf("expected 1 relationship site, got %d", n)
	}
	if n := countBy(sites, func(s Site) bool { return s.Occ == OccSecurity }); n != 1 {
		t.Errorf("expected 1 security site (tablePermission header), got %d", n)
	}
	// The nav record Item="Sales" in the source step.
	if n := countBy(sites, func(s Site) bool { return s.Backend && s.InString }); n != 1 {
		t.Errorf("expected 1 backend nav-field site, got %d", n)
	}
	// Table header + partition named after the table + ref table entry.
	if n := countBy(sites, func(s Site) bool { return s.Occ == OccDefinition }); n != 3 {
		t.Errorf("expected 3 definition sites, got %d", n)
	}
	// Qualified formula references: the model-level measure uses Sales twice,
	// the calculated column once.
	if n := countBy(sites, func(s Site) bool { return s.Lang == LangFormula }); n != 3 {
		t.Errorf("expected 3 formula sites, got %d", n)
	}
}

func TestResolve_ColumnScoping(t *testing.T) {
	_, index := resolveFixture(t)

	// Customer.Id and Product.Id are distinct columns; each scope sees only
	// its own sites.
	customer := index.ColumnSites("Customer", "Id")
	product := index.ColumnSites("Product", "Id")
	if len(customer) == 0 || len(product) == 0 {
		t.Fatalf("missing Id sites: customer=%d product=%d", len(customer), len(product))
	}
	for _, s := range customer {
		if s.Table != "Customer" {
			t.Errorf("Customer.Id site attributed to table %q", s.Table)
		}
	}
	// Customer.Id: column definition + relationship endpoint.
	if len(customer) != 2 {
		t.Errorf("expected 2 sites for Customer.Id, got %d: %+v", len(customer), customer)
	}
	// Product.Id: column definition only.
	if len(product) != 1 {
		t.Errorf("expected 1 site for Product.Id, got %d: %+v", len(product), product)
	}
}

func TestResolve_ColumnFormulaSites(t *testing.T) {
	model, index := resolveFixture(t)

	sites := index.ColumnSites("Sales", "Amount")
	// Definition + model measure qualified ref + calculated column qualified
	// ref + role filter bare ref + query field access.
	byOcc := make(map[Occurrence]int)
	for _, s := range sites {
		byOcc[s.Occ]++
		content := model.Files[s.File].Content
		if got := content[s.Span.Start:s.Span.End]; got != "Amount" {
			t.Errorf("site in %s covers %q", s.File, got)
		}
	}
	if byOcc[OccDefinition] != 1 {
		t.Errorf("expected 1 definition site, got %d", byOcc[OccDefinition])
	}
	if byOcc[OccFormula] != 2 {
		t.Errorf("expected 2 formula sites, got %d", byOcc[OccFormula])
	}
	if byOcc[OccSecurity] != 1 {
		t.Errorf("expected 1 security filter site, got %d", byOcc[OccSecurity])
	}
	if byOcc[OccQuery] != 1 {
		t.Errorf("expected 1 query field-access site, got %d", byOcc[OccQuery])
	}
}

func TestResolve_BackendGating(t *testing.T) {
	_, index := resolveFixture(t)

	for _, s := range index.TableSites("Sales") {
		if s.Lang == LangQuery && !s.Backend {
			t.Errorf("query site without backend flag: %+v", s)
		}
		if s.Lang != LangQuery && s.Backend {
			t.Errorf("non-query site with backend flag: %+v", s)
		}
	}

	// OrderId's source column is order_id, so its display name never appears
	// in the pipeline as a trackable field access.
	for _, s := range index.ColumnSites("Sales", "OrderId") {
		if s.Occ == OccQuery {
			t.Errorf("OrderId must not have query sites, got %+v", s)
		}
	}
}

func TestResolve_BareMeasureRefsNotColumns(t *testing.T) {
	_, index := resolveFixture(t)

	// The calculated column Margin subtracts [Cost]; Cost is a real column so
	// the bare reference resolves. A bare reference to a non-column name is
	// skipped, which TestResolve_ColumnScoping's counts already pin down.
	sites := index.ColumnSites("Sales", "Cost")
	found := false
	for _, s := range sites {
		if s.Occ == OccFormula {
			found = true
		}
	}
	if !found {
		t.Error("expected a formula site for Sales.Cost from the bare [Cost] reference")
	}
}

func TestResolve_CaseInsensitiveLookup(t *testing.T) {
	_, index := resolveFixture(t)
	if len(index.TableSites("sales")) != len(index.TableSites("Sales")) {
		t.Error("table lookup must be case-insensitive")
	}
	if len(index.ColumnSites("SALES", "amount")) != len(index.ColumnSites("Sales", "Amount")) {
		t.Error("column lookup must be case-insensitive")
	}
}
