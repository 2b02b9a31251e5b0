package engine

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/remodel-labs/remodel/internal/backup"
	"github.com/remodel-labs/remodel/internal/migrate"
	"github.com/remodel-labs/remodel/internal/rename"
	"github.com/remodel-labs/remodel/internal/testutil"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

func setup(t *testing.T) (*Engine, string, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "contoso")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteModel(t, root, nil)
	backups := t.TempDir()
	return New(testutil.NewTestLogger(t), backups), root, backups
}

func TestEngine_Rename_EndToEnd(t *testing.T) {
	eng, root, backups := setup(t)

	res, err := eng.Rename(root, []rename.Op{{Kind: rename.OpTable, Old: "Sales", New: "Revenue"}}, rename.Options{})
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	if res.OperationID == "" || res.SnapshotDir == "" {
		t.Errorf("incomplete result %+v", res)
	}
	wantMoves := []rename.FileRename{{
		Old: "definition/tables/Sales.tmd",
		New: "definition/tables/Revenue.tmd",
	}}
	if !reflect.DeepEqual(res.FileMoves, wantMoves) {
		t.Errorf("file moves %+v", res.FileMoves)
	}

	model, err := tmd.Parse(root)
	if err != nil {
		t.Fatalf("model does not parse after rename: %v", err)
	}
	if model.Table("Revenue") == nil || model.Table("Sales") != nil {
		t.Error("rename not applied on disk")
	}

	// The snapshot is retained after commit.
	snaps, err := backup.Scan(backups)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("scan: %v (%d snapshots)", err, len(snaps))
	}
	if !snaps[0].Manifest.Committed {
		t.Error("snapshot not committed")
	}
}

func TestEngine_Rename_InverseRestoresBytes(t *testing.T) {
	eng, root, _ := setup(t)
	before := testutil.ReadModel(t, root)

	if _, err := eng.Rename(root, []rename.Op{{Kind: rename.OpTable, Old: "Sales", New: "Revenue"}}, rename.Options{}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if _, err := eng.Rename(root, []rename.Op{{Kind: rename.OpTable, Old: "Revenue", New: "Sales"}}, rename.Options{}); err != nil {
		t.Fatalf("inverse rename failed: %v", err)
	}

	after := testutil.ReadModel(t, root)
	if !reflect.DeepEqual(before, after) {
		for p := range before {
			if before[p] != after[p] {
				t.Errorf("file %s differs after inverse rename:\nbefore: %q\nafter:  %q", p, before[p], after[p])
			}
		}
		for p := range after {
			if _, ok := before[p]; !ok {
				t.Errorf("unexpected file %s after inverse rename", p)
			}
		}
	}
}

func TestEngine_Rename_SwapOnDisk(t *testing.T) {
	eng, root, _ := setup(t)

	ops := []rename.Op{
		{Kind: rename.OpTable, Old: "Customer", New: "Product"},
		{Kind: rename.OpTable, Old: "Product", New: "Customer"},
	}
	res, err := eng.Rename(root, ops, rename.Options{})
	if err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	// Placeholder hops are collapsed out of the reported moves.
	if len(res.FileMoves) != 2 {
		t.Errorf("expected 2 collapsed moves, got %+v", res.FileMoves)
	}
	for _, mv := range res.FileMoves {
		if strings.Contains(mv.New, ".rename-") {
			t.Errorf("placeholder path leaked into result: %+v", mv)
		}
	}

	model, err := tmd.Parse(root)
	if err != nil {
		t.Fatalf("model does not parse after swap: %v", err)
	}
	if model.Table("Product").Column("Full Name") == nil {
		t.Error("swap did not exchange table contents")
	}
	// No placeholder files remain.
	entries, err := os.ReadDir(filepath.Join(root, "definition", "tables"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".rename-") {
			t.Errorf("placeholder file %s left behind", e.Name())
		}
	}
}

func TestEngine_Rename_ConflictLeavesDiskUntouched(t *testing.T) {
	eng, root, backups := setup(t)
	before := testutil.ReadModel(t, root)

	_, err := eng.Rename(root, []rename.Op{{Kind: rename.OpTable, Old: "Sales", New: "Customer"}}, rename.Options{})
	if err == nil {
		t.Fatal("expected conflict error")
	}

	after := testutil.ReadModel(t, root)
	if !reflect.DeepEqual(before, after) {
		t.Error("rejected plan modified the model directory")
	}
	// No snapshot is taken for a rejected plan.
	snaps, err := backup.Scan(backups)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snaps))
	}
}

func TestEngine_Rename_FailureRollsBack(t *testing.T) {
	eng, root, _ := setup(t)
	before := testutil.ReadModel(t, root)

	// A stray directory occupies the rename target. The parser skips
	// directories, so planning cannot see it; the transaction's rename step
	// fails after content was already written, forcing a rollback.
	stray := filepath.Join(root, "definition", "tables", "Revenue.tmd")
	if err := os.MkdirAll(stray, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Rename(root, []rename.Op{{Kind: rename.OpTable, Old: "Sales", New: "Revenue"}}, rename.Options{})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected target-exists failure, got %v", err)
	}

	after := testutil.ReadModel(t, root)
	if !reflect.DeepEqual(before, after) {
		for p := range before {
			if before[p] != after[p] {
				t.Errorf("file %s not rolled back", p)
			}
		}
	}
}

func TestEngine_Rename_ReleasesLeaseOnError(t *testing.T) {
	eng, root, _ := setup(t)

	if _, err := eng.Rename(root, []rename.Op{{Kind: rename.OpTable, Old: "Ghost", New: "X"}}, rename.Options{}); err == nil {
		t.Fatal("expected error")
	}
	// The lease must be free again.
	lease, err := AcquireLease(root)
	if err != nil {
		t.Fatalf("lease still held after failed rename: %v", err)
	}
	lease.Release()
}

func TestEngine_PreviewRename_DoesNotWrite(t *testing.T) {
	eng, root, backups := setup(t)
	before := testutil.ReadModel(t, root)

	diffs, err := eng.PreviewRename(root, []rename.Op{{Kind: rename.OpTable, Old: "Sales", New: "Revenue"}}, rename.Options{})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(diffs) == 0 {
		t.Fatal("expected diffs")
	}

	var sawMove bool
	for _, d := range diffs {
		if d.Path == "definition/tables/Sales.tmd" {
			if d.NewPath != "definition/tables/Revenue.tmd" {
				t.Errorf("expected move in diff, got %+v", d.NewPath)
			}
			if !strings.Contains(d.New, "table Revenue {") {
				t.Error("diff does not show rewritten header")
			}
			sawMove = true
		}
		if d.Old == d.New && d.NewPath == "" {
			t.Errorf("diff for %s shows no change", d.Path)
		}
	}
	if !sawMove {
		t.Error("no diff for the moved table file")
	}

	if !reflect.DeepEqual(before, testutil.ReadModel(t, root)) {
		t.Error("preview modified the model directory")
	}
	if snaps, _ := backup.Scan(backups); len(snaps) != 0 {
		t.Error("preview created a snapshot")
	}
}

func TestEngine_Migrate_EndToEnd(t *testing.T) {
	eng, root, _ := setup(t)

	target := migrate.Target{
		Kind:   "lakehouse",
		Params: map[string]string{"workspaceId": "W1", "lakehouseId": "L1"},
	}
	res, err := eng.Migrate(root, nil, target)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if len(res.ChangedFiles) != 3 {
		t.Errorf("expected 3 changed files, got %v", res.ChangedFiles)
	}

	model, err := tmd.Parse(root)
	if err != nil {
		t.Fatalf("model does not parse after migration: %v", err)
	}
	for _, name := range []string{"Sales", "Customer", "Product"} {
		if f := model.Table(name).SourceStep().Source.Func; f != "Lakehouse.Contents" {
			t.Errorf("table %s source is %q", name, f)
		}
	}
}

func TestEngine_PreviewMigrate(t *testing.T) {
	eng, root, _ := setup(t)
	before := testutil.ReadModel(t, root)

	diffs, err := eng.PreviewMigrate(root, []string{"Sales"}, migrate.Target{
		Kind:   "sqlserver",
		Params: map[string]string{"server": "sql02", "database": "dwh2"},
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Path != "definition/tables/Sales.tmd" {
		t.Fatalf("unexpected diffs %+v", diffs)
	}
	if !strings.Contains(diffs[0].New, `Sql.Database("sql02", "dwh2")`) {
		t.Error("diff does not show the new source step")
	}
	if !reflect.DeepEqual(before, testutil.ReadModel(t, root)) {
		t.Error("preview modified the model directory")
	}
}
