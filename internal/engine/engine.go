// Package engine orchestrates batch operations against a model directory:
// parse, resolve, plan, then apply through a transaction. Applying holds the
// directory lease, rewrites every affected file in memory, re-parses the
// rewritten output as a self-check, and only then writes through the
// transaction; any failure rolls the filesystem back.
package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/remodel-labs/remodel/internal/backup"
	"github.com/remodel-labs/remodel/internal/migrate"
	"github.com/remodel-labs/remodel/internal/refs"
	"github.com/remodel-labs/remodel/internal/rename"
	"github.com/remodel-labs/remodel/internal/rewrite"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// Engine runs rename and migration batches. Safe for concurrent use across
// distinct model directories; the per-directory lease serializes operations
// against the same directory.
type Engine struct {
	log       *slog.Logger
	backupDir string // empty selects the sibling default per model root
}

// New returns an Engine. A nil logger discards log output; an empty
// backupDir places snapshots in the default sibling directory.
func New(log *slog.Logger, backupDir string) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{log: log, backupDir: backupDir}
}

// Result summarizes one committed batch.
type Result struct {
	OperationID    string
	Label          string
	ChangedFiles   []string
	FileMoves      []rename.FileRename
	SnapshotDir    string
	SkippedBackend int
}

// FileDiff is one file's before/after content, for previews.
type FileDiff struct {
	Path    string
	NewPath string // non-empty when the file also moves
	Old     string
	New     string
}

// Rename plans and applies a batch of renames against the model directory.
func (e *Engine) Rename(root string, ops []rename.Op, opts rename.Options) (*Result, error) {
	lease, err := AcquireLease(root)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	model, plan, err := planRename(root, ops, opts)
	if err != nil {
		return nil, err
	}
	res, err := e.apply("rename", model, plan.Edits, plan.FileRenames)
	if err != nil {
		return nil, err
	}
	res.SkippedBackend = plan.SkippedBackend
	return res, nil
}

// PreviewRename computes the rewritten files for a rename batch without
// touching the filesystem.
func (e *Engine) PreviewRename(root string, ops []rename.Op, opts rename.Options) ([]FileDiff, error) {
	model, plan, err := planRename(root, ops, opts)
	if err != nil {
		return nil, err
	}
	return preview(model, plan.Edits, plan.FileRenames)
}

// Migrate plans and applies a data source migration.
func (e *Engine) Migrate(root string, tables []string, target migrate.Target) (*Result, error) {
	lease, err := AcquireLease(root)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	model, plan, err := planMigration(root, tables, target)
	if err != nil {
		return nil, err
	}
	return e.apply("migration", model, plan.Edits, nil)
}

// PreviewMigrate computes the rewritten files for a migration without
// touching the filesystem.
func (e *Engine) PreviewMigrate(root string, tables []string, target migrate.Target) ([]FileDiff, error) {
	model, plan, err := planMigration(root, tables, target)
	if err != nil {
		return nil, err
	}
	return preview(model, plan.Edits, nil)
}

func planRename(root string, ops []rename.Op, opts rename.Options) (*tmd.SemanticModel, *rename.Plan, error) {
	model, err := tmd.Parse(root)
	if err != nil {
		return nil, nil, err
	}
	index := refs.Resolve(model)
	plan, err := rename.PlanBatch(model, index, ops, opts)
	if err != nil {
		return nil, nil, err
	}
	return model, plan, nil
}

func planMigration(root string, tables []string, target migrate.Target) (*tmd.SemanticModel, *migrate.Plan, error) {
	model, err := tmd.Parse(root)
	if err != nil {
		return nil, nil, err
	}
	plan, err := migrate.PlanMigration(model, tables, target)
	if err != nil {
		return nil, nil, err
	}
	return model, plan, nil
}

// rewriteAll splices every file's edits and returns the rewritten contents
// keyed by original path.
func rewriteAll(model *tmd.SemanticModel, edits map[string][]rewrite.Edit) (map[string]string, error) {
	out := make(map[string]string, len(edits))
	for file, fileEdits := range edits {
		src, ok := model.Files[file]
		if !ok {
			return nil, fmt.Errorf("plan touches unknown file %s", file)
		}
		rewritten, err := rewrite.Apply(file, src.Content, fileEdits)
		if err != nil {
			return nil, err
		}
		out[file] = rewritten
	}
	return out, nil
}

// selfCheck re-parses the full rewritten file set, with file moves applied
// in memory, before anything is written to disk.
func selfCheck(model *tmd.SemanticModel, rewritten map[string]string, moves []rename.FileRename) error {
	files := make(map[string]string, len(model.Files))
	for p, src := range model.Files {
		files[p] = src.Content
	}
	for p, content := range rewritten {
		files[p] = content
	}
	for _, mv := range moves {
		content, ok := files[mv.Old]
		if !ok {
			return fmt.Errorf("plan moves unknown file %s", mv.Old)
		}
		delete(files, mv.Old)
		files[mv.New] = content
	}
	if _, err := tmd.ParseFiles(model.Root, files); err != nil {
		return fmt.Errorf("rewritten model failed to re-parse: %w", err)
	}
	return nil
}

// apply runs the write phase: snapshot, sequential writes, file moves,
// commit. Any failure rolls back and returns the original error.
func (e *Engine) apply(label string, model *tmd.SemanticModel, edits map[string][]rewrite.Edit, moves []rename.FileRename) (*Result, error) {
	rewritten, err := rewriteAll(model, edits)
	if err != nil {
		return nil, err
	}
	if err := selfCheck(model, rewritten, moves); err != nil {
		return nil, err
	}

	touched := make(map[string]bool, len(rewritten))
	for f := range rewritten {
		touched[f] = true
	}
	for _, mv := range moves {
		// Placeholder hops start at paths created inside the transaction;
		// only files present before the batch are snapshotted.
		if _, ok := model.Files[mv.Old]; ok {
			touched[mv.Old] = true
		}
	}
	files := make([]string, 0, len(touched))
	for f := range touched {
		files = append(files, f)
	}
	sort.Strings(files)

	dir := e.backupDir
	if dir == "" {
		dir = backup.DefaultDir(model.Root)
	}
	mgr := backup.NewManager(dir, e.log)
	tx, err := mgr.Begin(label, model.Root, files)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		content, ok := rewritten[f]
		if !ok {
			continue
		}
		if err := tx.WriteFile(f, content); err != nil {
			return nil, rollback(tx, err)
		}
	}
	for _, mv := range moves {
		if err := tx.RenameFile(mv.Old, mv.New); err != nil {
			return nil, rollback(tx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, rollback(tx, err)
	}

	e.log.Info("batch applied", "label", label, "id", tx.ID(), "files", len(files))
	return &Result{
		OperationID:  tx.ID(),
		Label:        label,
		ChangedFiles: files,
		FileMoves:    finalMoves(moves),
		SnapshotDir:  tx.SnapshotDir(),
	}, nil
}

func rollback(tx *backup.Transaction, cause error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback also failed: %v)", cause, rbErr)
	}
	return cause
}

// finalMoves collapses placeholder hops into original-to-final pairs.
func finalMoves(moves []rename.FileRename) []rename.FileRename {
	origin := make(map[string]string)
	var order []string
	for _, mv := range moves {
		from := mv.Old
		if o, ok := origin[from]; ok {
			delete(origin, from)
			from = o
		} else {
			order = append(order, from)
		}
		origin[mv.New] = from
	}
	var out []rename.FileRename
	for _, o := range order {
		for cur, orig := range origin {
			if orig == o && cur != o {
				out = append(out, rename.FileRename{Old: o, New: cur})
			}
		}
	}
	return out
}

// preview pairs each changed file's original and rewritten content.
func preview(model *tmd.SemanticModel, edits map[string][]rewrite.Edit, moves []rename.FileRename) ([]FileDiff, error) {
	rewritten, err := rewriteAll(model, edits)
	if err != nil {
		return nil, err
	}
	if err := selfCheck(model, rewritten, moves); err != nil {
		return nil, err
	}

	newPath := make(map[string]string)
	for _, mv := range finalMoves(moves) {
		newPath[mv.Old] = mv.New
	}

	paths := make([]string, 0, len(rewritten))
	for p := range rewritten {
		paths = append(paths, p)
	}
	for p := range newPath {
		if _, ok := rewritten[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	out := make([]FileDiff, 0, len(paths))
	for _, p := range paths {
		d := FileDiff{Path: p, NewPath: newPath[p], Old: model.Files[p].Content}
		if content, ok := rewritten[p]; ok {
			d.New = content
		} else {
			d.New = d.Old
		}
		out = append(out, d)
	}
	return out, nil
}
