// Package backup implements the transaction and snapshot discipline around
// batch file rewrites: every touched file is copied into a per-operation
// snapshot directory before any write, all writes and file moves go through
// an open Transaction, and any failure restores the filesystem to its
// pre-operation byte content. Snapshots are retained after commit so a
// committed operation stays user-reversible.
package backup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDirName is the backups directory created next to a model root.
const DefaultDirName = ".remodel-backups"

const manifestFile = "manifest.json"

// DefaultDir returns the backups directory for a model root: a sibling
// directory, never inside the model tree itself.
func DefaultDir(modelRoot string) string {
	abs, err := filepath.Abs(modelRoot)
	if err != nil {
		abs = modelRoot
	}
	return filepath.Join(filepath.Dir(abs), DefaultDirName)
}

// FileMove records one executed file rename, for reversal.
type FileMove struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Manifest describes one snapshot: which operation created it and which
// files it holds.
type Manifest struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Model     string     `json:"model"`
	ModelRoot string     `json:"model_root"`
	CreatedAt time.Time  `json:"created_at"`
	Files     []string   `json:"files"`
	Renames   []FileMove `json:"renames,omitempty"`
	Committed bool       `json:"committed"`
}

// Snapshot pairs a manifest with the directory holding the copied files.
type Snapshot struct {
	Dir      string
	Manifest Manifest
}

// Manager creates and restores snapshots under one backups directory.
type Manager struct {
	dir string
	log *slog.Logger
}

// NewManager returns a Manager writing snapshots under dir. A nil logger
// discards log output.
func NewManager(dir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{dir: dir, log: log}
}

// Transaction is one in-flight batch of writes against a model directory.
// Writes and renames are permitted only between Begin and Commit; Rollback
// restores every touched file from the snapshot.
type Transaction struct {
	mgr      *Manager
	root     string
	snapDir  string
	manifest Manifest
	tracked  map[string]bool
	moves    []FileMove
	done     bool
}

// Begin snapshots the current byte content of every listed file (paths are
// slash-separated, relative to modelRoot) before any write occurs.
func (m *Manager) Begin(label, modelRoot string, files []string) (*Transaction, error) {
	id := uuid.NewString()
	stamp := time.Now()
	name := fmt.Sprintf("%s_%s_%s_%s",
		filepath.Base(modelRoot), label, stamp.Format("20060102-150405"), id[:8])
	snapDir := filepath.Join(m.dir, name)

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	tx := &Transaction{
		mgr:     m,
		root:    modelRoot,
		snapDir: snapDir,
		manifest: Manifest{
			ID:        id,
			Label:     label,
			Model:     filepath.Base(modelRoot),
			ModelRoot: modelRoot,
			CreatedAt: stamp,
			Files:     sorted,
		},
		tracked: make(map[string]bool, len(files)),
	}

	for _, rel := range sorted {
		data, err := os.ReadFile(filepath.Join(modelRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", rel, err)
		}
		dst := filepath.Join(snapDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", rel, err)
		}
		tx.tracked[rel] = true
	}
	if err := tx.writeManifest(); err != nil {
		return nil, err
	}

	m.log.Info("snapshot created", "id", id, "label", label, "files", len(sorted), "dir", snapDir)
	return tx, nil
}

// WriteFile rewrites one snapshotted file in place.
func (tx *Transaction) WriteFile(rel, content string) error {
	if tx.done {
		return fmt.Errorf("transaction %s is closed", tx.manifest.ID)
	}
	if !tx.tracked[rel] {
		return fmt.Errorf("file %s is not part of transaction %s", rel, tx.manifest.ID)
	}
	return os.WriteFile(filepath.Join(tx.root, filepath.FromSlash(rel)), []byte(content), 0o644)
}

// RenameFile moves one snapshotted file to a new path inside the model
// directory. The target path must not already exist.
func (tx *Transaction) RenameFile(oldRel, newRel string) error {
	if tx.done {
		return fmt.Errorf("transaction %s is closed", tx.manifest.ID)
	}
	if !tx.tracked[oldRel] {
		return fmt.Errorf("file %s is not part of transaction %s", oldRel, tx.manifest.ID)
	}
	oldPath := filepath.Join(tx.root, filepath.FromSlash(oldRel))
	newPath := filepath.Join(tx.root, filepath.FromSlash(newRel))
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("cannot move %s: %s already exists", oldRel, newRel)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	tx.moves = append(tx.moves, FileMove{Old: oldRel, New: newRel})
	delete(tx.tracked, oldRel)
	tx.tracked[newRel] = true
	return nil
}

// Commit marks the snapshot committed. The snapshot is retained. When the
// manifest write fails the transaction stays open so the caller can still
// roll back.
func (tx *Transaction) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction %s is closed", tx.manifest.ID)
	}
	tx.manifest.Committed = true
	tx.manifest.Renames = collapseMoves(tx.moves)
	if err := tx.writeManifest(); err != nil {
		tx.manifest.Committed = false
		tx.manifest.Renames = nil
		return err
	}
	tx.done = true
	tx.mgr.log.Info("transaction committed", "id", tx.manifest.ID, "label", tx.manifest.Label)
	return nil
}

// Rollback undoes every executed rename in reverse order and restores every
// snapshotted file's content, leaving the model directory byte-identical to
// its state at Begin.
func (tx *Transaction) Rollback() error {
	if tx.done {
		return fmt.Errorf("transaction %s is closed", tx.manifest.ID)
	}
	tx.done = true
	err := restore(tx.root, tx.snapDir, tx.manifest.Files, tx.moves)
	if err != nil {
		tx.mgr.log.Error("rollback failed", "id", tx.manifest.ID, "error", err)
		return err
	}
	tx.mgr.log.Info("transaction rolled back", "id", tx.manifest.ID, "label", tx.manifest.Label)
	return nil
}

// ID returns the transaction's operation id.
func (tx *Transaction) ID() string { return tx.manifest.ID }

// SnapshotDir returns the directory holding this transaction's snapshot.
func (tx *Transaction) SnapshotDir() string { return tx.snapDir }

func (tx *Transaction) writeManifest() error {
	data, err := json.MarshalIndent(tx.manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(tx.snapDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tx.snapDir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot manifest: %w", err)
	}
	return nil
}

// collapseMoves resolves placeholder hops so the manifest records only
// original-to-final pairs.
func collapseMoves(moves []FileMove) []FileMove {
	origin := make(map[string]string) // current path -> original path
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
	var out []FileMove
	for _, o := range order {
		for cur, orig := range origin {
			if orig == o && cur != o {
				out = append(out, FileMove{Old: o, New: cur})
			}
		}
	}
	return out
}

// Scan enumerates the snapshots under a backups directory, newest first.
func Scan(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name(), manifestFile))
		if err != nil {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(data, &man); err != nil {
			continue
		}
		out = append(out, Snapshot{Dir: filepath.Join(dir, e.Name()), Manifest: man})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Manifest.CreatedAt.After(out[j].Manifest.CreatedAt)
	})
	return out, nil
}

// Restore puts a committed snapshot's files back into the model directory:
// recorded renames are reversed, then every snapshotted file's content is
// restored.
func (m *Manager) Restore(snap Snapshot, modelRoot string) error {
	moves := snap.Manifest.Renames
	if err := restore(modelRoot, snap.Dir, snap.Manifest.Files, moves); err != nil {
		return err
	}
	m.log.Info("snapshot restored", "id", snap.Manifest.ID, "label", snap.Manifest.Label, "files", len(snap.Manifest.Files))
	return nil
}

func restore(root, snapDir string, files []string, moves []FileMove) error {
	for i := len(moves) - 1; i >= 0; i-- {
		mv := moves[i]
		newPath := filepath.Join(root, filepath.FromSlash(mv.New))
		oldPath := filepath.Join(root, filepath.FromSlash(mv.Old))
		if _, err := os.Stat(newPath); err != nil {
			continue
		}
		if err := os.Rename(newPath, oldPath); err != nil {
			return fmt.Errorf("failed to reverse rename %s -> %s: %w", mv.New, mv.Old, err)
		}
	}
	for _, rel := range files {
		if !validSnapshotPath(rel) {
			return fmt.Errorf("snapshot lists invalid path %q", rel)
		}
		data, err := os.ReadFile(filepath.Join(snapDir, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("snapshot is missing %s: %w", rel, err)
		}
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", rel, err)
		}
	}
	return nil
}

// validSnapshotPath rejects manifest paths that would escape the model
// directory.
func validSnapshotPath(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, `\`) {
		return false
	}
	clean := path.Clean(rel)
	return clean == rel && !strings.HasPrefix(clean, "..")
}
