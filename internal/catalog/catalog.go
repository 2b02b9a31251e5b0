// Package catalog persists parsed models into a local sqlite database for
// search and filtering, and records committed operations. It is a read-only
// collaborator: the refactoring engine never depends on the catalog for
// correctness.
package catalog

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/remodel-labs/remodel/internal/migrate"
	"github.com/remodel-labs/remodel/internal/refs"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a sqlite-backed catalog.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates an unopened Store.
func NewStore() *Store {
	return &Store{}
}

// Open opens the catalog database. Use ":memory:" for an in-memory catalog.
func (s *Store) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open catalog database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping catalog database: %w", err)
	}
	s.db = db
	s.path = path
	return nil
}

// Close closes the catalog database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs all pending schema migrations.
func (s *Store) Migrate() error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveModel replaces the catalog rows for one model directory with the
// current parse and resolution results.
func (s *Store) SaveModel(id string, model *tmd.SemanticModel, index *refs.Index) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM models WHERE root = ?`, model.Root); err != nil {
		return fmt.Errorf("failed to clear previous index: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO models (id, name, root, indexed_at) VALUES (?, ?, ?, ?)`,
		id, model.Name, model.Root, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}

	sourceOf := make(map[string]migrate.SourceGroup)
	for _, g := range migrate.DetectSources(model) {
		for _, t := range g.Tables {
			sourceOf[strings.ToLower(t)] = g
		}
	}

	for _, t := range model.Tables {
		src := sourceOf[strings.ToLower(t.Name.Name)]
		if _, err := tx.Exec(
			`INSERT INTO model_tables (model_id, name, file, is_hidden, source_kind, source_conn, ref_sites)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, t.Name.Name, t.File, boolInt(t.IsHidden), src.Kind, src.Connection,
			len(index.TableSites(t.Name.Name)),
		); err != nil {
			return fmt.Errorf("failed to insert table %q: %w", t.Name.Name, err)
		}
		for _, c := range t.Columns {
			if _, err := tx.Exec(
				`INSERT INTO model_columns (model_id, table_name, name, data_type, source_column, is_calculated, ref_sites)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, t.Name.Name, c.Name.Name, c.DataType, c.SourceColumn, boolInt(c.IsCalculated),
				len(index.ColumnSites(t.Name.Name, c.Name.Name)),
			); err != nil {
				return fmt.Errorf("failed to insert column %q: %w", c.Name.Name, err)
			}
		}
	}
	for _, ms := range model.AllMeasures() {
		if _, err := tx.Exec(
			`INSERT INTO model_measures (model_id, table_name, name, display_folder, file)
			 VALUES (?, ?, ?, ?, ?)`,
			id, ms.Table, ms.Name.Name, ms.DisplayFolder, ms.File,
		); err != nil {
			return fmt.Errorf("failed to insert measure %q: %w", ms.Name.Name, err)
		}
	}
	for _, rel := range model.Relationships {
		if _, err := tx.Exec(
			`INSERT INTO model_relationships (model_id, rel_id, from_table, from_column, to_table, to_column, is_active)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, rel.ID, rel.From.Table.Name, rel.From.Column.Name,
			rel.To.Table.Name, rel.To.Column.Name, boolInt(rel.IsActive),
		); err != nil {
			return fmt.Errorf("failed to insert relationship %q: %w", rel.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog transaction: %w", err)
	}
	return nil
}

// SearchHit is one catalog search result.
type SearchHit struct {
	Model string
	Kind  string // table | column | measure
	Table string
	Name  string
	File  string
}

// Search finds tables, columns and measures whose names contain the query,
// case-insensitively.
func (s *Store) Search(query string) ([]SearchHit, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.Query(`
		SELECT m.name, 'table', t.name, t.name, t.file
		  FROM model_tables t JOIN models m ON m.id = t.model_id
		 WHERE lower(t.name) LIKE ?
		UNION ALL
		SELECT m.name, 'column', c.table_name, c.name, ''
		  FROM model_columns c JOIN models m ON m.id = c.model_id
		 WHERE lower(c.name) LIKE ?
		UNION ALL
		SELECT m.name, 'measure', ms.table_name, ms.name, ms.file
		  FROM model_measures ms JOIN models m ON m.id = ms.model_id
		 WHERE lower(ms.name) LIKE ?
		ORDER BY 2, 3, 4`,
		pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Model, &h.Kind, &h.Table, &h.Name, &h.File); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Operation is one committed batch recorded in the catalog.
type Operation struct {
	ID          string
	Label       string
	ModelRoot   string
	SnapshotDir string
	Files       []string
	CreatedAt   time.Time
}

// LogOperation records a committed rename or migration.
func (s *Store) LogOperation(op Operation) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.Exec(
		`INSERT INTO operations (id, label, model_root, snapshot_dir, file_count, files, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Label, op.ModelRoot, op.SnapshotDir, len(op.Files),
		strings.Join(op.Files, "\n"), op.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to log operation: %w", err)
	}
	return nil
}

// Operations lists recorded operations, newest first.
func (s *Store) Operations() ([]Operation, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.Query(
		`SELECT id, label, model_root, snapshot_dir, files, created_at
		   FROM operations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		var files string
		if err := rows.Scan(&op.ID, &op.Label, &op.ModelRoot, &op.SnapshotDir, &files, &op.CreatedAt); err != nil {
			return nil, err
		}
		if files != "" {
			op.Files = strings.Split(files, "\n")
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
