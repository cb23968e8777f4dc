// Package store persists the ontology lifecycle in SQLite: workspaces,
// ontologies, immutable versions, diff records, run histories, and drift
// events. The store is the sole mutator of persisted state; every other
// component takes a handle and uses its transactional operations.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/chinmayajena/sundaygraph/internal/logging"
)

// Store wraps the SQLite database. A mutex serializes writers; SQLite
// handles durability.
type Store struct {
	db              *sql.DB
	mu              sync.RWMutex
	dbPath          string
	allowDuplicates bool
}

// Options configures store behavior.
type Options struct {
	// AllowDuplicateContent disables DUPLICATE_CONTENT rejection on
	// create-version. Off by default to keep versions meaningful.
	AllowDuplicateContent bool
}

// New opens (or creates) the store at the given path.
func New(path string, opts Options) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path, allowDuplicates: opts.AllowDuplicateContent}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("store opened at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS ontologies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(workspace_id, name),
		FOREIGN KEY(workspace_id) REFERENCES workspaces(id)
	);
	CREATE INDEX IF NOT EXISTS idx_ontologies_workspace ON ontologies(workspace_id);

	CREATE TABLE IF NOT EXISTS ontology_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ontology_id INTEGER NOT NULL,
		version_number INTEGER NOT NULL,
		payload TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		author TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(ontology_id, version_number),
		FOREIGN KEY(ontology_id) REFERENCES ontologies(id)
	);
	CREATE INDEX IF NOT EXISTS idx_versions_ontology ON ontology_versions(ontology_id);
	CREATE INDEX IF NOT EXISTS idx_versions_hash ON ontology_versions(ontology_id, content_hash);

	CREATE TABLE IF NOT EXISTS ontology_diffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		old_version_id INTEGER NOT NULL,
		new_version_id INTEGER NOT NULL,
		report TEXT NOT NULL,
		has_breaking INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(old_version_id, new_version_id)
	);

	CREATE TABLE IF NOT EXISTS compile_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id INTEGER NOT NULL,
		target TEXT NOT NULL,
		options TEXT DEFAULT '{}',
		status TEXT NOT NULL,
		artifact_hash TEXT DEFAULT '',
		rollback_unavailable INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_compile_runs_version ON compile_runs(version_id);

	CREATE TABLE IF NOT EXISTS eval_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id INTEGER NOT NULL,
		profile TEXT NOT NULL,
		passed INTEGER,
		metrics TEXT DEFAULT '{}',
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_eval_runs_version ON eval_runs(version_id);

	CREATE TABLE IF NOT EXISTS drift_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ontology_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		subject TEXT DEFAULT '',
		details TEXT DEFAULT '{}',
		details_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'OPEN',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_drift_open ON drift_events(ontology_id, event_type, details_hash, status);

	CREATE TABLE IF NOT EXISTS cortex_regression_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id INTEGER NOT NULL,
		view_fqn TEXT NOT NULL,
		question_count INTEGER DEFAULT 0,
		pass_count INTEGER DEFAULT 0,
		fail_count INTEGER DEFAULT 0,
		overall_pass INTEGER,
		results TEXT DEFAULT '[]',
		total_latency_ms INTEGER DEFAULT 0,
		junit_path TEXT DEFAULT '',
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_regression_runs_version ON cortex_regression_runs(version_id);

	CREATE TABLE IF NOT EXISTS deployed_views (
		ontology_id INTEGER PRIMARY KEY,
		version_id INTEGER NOT NULL,
		view_fqn TEXT NOT NULL,
		deployed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return s.applyMigrations()
}

// Migration adds a column that older databases are missing.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema additions since the initial release.
var pendingMigrations = []Migration{
	// Rollback flag on compile runs (added with the deployer rework)
	{"compile_runs", "rollback_unavailable", "INTEGER DEFAULT 0"},
	// JUnit report pointer on regression runs
	{"cortex_regression_runs", "junit_path", "TEXT DEFAULT ''"},
}

// applyMigrations adds any missing columns to existing tables.
func (s *Store) applyMigrations() error {
	for _, m := range pendingMigrations {
		has, err := s.hasColumn(m.Table, m.Column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logging.Store("migrated %s: added column %s", m.Table, m.Column)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
