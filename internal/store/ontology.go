package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// Workspace is the tenant boundary. Created externally, never destroyed
// here.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Ontology is a named definition within a workspace. Content lives in its
// versions.
type Ontology struct {
	ID          int64     `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Version is an immutable ontology snapshot. Payload holds the canonical
// normalized serialization.
type Version struct {
	ID            int64     `json:"id"`
	OntologyID    int64     `json:"ontology_id"`
	VersionNumber int       `json:"version_number"`
	Payload       []byte    `json:"payload"`
	ContentHash   string    `json:"content_hash"`
	Author        string    `json:"author"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

// IR parses the canonical payload back into an IR.
func (v *Version) IR() (*odl.IR, error) {
	return odl.ParseIR(v.Payload)
}

// CreateWorkspace registers a workspace. Creating an existing workspace is
// a no-op.
func (s *Store) CreateWorkspace(id, name string) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO workspaces (id, name) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, id, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return s.getWorkspace(id)
}

// GetWorkspace fetches a workspace by id.
func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWorkspace(id)
}

func (s *Store) getWorkspace(id string) (*Workspace, error) {
	var ws Workspace
	err := s.db.QueryRow(
		`SELECT id, name, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "workspace %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}
	return &ws, nil
}

// CreateOntology registers a named ontology under a workspace.
func (s *Store) CreateOntology(workspaceID, name string) (*Ontology, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getWorkspace(workspaceID); err != nil {
		return nil, err
	}

	res, err := s.db.Exec(
		`INSERT INTO ontologies (workspace_id, name) VALUES (?, ?)`, workspaceID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create ontology: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	logging.Store("created ontology %q in workspace %s", name, workspaceID)
	return s.getOntologyByID(id)
}

// GetOntology fetches an ontology by (workspace, name).
func (s *Store) GetOntology(workspaceID, name string) (*Ontology, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var o Ontology
	err := s.db.QueryRow(
		`SELECT id, workspace_id, name, is_active, created_at FROM ontologies
		 WHERE workspace_id = ? AND name = ?`, workspaceID, name).
		Scan(&o.ID, &o.WorkspaceID, &o.Name, &o.IsActive, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "ontology %q not found in workspace %s", name, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ontology: %w", err)
	}
	return &o, nil
}

func (s *Store) getOntologyByID(id int64) (*Ontology, error) {
	var o Ontology
	err := s.db.QueryRow(
		`SELECT id, workspace_id, name, is_active, created_at FROM ontologies WHERE id = ?`, id).
		Scan(&o.ID, &o.WorkspaceID, &o.Name, &o.IsActive, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "ontology %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ontology: %w", err)
	}
	return &o, nil
}

// ListOntologies returns a workspace's ontologies, active first, newest
// first within each group.
func (s *Store) ListOntologies(workspaceID string) ([]*Ontology, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, workspace_id, name, is_active, created_at FROM ontologies
		 WHERE workspace_id = ? ORDER BY is_active DESC, created_at DESC, id DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ontologies: %w", err)
	}
	defer rows.Close()

	var out []*Ontology
	for rows.Next() {
		var o Ontology
		if err := rows.Scan(&o.ID, &o.WorkspaceID, &o.Name, &o.IsActive, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// DeactivateOntology soft-deletes an ontology. Versions remain readable.
func (s *Store) DeactivateOntology(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE ontologies SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate ontology: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oerrors.New(oerrors.CodeNotFound, "ontology %d not found", id)
	}
	return nil
}

// CreateVersion validates, normalizes, and persists a new ODL payload as
// the next version of the ontology. Version numbering is linearized inside
// a transaction; a payload whose content hash already exists for this
// ontology is rejected with DUPLICATE_CONTENT unless duplicates are
// allowed.
func (s *Store) CreateVersion(ontologyID int64, payload []byte, author, notes string) (*Version, error) {
	// Validation happens before any lock or transaction; invalid input
	// never creates persisted rows.
	ir, err := odl.Process(payload)
	if err != nil {
		return nil, err
	}
	canonical := ir.Serialize()
	hash := ir.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getOntologyByID(ontologyID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if !s.allowDuplicates {
		var existing int
		err := tx.QueryRow(
			`SELECT version_number FROM ontology_versions
			 WHERE ontology_id = ? AND content_hash = ?`, ontologyID, hash).Scan(&existing)
		if err == nil {
			return nil, oerrors.New(oerrors.CodeDuplicateContent,
				"content hash %s already stored as version %d", hash, existing).
				WithDetails(map[string]interface{}{"version_number": existing, "content_hash": hash})
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check duplicates: %w", err)
		}
	}

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM ontology_versions WHERE ontology_id = ?`,
		ontologyID).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to allocate version number: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO ontology_versions (ontology_id, version_number, payload, content_hash, author, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ontologyID, next, string(canonical), hash, author, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}

	logging.Store("created version %d of ontology %d (hash %.12s)", next, ontologyID, hash)
	return s.getVersionByID(id)
}

// GetVersion fetches one version by (ontology, version_number).
func (s *Store) GetVersion(ontologyID int64, versionNumber int) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v Version
	var payload string
	err := s.db.QueryRow(
		`SELECT id, ontology_id, version_number, payload, content_hash, author, notes, created_at
		 FROM ontology_versions WHERE ontology_id = ? AND version_number = ?`,
		ontologyID, versionNumber).
		Scan(&v.ID, &v.OntologyID, &v.VersionNumber, &payload, &v.ContentHash, &v.Author, &v.Notes, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "version %d of ontology %d not found", versionNumber, ontologyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	v.Payload = []byte(payload)
	return &v, nil
}

func (s *Store) getVersionByID(id int64) (*Version, error) {
	var v Version
	var payload string
	err := s.db.QueryRow(
		`SELECT id, ontology_id, version_number, payload, content_hash, author, notes, created_at
		 FROM ontology_versions WHERE id = ?`, id).
		Scan(&v.ID, &v.OntologyID, &v.VersionNumber, &payload, &v.ContentHash, &v.Author, &v.Notes, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "version row %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	v.Payload = []byte(payload)
	return &v, nil
}

// ListVersions returns all versions of an ontology, newest first.
func (s *Store) ListVersions(ontologyID int64) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, ontology_id, version_number, payload, content_hash, author, notes, created_at
		 FROM ontology_versions WHERE ontology_id = ? ORDER BY version_number DESC`, ontologyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		var v Version
		var payload string
		if err := rows.Scan(&v.ID, &v.OntologyID, &v.VersionNumber, &payload, &v.ContentHash,
			&v.Author, &v.Notes, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Payload = []byte(payload)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// GetLatest returns the highest-numbered version of an ontology.
func (s *Store) GetLatest(ontologyID int64) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v Version
	var payload string
	err := s.db.QueryRow(
		`SELECT id, ontology_id, version_number, payload, content_hash, author, notes, created_at
		 FROM ontology_versions WHERE ontology_id = ?
		 ORDER BY version_number DESC LIMIT 1`, ontologyID).
		Scan(&v.ID, &v.OntologyID, &v.VersionNumber, &payload, &v.ContentHash, &v.Author, &v.Notes, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "ontology %d has no versions", ontologyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest version: %w", err)
	}
	v.Payload = []byte(payload)
	return &v, nil
}
