package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chinmayajena/sundaygraph/internal/drift"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// Drift event statuses.
const (
	DriftOpen     = "OPEN"
	DriftResolved = "RESOLVED"
	DriftIgnored  = "IGNORED"
)

// DriftRecord is a persisted drift event.
type DriftRecord struct {
	ID          int64     `json:"id"`
	OntologyID  int64     `json:"ontology_id"`
	EventType   string    `json:"event_type"`
	Subject     string    `json:"subject"`
	Details     []byte    `json:"details"`
	DetailsHash string    `json:"details_hash"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InsertDriftEvents records detected events, skipping any that duplicate an
// OPEN event with the same type and details hash. Returns the number of
// events actually inserted. Resolved or ignored events do not suppress a
// recurrence.
func (s *Store) InsertDriftEvents(ontologyID int64, events []drift.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, e := range events {
		var existing int64
		err := tx.QueryRow(
			`SELECT id FROM drift_events
			 WHERE ontology_id = ? AND event_type = ? AND details_hash = ? AND status = ?`,
			ontologyID, e.Type, e.DetailsHash, DriftOpen).Scan(&existing)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to check drift event: %w", err)
		}

		details, err := json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to encode drift details: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO drift_events (ontology_id, event_type, subject, details, details_hash, status)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ontologyID, e.Type, e.Subject, string(details), e.DetailsHash, DriftOpen)
		if err != nil {
			return 0, fmt.Errorf("failed to insert drift event: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit drift events: %w", err)
	}
	return inserted, nil
}

// ListOpenDriftEvents returns all OPEN events for an ontology, oldest
// first.
func (s *Store) ListOpenDriftEvents(ontologyID int64) ([]*DriftRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, ontology_id, event_type, subject, details, details_hash, status, created_at, updated_at
		 FROM drift_events WHERE ontology_id = ? AND status = ? ORDER BY id ASC`,
		ontologyID, DriftOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift events: %w", err)
	}
	defer rows.Close()

	var out []*DriftRecord
	for rows.Next() {
		var r DriftRecord
		var details string
		if err := rows.Scan(&r.ID, &r.OntologyID, &r.EventType, &r.Subject, &details,
			&r.DetailsHash, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan drift event: %w", err)
		}
		r.Details = []byte(details)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateDriftEventStatus moves an OPEN event to RESOLVED or IGNORED.
// Terminal events cannot be reopened or relabeled.
func (s *Store) UpdateDriftEventStatus(id int64, status string) error {
	if status != DriftResolved && status != DriftIgnored {
		return oerrors.New(oerrors.CodeInvalidStructure, "invalid drift status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE drift_events SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		status, id, DriftOpen)
	if err != nil {
		return fmt.Errorf("failed to update drift event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return oerrors.New(oerrors.CodeNotFound, "no open drift event %d", id)
	}
	return nil
}
