package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chinmayajena/sundaygraph/internal/diff"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// Run statuses.
const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// DiffRecord links two versions to their computed change report.
type DiffRecord struct {
	ID           int64     `json:"id"`
	OldVersionID int64     `json:"old_version_id"`
	NewVersionID int64     `json:"new_version_id"`
	Report       []byte    `json:"report"`
	HasBreaking  bool      `json:"has_breaking"`
	CreatedAt    time.Time `json:"created_at"`
}

// CompileRun tracks one compile attempt.
type CompileRun struct {
	ID                  int64      `json:"id"`
	VersionID           int64      `json:"version_id"`
	Target              string     `json:"target"`
	Status              string     `json:"status"`
	ArtifactHash        string     `json:"artifact_hash,omitempty"`
	RollbackUnavailable bool       `json:"rollback_unavailable"`
	Error               string     `json:"error,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// EvalRun tracks one evaluation.
type EvalRun struct {
	ID          int64      `json:"id"`
	VersionID   int64      `json:"version_id"`
	Profile     string     `json:"profile"`
	Passed      *bool      `json:"passed,omitempty"`
	Metrics     []byte     `json:"metrics,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RegressionRun tracks one analyst regression pass.
type RegressionRun struct {
	ID             int64      `json:"id"`
	VersionID      int64      `json:"version_id"`
	ViewFQN        string     `json:"view_fqn"`
	QuestionCount  int        `json:"question_count"`
	PassCount      int        `json:"pass_count"`
	FailCount      int        `json:"fail_count"`
	OverallPass    *bool      `json:"overall_pass,omitempty"`
	Results        []byte     `json:"results,omitempty"`
	TotalLatencyMS int64      `json:"total_latency_ms"`
	JUnitPath      string     `json:"junit_path,omitempty"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// DeployedView records which version currently backs an ontology's live
// view.
type DeployedView struct {
	OntologyID int64     `json:"ontology_id"`
	VersionID  int64     `json:"version_id"`
	ViewFQN    string    `json:"view_fqn"`
	DeployedAt time.Time `json:"deployed_at"`
}

// WriteDiff persists a computed diff between two versions. Re-diffing the
// same pair returns the stored record.
func (s *Store) WriteDiff(oldVersionID, newVersionID int64, report *diff.Report) (*DiffRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := report.Serialize()
	_, err := s.db.Exec(
		`INSERT INTO ontology_diffs (old_version_id, new_version_id, report, has_breaking)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(old_version_id, new_version_id) DO NOTHING`,
		oldVersionID, newVersionID, string(payload), report.Summary.HasBreaking)
	if err != nil {
		return nil, fmt.Errorf("failed to write diff: %w", err)
	}
	return s.getDiff(oldVersionID, newVersionID)
}

// GetDiff fetches the stored diff for a version pair.
func (s *Store) GetDiff(oldVersionID, newVersionID int64) (*DiffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDiff(oldVersionID, newVersionID)
}

func (s *Store) getDiff(oldVersionID, newVersionID int64) (*DiffRecord, error) {
	var d DiffRecord
	var report string
	err := s.db.QueryRow(
		`SELECT id, old_version_id, new_version_id, report, has_breaking, created_at
		 FROM ontology_diffs WHERE old_version_id = ? AND new_version_id = ?`,
		oldVersionID, newVersionID).
		Scan(&d.ID, &d.OldVersionID, &d.NewVersionID, &report, &d.HasBreaking, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "no diff stored for versions %d..%d", oldVersionID, newVersionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read diff: %w", err)
	}
	d.Report = []byte(report)
	return &d, nil
}

// WriteCompileRun inserts a PENDING compile run and returns its id.
func (s *Store) WriteCompileRun(versionID int64, target string, options interface{}) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts, err := json.Marshal(options)
	if err != nil {
		return 0, fmt.Errorf("failed to encode compile options: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO compile_runs (version_id, target, options, status) VALUES (?, ?, ?, ?)`,
		versionID, target, string(opts), StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to write compile run: %w", err)
	}
	return res.LastInsertId()
}

// MarkCompileRunRunning transitions a compile run to RUNNING.
func (s *Store) MarkCompileRunRunning(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE compile_runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`,
		StatusRunning, id)
	return err
}

// CompleteCompileRun records the terminal status of a compile run.
func (s *Store) CompleteCompileRun(id int64, artifactHash string, rollbackUnavailable bool, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusSuccess
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE compile_runs SET status = ?, artifact_hash = ?, rollback_unavailable = ?, error = ?,
		 completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, artifactHash, rollbackUnavailable, errText, id)
	return err
}

// GetCompileRun fetches one compile run.
func (s *Store) GetCompileRun(id int64) (*CompileRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r CompileRun
	var started, completed sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, version_id, target, status, artifact_hash, rollback_unavailable, error, started_at, completed_at
		 FROM compile_runs WHERE id = ?`, id).
		Scan(&r.ID, &r.VersionID, &r.Target, &r.Status, &r.ArtifactHash, &r.RollbackUnavailable,
			&r.Error, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "compile run %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read compile run: %w", err)
	}
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	return &r, nil
}

// WriteEvalRun inserts a PENDING eval run.
func (s *Store) WriteEvalRun(versionID int64, profile string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO eval_runs (version_id, profile, status) VALUES (?, ?, ?)`,
		versionID, profile, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to write eval run: %w", err)
	}
	return res.LastInsertId()
}

// MarkEvalRunRunning transitions an eval run to RUNNING.
func (s *Store) MarkEvalRunRunning(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE eval_runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`,
		StatusRunning, id)
	return err
}

// CompleteEvalRun records the terminal state of an eval run. metrics holds
// the per-gate result structure.
func (s *Store) CompleteEvalRun(id int64, passed bool, metrics interface{}, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to encode eval metrics: %w", err)
	}
	status := StatusSuccess
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}
	_, err = s.db.Exec(
		`UPDATE eval_runs SET status = ?, passed = ?, metrics = ?, error = ?,
		 completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, passed, string(blob), errText, id)
	return err
}

// GetEvalRun fetches one eval run.
func (s *Store) GetEvalRun(id int64) (*EvalRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r EvalRun
	var passed sql.NullBool
	var metrics string
	var started, completed sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, version_id, profile, passed, metrics, status, error, started_at, completed_at
		 FROM eval_runs WHERE id = ?`, id).
		Scan(&r.ID, &r.VersionID, &r.Profile, &passed, &metrics, &r.Status, &r.Error, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "eval run %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read eval run: %w", err)
	}
	if passed.Valid {
		r.Passed = &passed.Bool
	}
	r.Metrics = []byte(metrics)
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	return &r, nil
}

// WriteRegressionRun inserts a PENDING regression run.
func (s *Store) WriteRegressionRun(versionID int64, viewFQN string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO cortex_regression_runs (version_id, view_fqn, status) VALUES (?, ?, ?)`,
		versionID, viewFQN, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to write regression run: %w", err)
	}
	return res.LastInsertId()
}

// MarkRegressionRunRunning transitions a regression run to RUNNING.
func (s *Store) MarkRegressionRunRunning(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE cortex_regression_runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`,
		StatusRunning, id)
	return err
}

// CompleteRegressionRun records the terminal state of a regression run.
// A failing regression is a SUCCESS run with overall_pass false; runErr is
// reserved for execution failures.
func (s *Store) CompleteRegressionRun(id int64, questionCount, passCount, failCount int,
	overallPass bool, results interface{}, totalLatencyMS int64, junitPath string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode regression results: %w", err)
	}
	status := StatusSuccess
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}
	_, err = s.db.Exec(
		`UPDATE cortex_regression_runs SET status = ?, question_count = ?, pass_count = ?, fail_count = ?,
		 overall_pass = ?, results = ?, total_latency_ms = ?, junit_path = ?, error = ?,
		 completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, questionCount, passCount, failCount, overallPass, string(blob),
		totalLatencyMS, junitPath, errText, id)
	return err
}

// GetRegressionRun fetches one regression run.
func (s *Store) GetRegressionRun(id int64) (*RegressionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r RegressionRun
	var overall sql.NullBool
	var results string
	var started, completed sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, version_id, view_fqn, question_count, pass_count, fail_count, overall_pass,
		 results, total_latency_ms, junit_path, status, error, started_at, completed_at
		 FROM cortex_regression_runs WHERE id = ?`, id).
		Scan(&r.ID, &r.VersionID, &r.ViewFQN, &r.QuestionCount, &r.PassCount, &r.FailCount,
			&overall, &results, &r.TotalLatencyMS, &r.JUnitPath, &r.Status, &r.Error, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "regression run %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read regression run: %w", err)
	}
	if overall.Valid {
		r.OverallPass = &overall.Bool
	}
	r.Results = []byte(results)
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	return &r, nil
}

// SetDeployedVersion records the version now backing an ontology's live
// view.
func (s *Store) SetDeployedVersion(ontologyID, versionID int64, viewFQN string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO deployed_views (ontology_id, version_id, view_fqn, deployed_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(ontology_id) DO UPDATE SET
		   version_id = excluded.version_id,
		   view_fqn = excluded.view_fqn,
		   deployed_at = CURRENT_TIMESTAMP`,
		ontologyID, versionID, viewFQN)
	if err != nil {
		return fmt.Errorf("failed to record deployed view: %w", err)
	}
	return nil
}

// GetDeployedVersion returns the deployment record for an ontology.
func (s *Store) GetDeployedVersion(ontologyID int64) (*DeployedView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d DeployedView
	err := s.db.QueryRow(
		`SELECT ontology_id, version_id, view_fqn, deployed_at FROM deployed_views WHERE ontology_id = ?`,
		ontologyID).
		Scan(&d.OntologyID, &d.VersionID, &d.ViewFQN, &d.DeployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oerrors.New(oerrors.CodeNotFound, "ontology %d has no deployed view", ontologyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deployed view: %w", err)
	}
	return &d, nil
}
