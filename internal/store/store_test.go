package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmayajena/sundaygraph/internal/diff"
	"github.com/chinmayajena/sundaygraph/internal/drift"
	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

func testStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sundaygraph.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOntology(t *testing.T, s *Store) *Ontology {
	t.Helper()
	_, err := s.CreateWorkspace("ws-1", "retail analytics")
	require.NoError(t, err)
	o, err := s.CreateOntology("ws-1", "retail")
	require.NoError(t, err)
	return o
}

// ordersPayload builds a valid single-object document. The description
// varies so distinct revisions hash differently.
func ordersPayload(description string) []byte {
	doc := map[string]interface{}{
		"version": "1.0",
		"name":    "retail",
		"objects": []map[string]interface{}{
			{
				"name":        "Order",
				"description": description,
				"identifiers": []string{"order_id"},
				"properties": []map[string]interface{}{
					{"name": "order_id", "type": "string"},
					{"name": "total_amount", "type": "decimal"},
				},
			},
		},
		"targetMapping": map[string]interface{}{
			"database": "RETAIL_DB",
			"schema":   "PUBLIC",
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func TestCreateWorkspaceIdempotent(t *testing.T) {
	s := testStore(t, Options{})

	ws, err := s.CreateWorkspace("ws-1", "first")
	require.NoError(t, err)
	again, err := s.CreateWorkspace("ws-1", "second")
	require.NoError(t, err)

	// Re-creating keeps the original name.
	assert.Equal(t, ws.Name, again.Name)
}

func TestGetWorkspaceNotFound(t *testing.T) {
	s := testStore(t, Options{})
	_, err := s.GetWorkspace("missing")
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotFound))
}

func TestCreateVersionNumbering(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	for i := 1; i <= 3; i++ {
		v, err := s.CreateVersion(o.ID, ordersPayload(fmt.Sprintf("rev %d", i)), "alice", "")
		require.NoError(t, err)
		assert.Equal(t, i, v.VersionNumber)
		assert.NotEmpty(t, v.ContentHash)
	}

	latest, err := s.GetLatest(o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)

	all, err := s.ListVersions(o.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 3, all[0].VersionNumber)
	assert.Equal(t, 1, all[2].VersionNumber)
}

func TestCreateVersionStoresCanonicalPayload(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	v, err := s.CreateVersion(o.ID, ordersPayload("canonical"), "alice", "initial")
	require.NoError(t, err)

	ir, err := v.IR()
	require.NoError(t, err)
	assert.Equal(t, v.Payload, ir.Serialize())
	assert.Equal(t, v.ContentHash, ir.Hash())

	// Round-tripping through the store preserves the IR structurally.
	direct, err := odl.Process(ordersPayload("canonical"))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(direct, ir))
	assert.Equal(t, "alice", v.Author)
	assert.Equal(t, "initial", v.Notes)
}

func TestCreateVersionRejectsDuplicateContent(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	_, err := s.CreateVersion(o.ID, ordersPayload("same"), "alice", "")
	require.NoError(t, err)

	_, err = s.CreateVersion(o.ID, ordersPayload("same"), "bob", "")
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeDuplicateContent))

	var oe *oerrors.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 1, oe.Details["version_number"])
}

func TestCreateVersionAllowDuplicates(t *testing.T) {
	s := testStore(t, Options{AllowDuplicateContent: true})
	o := testOntology(t, s)

	_, err := s.CreateVersion(o.ID, ordersPayload("same"), "alice", "")
	require.NoError(t, err)
	v2, err := s.CreateVersion(o.ID, ordersPayload("same"), "bob", "")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
}

func TestCreateVersionRejectsInvalidPayload(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	_, err := s.CreateVersion(o.ID, []byte(`{"version":"1.0","objects":[]}`), "", "")
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidStructure))

	// Invalid input leaves no versions behind.
	_, err = s.GetLatest(o.ID)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotFound))
}

func TestDeactivateOntology(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	require.NoError(t, s.DeactivateOntology(o.ID))
	got, err := s.GetOntology("ws-1", "retail")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	err = s.DeactivateOntology(9999)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotFound))
}

func TestWriteDiff(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	v1, err := s.CreateVersion(o.ID, ordersPayload("old"), "", "")
	require.NoError(t, err)
	v2, err := s.CreateVersion(o.ID, ordersPayload("new"), "", "")
	require.NoError(t, err)

	oldIR, err := v1.IR()
	require.NoError(t, err)
	newIR, err := v2.IR()
	require.NoError(t, err)
	report := diff.Compare(oldIR, newIR)

	rec, err := s.WriteDiff(v1.ID, v2.ID, report)
	require.NoError(t, err)
	assert.Equal(t, report.Summary.HasBreaking, rec.HasBreaking)
	assert.Equal(t, report.Serialize(), rec.Report)

	// Re-diffing the same pair returns the stored record.
	again, err := s.WriteDiff(v1.ID, v2.ID, report)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	got, err := s.GetDiff(v1.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = s.GetDiff(v2.ID, v1.ID)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotFound))
}

func TestCompileRunLifecycle(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)
	v, err := s.CreateVersion(o.ID, ordersPayload("v1"), "", "")
	require.NoError(t, err)

	id, err := s.WriteCompileRun(v.ID, "RETAIL_DB.PUBLIC", map[string]string{"view": "retail_view"})
	require.NoError(t, err)

	run, err := s.GetCompileRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)
	assert.Nil(t, run.StartedAt)

	require.NoError(t, s.MarkCompileRunRunning(id))
	run, err = s.GetCompileRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.NotNil(t, run.StartedAt)

	require.NoError(t, s.CompleteCompileRun(id, "abc123", true, nil))
	run, err = s.GetCompileRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, "abc123", run.ArtifactHash)
	assert.True(t, run.RollbackUnavailable)
	assert.NotNil(t, run.CompletedAt)
}

func TestCompileRunFailure(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)
	v, err := s.CreateVersion(o.ID, ordersPayload("v1"), "", "")
	require.NoError(t, err)

	id, err := s.WriteCompileRun(v.ID, "RETAIL_DB.PUBLIC", nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteCompileRun(id, "", false,
		oerrors.New(oerrors.CodeCompileFailed, "object Order has no database")))

	run, err := s.GetCompileRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "COMPILE_FAILED")
}

func TestEvalRunLifecycle(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)
	v, err := s.CreateVersion(o.ID, ordersPayload("v1"), "", "")
	require.NoError(t, err)

	id, err := s.WriteEvalRun(v.ID, "standard")
	require.NoError(t, err)
	require.NoError(t, s.MarkEvalRunRunning(id))
	require.NoError(t, s.CompleteEvalRun(id, true, map[string]int{"warnings": 1}, nil))

	run, err := s.GetEvalRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, run.Status)
	require.NotNil(t, run.Passed)
	assert.True(t, *run.Passed)
	assert.JSONEq(t, `{"warnings":1}`, string(run.Metrics))
}

func TestRegressionRunLifecycle(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)
	v, err := s.CreateVersion(o.ID, ordersPayload("v1"), "", "")
	require.NoError(t, err)

	id, err := s.WriteRegressionRun(v.ID, "RETAIL_DB.PUBLIC.retail_view")
	require.NoError(t, err)
	require.NoError(t, s.MarkRegressionRunRunning(id))
	require.NoError(t, s.CompleteRegressionRun(id, 5, 4, 1, false,
		[]string{"q1"}, 2300, "/tmp/junit.xml", nil))

	run, err := s.GetRegressionRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, 5, run.QuestionCount)
	assert.Equal(t, 1, run.FailCount)
	require.NotNil(t, run.OverallPass)
	assert.False(t, *run.OverallPass)
	assert.Equal(t, int64(2300), run.TotalLatencyMS)
	assert.Equal(t, "/tmp/junit.xml", run.JUnitPath)
}

func TestDriftEventDedup(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	events := []drift.Event{
		{
			Ontology: "retail", Type: drift.EventColumnDropped, Subject: "ORDERS",
			Details: map[string]interface{}{"column": "total_amount"}, DetailsHash: "hash-a",
		},
		{
			Ontology: "retail", Type: drift.EventColumnAdded, Subject: "ORDERS",
			Details: map[string]interface{}{"column": "discount"}, DetailsHash: "hash-b",
		},
	}

	n, err := s.InsertDriftEvents(o.ID, events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A re-scan of unchanged drift inserts nothing.
	n, err = s.InsertDriftEvents(o.ID, events)
	require.NoError(t, err)
	assert.Zero(t, n)

	open, err := s.ListOpenDriftEvents(o.ID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, drift.EventColumnDropped, open[0].EventType)
	assert.Equal(t, DriftOpen, open[0].Status)

	// Resolving an event reopens the dedup slot.
	require.NoError(t, s.UpdateDriftEventStatus(open[0].ID, DriftResolved))
	n, err = s.InsertDriftEvents(o.ID, events[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDriftEventStatusTransitions(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)

	_, err := s.InsertDriftEvents(o.ID, []drift.Event{
		{Ontology: "retail", Type: drift.EventTableMissing, Subject: "ORDERS", DetailsHash: "h"},
	})
	require.NoError(t, err)
	open, err := s.ListOpenDriftEvents(o.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	err = s.UpdateDriftEventStatus(open[0].ID, "REOPENED")
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidStructure))

	require.NoError(t, s.UpdateDriftEventStatus(open[0].ID, DriftIgnored))

	// Terminal events cannot transition again.
	err = s.UpdateDriftEventStatus(open[0].ID, DriftResolved)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotFound))

	remaining, err := s.ListOpenDriftEvents(o.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeployedVersionUpsert(t *testing.T) {
	s := testStore(t, Options{})
	o := testOntology(t, s)
	v1, err := s.CreateVersion(o.ID, ordersPayload("v1"), "", "")
	require.NoError(t, err)
	v2, err := s.CreateVersion(o.ID, ordersPayload("v2"), "", "")
	require.NoError(t, err)

	_, err = s.GetDeployedVersion(o.ID)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotFound))

	require.NoError(t, s.SetDeployedVersion(o.ID, v1.ID, "RETAIL_DB.PUBLIC.retail_view"))
	require.NoError(t, s.SetDeployedVersion(o.ID, v2.ID, "RETAIL_DB.PUBLIC.retail_view"))

	d, err := s.GetDeployedVersion(o.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, d.VersionID)
	assert.Equal(t, "RETAIL_DB.PUBLIC.retail_view", d.ViewFQN)
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sundaygraph.db")

	s, err := New(path, Options{})
	require.NoError(t, err)
	o := testOntology(t, s)
	_, err = s.CreateVersion(o.ID, ordersPayload("v1"), "", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopen runs initialize and migrations over the existing schema.
	s2, err := New(path, Options{})
	require.NoError(t, err)
	defer s2.Close()

	latest, err := s2.GetLatest(o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.VersionNumber)

	ir, err := latest.IR()
	require.NoError(t, err)
	assert.Equal(t, "Order", ir.Objects[0].Name)
}
