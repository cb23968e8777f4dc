package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmayajena/sundaygraph/internal/compile"
	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

func testBundle(t *testing.T) *compile.Bundle {
	t.Helper()
	f := false
	doc := &odl.Document{
		Version: "1.0",
		Name:    "retail",
		Objects: []odl.ObjectDef{
			{
				Name:        "Order",
				Identifiers: []string{"order_id"},
				Properties: []odl.PropertyDef{
					{Name: "order_id", Type: "string", Nullable: &f},
					{Name: "total_amount", Type: "decimal"},
				},
			},
		},
		TargetMapping: &odl.TargetMappingDef{
			Database:      "RETAIL_DB",
			Schema:        "PUBLIC",
			TableMappings: map[string]string{"Order": "orders"},
		},
	}
	require.NoError(t, odl.Validate(doc))
	b, err := compile.Compile(odl.Normalize(doc), compile.Options{
		Ontology:      "retail",
		VersionNumber: 2,
		ContentHash:   "feedface",
		ViewName:      "retail_view",
	})
	require.NoError(t, err)
	return b
}

func TestRunDeploysAndCapturesRollback(t *testing.T) {
	mock := warehouse.NewMock()
	mock.SetSemanticView("RETAIL_DB.PUBLIC.RETAIL_VIEW", "name: retail-old\n")

	d := New(mock, time.Second, time.Second)
	b := testBundle(t)
	res, err := d.Run(context.Background(), b)
	require.NoError(t, err)

	assert.True(t, res.Verified)
	assert.True(t, res.Deployed)
	assert.True(t, res.RollbackCaptured)
	assert.False(t, res.RollbackUnavailable)
	assert.Equal(t, 1, res.VerifyAttempts)

	require.True(t, b.HasRollback())
	assert.Equal(t, "name: retail-old\n", string(b.Files[compile.FileRollbackYAML]))
	assert.Contains(t, string(b.Files[compile.FileRollbackSQL]), "Restore the captured pre-deploy definition")

	// Live view now carries the new YAML.
	live, found, err := mock.ExportExisting(context.Background(), "RETAIL_DB.PUBLIC.retail_view")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, string(b.YAML()), live)
}

func TestRunFlagsMissingRollback(t *testing.T) {
	mock := warehouse.NewMock()
	d := New(mock, time.Second, time.Second)

	b := testBundle(t)
	res, err := d.Run(context.Background(), b)
	require.NoError(t, err)

	assert.True(t, res.Deployed)
	assert.True(t, res.RollbackUnavailable)
	assert.False(t, b.HasRollback())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "ROLLBACK_UNAVAILABLE")
	assert.Contains(t, string(b.Files[compile.FileRollbackSQL]), "drop-only")
}

func TestVerifyRetriesTransportErrors(t *testing.T) {
	mock := warehouse.NewMock()
	mock.TransientVerifyFailures = 2

	d := New(mock, time.Second, time.Second)
	res, err := d.Run(context.Background(), testBundle(t))
	require.NoError(t, err)

	assert.Equal(t, 3, res.VerifyAttempts)
	assert.Equal(t, 3, mock.VerifyCalls)
	assert.True(t, res.Deployed)
}

func TestVerifyGivesUpAfterMaxAttempts(t *testing.T) {
	mock := warehouse.NewMock()
	mock.TransientVerifyFailures = 10

	d := New(mock, time.Second, time.Second)
	res, err := d.Run(context.Background(), testBundle(t))
	require.Error(t, err)

	assert.Equal(t, maxVerifyAttempts, res.VerifyAttempts)
	assert.Equal(t, maxVerifyAttempts, mock.VerifyCalls)
	assert.True(t, oerrors.IsRetryable(err))
	assert.Zero(t, mock.DeployCalls)
}

func TestVerifyRejectionIsNotRetried(t *testing.T) {
	mock := warehouse.NewMock()
	mock.VerifyErrors = []string{"unknown column region"}

	d := New(mock, time.Second, time.Second)
	res, err := d.Run(context.Background(), testBundle(t))
	require.Error(t, err)

	assert.True(t, oerrors.IsCode(err, oerrors.CodeVerifyFailed))
	assert.False(t, oerrors.IsRetryable(err))
	assert.Equal(t, 1, mock.VerifyCalls)
	assert.False(t, res.Deployed)
	assert.Zero(t, mock.DeployCalls)
}

func TestDeployFailureIsNotRetried(t *testing.T) {
	mock := warehouse.NewMock()
	mock.DeployErrors = []string{"insufficient privileges"}

	d := New(mock, time.Second, time.Second)
	res, err := d.Run(context.Background(), testBundle(t))
	require.Error(t, err)

	assert.True(t, oerrors.IsCode(err, oerrors.CodeDeployFailed))
	assert.True(t, res.Verified)
	assert.False(t, res.Deployed)
	assert.Equal(t, 1, mock.DeployCalls)
}

func TestRunHonorsCanceledContext(t *testing.T) {
	mock := warehouse.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(mock, time.Second, time.Second)
	_, err := d.Run(ctx, testBundle(t))
	require.Error(t, err)
	assert.Zero(t, mock.DeployCalls)
}
