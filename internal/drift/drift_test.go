package drift

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

func customersIR(t *testing.T) *odl.IR {
	t.Helper()
	f := false
	doc := &odl.Document{
		Version: "1.0",
		Name:    "retail",
		Objects: []odl.ObjectDef{
			{
				Name:        "Customer",
				Identifiers: []string{"customer_id"},
				Properties: []odl.PropertyDef{
					{Name: "customer_id", Type: "string", Nullable: &f},
					{Name: "email", Type: "string"},
					{Name: "region", Type: "string"},
					{Name: "lifetime_value", Type: "decimal"},
				},
			},
		},
		TargetMapping: &odl.TargetMappingDef{
			Database:      "RETAIL_DB",
			Schema:        "PUBLIC",
			TableMappings: map[string]string{"Customer": "customers"},
		},
	}
	require.NoError(t, odl.Validate(doc))
	return odl.Normalize(doc)
}

func cleanMock() *warehouse.Mock {
	m := warehouse.NewMock()
	m.AddTable("RETAIL_DB", "PUBLIC", warehouse.Table{
		Name: "customers",
		Columns: []warehouse.Column{
			{Name: "CUSTOMER_ID", Type: "VARCHAR"},
			{Name: "EMAIL", Type: "VARCHAR"},
			{Name: "REGION", Type: "VARCHAR"},
			{Name: "LIFETIME_VALUE", Type: "NUMBER"},
		},
	})
	return m
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestMappingDriftCleanCatalog(t *testing.T) {
	d := New(cleanMock())
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMappingDriftColumnDropped(t *testing.T) {
	m := cleanMock()
	m.DropColumn("RETAIL_DB", "PUBLIC", "customers", "email")

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventColumnDropped, events[0].Type)
	assert.Equal(t, "Customer", events[0].Subject)
	assert.Equal(t, "email", events[0].Details["column"])
	assert.NotEmpty(t, events[0].DetailsHash)
}

func TestMappingDriftColumnAdded(t *testing.T) {
	m := cleanMock()
	m.AddColumn("RETAIL_DB", "PUBLIC", "customers", warehouse.Column{Name: "SEGMENT", Type: "VARCHAR"})

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventColumnAdded, events[0].Type)
	assert.Equal(t, "segment", events[0].Details["column"])
}

func TestMappingDriftRenameInference(t *testing.T) {
	m := cleanMock()
	// email -> emails: distance 1, same type, folded into one rename.
	m.RenameColumn("RETAIL_DB", "PUBLIC", "customers", "EMAIL", "EMAILS")

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventColumnRenamed, events[0].Type)
	assert.Equal(t, "email", events[0].Details["from"])
	assert.Equal(t, "emails", events[0].Details["to"])
}

func TestMappingDriftRenameRefusedOnDistance(t *testing.T) {
	m := cleanMock()
	m.RenameColumn("RETAIL_DB", "PUBLIC", "customers", "EMAIL", "CONTACT_EMAIL")

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	types := eventTypes(events)
	assert.NotContains(t, types, EventColumnRenamed)
	assert.Contains(t, types, EventColumnDropped)
	assert.Contains(t, types, EventColumnAdded)
}

func TestMappingDriftRenameRefusedOnTypeMismatch(t *testing.T) {
	m := cleanMock()
	m.DropColumn("RETAIL_DB", "PUBLIC", "customers", "email")
	m.AddColumn("RETAIL_DB", "PUBLIC", "customers", warehouse.Column{Name: "EMAILS", Type: "NUMBER"})

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)
	assert.NotContains(t, eventTypes(events), EventColumnRenamed)
}

func TestMappingDriftTypeChanged(t *testing.T) {
	m := cleanMock()
	m.ChangeColumnType("RETAIL_DB", "PUBLIC", "customers", "LIFETIME_VALUE", "VARCHAR")

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventColumnTypeChanged, events[0].Type)
	assert.Equal(t, "number", events[0].Details["expected"])
	assert.Equal(t, "string", events[0].Details["actual"])
}

func TestMappingDriftCoarseTypesEquivalent(t *testing.T) {
	m := cleanMock()
	// VARCHAR vs string and NUMBER vs decimal are the same coarse family.
	m.ChangeColumnType("RETAIL_DB", "PUBLIC", "customers", "LIFETIME_VALUE", "DECIMAL")

	d := New(m)
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMappingDriftTableMissing(t *testing.T) {
	d := New(warehouse.NewMock())
	events, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventTableMissing, events[0].Type)
	assert.Equal(t, "customers", events[0].Details["table"])
}

func TestMappingDriftDeterministicHashes(t *testing.T) {
	m := cleanMock()
	m.DropColumn("RETAIL_DB", "PUBLIC", "customers", "email")

	d := New(m)
	a, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)
	b, err := d.DetectMappingDrift(context.Background(), "retail", customersIR(t))
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].DetailsHash, b[0].DetailsHash)
}

func TestViewDriftNoDivergence(t *testing.T) {
	m := warehouse.NewMock()
	m.SetSemanticView("RETAIL_DB.PUBLIC.retail_view", "# header from compiler\nname: retail\ntables: []\n")

	d := New(m)
	events, err := d.DetectViewDrift(context.Background(), "retail", "RETAIL_DB.PUBLIC.retail_view",
		[]byte("# a different header\nname: retail\ntables: []\n"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestViewDriftDiverged(t *testing.T) {
	m := warehouse.NewMock()
	m.SetSemanticView("RETAIL_DB.PUBLIC.retail_view", "name: retail\ntables:\n  - orders\n  - refunds\n")

	d := New(m)
	events, err := d.DetectViewDrift(context.Background(), "retail", "RETAIL_DB.PUBLIC.retail_view",
		[]byte("name: retail\ntables:\n  - orders\n"))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventYAMLDiverged, events[0].Type)
	assert.Contains(t, events[0].Details["diff"], "+  - refunds")
}

func TestViewDriftManualEditSuspected(t *testing.T) {
	live := "name: someone_elses_model\ntables:\n  - a\n  - b\n  - c\n  - d\n  - e\n  - f\n"
	m := warehouse.NewMock()
	m.SetSemanticView("RETAIL_DB.PUBLIC.retail_view", live)

	d := New(m)
	events, err := d.DetectViewDrift(context.Background(), "retail", "RETAIL_DB.PUBLIC.retail_view",
		[]byte("name: retail\ntables: []\n"))
	require.NoError(t, err)

	types := eventTypes(events)
	assert.Contains(t, types, EventYAMLDiverged)
	assert.Contains(t, types, EventManualEdit)
}

func TestViewDriftMissingView(t *testing.T) {
	d := New(warehouse.NewMock())
	events, err := d.DetectViewDrift(context.Background(), "retail", "RETAIL_DB.PUBLIC.retail_view",
		[]byte("name: retail\n"))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventYAMLDiverged, events[0].Type)
	assert.Equal(t, "live view not found", events[0].Details["reason"])
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"email", "email", 0},
		{"email", "emails", 1},
		{"email", "e_mail", 1},
		{"email", "contact_email", 8},
		{"", "abc", 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, levenshtein(c.a, c.b), "%q vs %q", c.a, c.b)
	}
}
