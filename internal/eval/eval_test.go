package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// deployableDoc is fully mapped so every gate, warehouse included, passes.
func deployableDoc() *odl.Document {
	f := false
	return &odl.Document{
		Version: "1.0",
		Name:    "retail",
		Objects: []odl.ObjectDef{
			{
				Name:        "Order",
				Identifiers: []string{"order_id"},
				Properties: []odl.PropertyDef{
					{Name: "order_id", Type: "string", Nullable: &f},
					{Name: "customer_id", Type: "string"},
					{Name: "total_amount", Type: "decimal"},
				},
			},
			{
				Name:        "Customer",
				Identifiers: []string{"customer_id"},
				Properties: []odl.PropertyDef{
					{Name: "customer_id", Type: "string", Nullable: &f},
					{Name: "region", Type: "string"},
				},
			},
		},
		Relationships: []odl.RelationshipDef{
			{
				Name:        "placed_by",
				From:        "Order",
				To:          "Customer",
				JoinKeys:    [][]string{{"customer_id", "customer_id"}},
				Cardinality: "many_to_one",
			},
		},
		Metrics: []odl.MetricDef{
			{Name: "TotalRevenue", Expression: "SUM(total_amount)", Grain: []string{"Order"}, Type: "sum"},
		},
		Dimensions: []odl.DimensionDef{
			{Name: "CustomerRegion", SourceProperty: "Customer.region", Type: "string"},
		},
		TargetMapping: &odl.TargetMappingDef{
			Database:  "ANALYTICS",
			Schema:    "RETAIL",
			Warehouse: "COMPUTE_WH",
			TableMappings: map[string]string{
				"Order":    "orders",
				"Customer": "customers",
			},
		},
	}
}

func ir(t *testing.T, doc *odl.Document) *odl.IR {
	t.Helper()
	require.NoError(t, odl.Validate(doc))
	return odl.Normalize(doc)
}

func gateResult(t *testing.T, r *Result, id string) GateResult {
	t.Helper()
	for _, gates := range r.Categories {
		if gr, ok := gates[id]; ok {
			return gr
		}
	}
	t.Fatalf("gate %s not found in result", id)
	return GateResult{}
}

func TestEvaluateCleanModelPassesStrict(t *testing.T) {
	r := Evaluate(ir(t, deployableDoc()), ProfileStrict)
	assert.True(t, r.Passed)
	assert.Zero(t, r.Errors)
	assert.Zero(t, r.Warnings)
	assert.NoError(t, r.Err())
}

func TestWarehouseWarningBlocksOnlyStrict(t *testing.T) {
	doc := deployableDoc()
	doc.TargetMapping.Warehouse = ""
	model := ir(t, doc)

	strict := Evaluate(model, ProfileStrict)
	assert.False(t, strict.Passed)
	require.NotNil(t, strict.FirstFailure)
	assert.Equal(t, "warehouse_set", strict.FirstFailure.ID)

	standard := Evaluate(model, ProfileStandard)
	assert.True(t, standard.Passed)
	assert.Equal(t, 1, standard.Warnings)

	lenient := Evaluate(model, ProfileLenient)
	assert.True(t, lenient.Passed)
}

func TestMissingTableMappingIsDeployabilityError(t *testing.T) {
	doc := deployableDoc()
	delete(doc.TargetMapping.TableMappings, "Customer")
	model := ir(t, doc)

	for _, profile := range []Profile{ProfileStrict, ProfileStandard, ProfileLenient} {
		r := Evaluate(model, profile)
		assert.False(t, r.Passed, "profile %s", profile)
		gr := gateResult(t, r, "table_mapping_present")
		assert.False(t, gr.Passed)
	}
}

func TestSemanticErrorPassesLenient(t *testing.T) {
	doc := deployableDoc()
	doc.Metrics[0].Expression = "SUM(total_amount); DROP TABLE orders"
	model := ir(t, doc)

	standard := Evaluate(model, ProfileStandard)
	assert.False(t, standard.Passed)
	require.NotNil(t, standard.FirstFailure)
	assert.Equal(t, "metric_expression_safe", standard.FirstFailure.ID)

	// Lenient only blocks on deployability errors.
	lenient := Evaluate(model, ProfileLenient)
	assert.True(t, lenient.Passed)
	assert.Equal(t, 1, lenient.Errors)
}

func TestForbiddenExpressionTokens(t *testing.T) {
	for _, expr := range []string{
		"SUM(a); DELETE FROM x",
		"drop TABLE orders",
		"GRANT ALL ON x",
	} {
		doc := deployableDoc()
		doc.Metrics[0].Expression = expr
		r := Evaluate(ir(t, doc), ProfileStandard)
		gr := gateResult(t, r, "metric_expression_safe")
		assert.False(t, gr.Passed, "expression %q", expr)
	}
}

func TestDisconnectedObjectIsWarning(t *testing.T) {
	doc := deployableDoc()
	doc.Objects = append(doc.Objects, odl.ObjectDef{
		Name:        "Product",
		Identifiers: []string{"product_id"},
		Properties: []odl.PropertyDef{
			{Name: "product_id", Type: "string"},
		},
	})
	doc.TargetMapping.TableMappings["Product"] = "products"
	model := ir(t, doc)

	standard := Evaluate(model, ProfileStandard)
	assert.True(t, standard.Passed)
	gr := gateResult(t, standard, "connected_join_graph")
	assert.False(t, gr.Passed)
	assert.Equal(t, LevelWarning, gr.Level)

	strict := Evaluate(model, ProfileStrict)
	assert.False(t, strict.Passed)
}

func TestAmbiguousJoinsDetected(t *testing.T) {
	doc := deployableDoc()
	doc.Relationships = append(doc.Relationships, odl.RelationshipDef{
		Name:        "billed_to",
		From:        "Order",
		To:          "Customer",
		JoinKeys:    [][]string{{"customer_id", "customer_id"}},
		Cardinality: "many_to_one",
	})
	r := Evaluate(ir(t, doc), ProfileStandard)
	gr := gateResult(t, r, "no_ambiguous_joins")
	assert.False(t, gr.Passed)
	assert.Equal(t, 1, r.Warnings)
	assert.True(t, r.Passed)
}

func TestGateMonotonicity(t *testing.T) {
	// Anything passing strict passes standard; anything passing standard
	// passes lenient.
	docs := []*odl.Document{deployableDoc()}

	noWarehouse := deployableDoc()
	noWarehouse.TargetMapping.Warehouse = ""
	docs = append(docs, noWarehouse)

	badExpr := deployableDoc()
	badExpr.Metrics[0].Expression = "SUM(a); SELECT 1"
	docs = append(docs, badExpr)

	for i, doc := range docs {
		model := ir(t, doc)
		strict := Evaluate(model, ProfileStrict).Passed
		standard := Evaluate(model, ProfileStandard).Passed
		lenient := Evaluate(model, ProfileLenient).Passed
		if strict {
			assert.True(t, standard, "doc %d", i)
		}
		if standard {
			assert.True(t, lenient, "doc %d", i)
		}
	}
}

func TestErrReturnsGateFailed(t *testing.T) {
	doc := deployableDoc()
	doc.TargetMapping.Database = ""
	doc.TargetMapping.Schema = ""
	r := Evaluate(ir(t, doc), ProfileStandard)
	require.False(t, r.Passed)
	err := r.Err()
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeGateFailed))
}

func TestParseProfile(t *testing.T) {
	assert.Equal(t, ProfileStrict, ParseProfile("STRICT"))
	assert.Equal(t, ProfileLenient, ParseProfile(" lenient "))
	assert.Equal(t, ProfileStandard, ParseProfile(""))
	assert.Equal(t, ProfileStandard, ParseProfile("unknown"))
}
