package odl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// retailDoc returns a small but complete retail ontology used across the
// pipeline tests.
func retailDoc() *Document {
	f := false
	return &Document{
		Version: "1.0",
		Name:    "retail",
		Objects: []ObjectDef{
			{
				Name:        "Order",
				Identifiers: []string{"order_id"},
				Properties: []PropertyDef{
					{Name: "order_id", Type: "string", Nullable: &f},
					{Name: "customer_id", Type: "string"},
					{Name: "total_amount", Type: "decimal"},
					{Name: "placed_at", Type: "timestamp"},
				},
			},
			{
				Name:        "Customer",
				Identifiers: []string{"customer_id"},
				Properties: []PropertyDef{
					{Name: "customer_id", Type: "string", Nullable: &f},
					{Name: "region", Type: "string"},
					{Name: "email", Type: "string"},
				},
			},
		},
		Relationships: []RelationshipDef{
			{
				Name:        "placed_by",
				From:        "Order",
				To:          "Customer",
				JoinKeys:    [][]string{{"customer_id", "customer_id"}},
				Cardinality: "many_to_one",
			},
		},
		Metrics: []MetricDef{
			{
				Name:       "TotalRevenue",
				Expression: "SUM(total_amount)",
				Grain:      []string{"Order"},
				Type:       "sum",
			},
		},
		Dimensions: []DimensionDef{
			{Name: "CustomerRegion", SourceProperty: "Customer.region", Type: "string"},
		},
		TargetMapping: &TargetMappingDef{
			Database: "ANALYTICS",
			Schema:   "RETAIL",
			TableMappings: map[string]string{
				"Order":    "orders",
				"Customer": "customers",
			},
		},
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	require.NoError(t, Validate(retailDoc()))
}

func TestValidateStructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Document)
		path   string
	}{
		{
			name:   "missing version",
			mutate: func(d *Document) { d.Version = "" },
			path:   "/version",
		},
		{
			name:   "no objects",
			mutate: func(d *Document) { d.Objects = nil },
			path:   "/objects",
		},
		{
			name:   "bad object name",
			mutate: func(d *Document) { d.Objects[0].Name = "1Order" },
			path:   "/objects/0/name",
		},
		{
			name:   "no identifiers",
			mutate: func(d *Document) { d.Objects[0].Identifiers = nil },
			path:   "/objects/0/identifiers",
		},
		{
			name:   "unknown property type",
			mutate: func(d *Document) { d.Objects[0].Properties[1].Type = "varchar" },
			path:   "/objects/0/properties/1/type",
		},
		{
			name:   "unknown cardinality",
			mutate: func(d *Document) { d.Relationships[0].Cardinality = "one_to_some" },
			path:   "/relationships/0/cardinality",
		},
		{
			name:   "empty join keys",
			mutate: func(d *Document) { d.Relationships[0].JoinKeys = nil },
			path:   "/relationships/0/joinKeys",
		},
		{
			name:   "empty metric expression",
			mutate: func(d *Document) { d.Metrics[0].Expression = "  " },
			path:   "/metrics/0/expression",
		},
		{
			name:   "dimension without dot",
			mutate: func(d *Document) { d.Dimensions[0].SourceProperty = "region" },
			path:   "/dimensions/0/sourceProperty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := retailDoc()
			tt.mutate(doc)
			err := Validate(doc)
			require.Error(t, err)
			assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidStructure), "got %v", err)
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}

func TestValidateReferentialErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Document)
		want   string
	}{
		{
			name:   "relationship to unknown object",
			mutate: func(d *Document) { d.Relationships[0].To = "Account" },
			want:   "unknown object",
		},
		{
			name:   "join key not a property",
			mutate: func(d *Document) { d.Relationships[0].JoinKeys = [][]string{{"nope", "customer_id"}} },
			want:   "not a property",
		},
		{
			name: "incompatible join key types",
			mutate: func(d *Document) {
				d.Objects[0].Properties[1].Type = "integer"
			},
			want: "incompatible",
		},
		{
			name:   "metric grain unknown object",
			mutate: func(d *Document) { d.Metrics[0].Grain = []string{"Shipment"} },
			want:   "grain references unknown object",
		},
		{
			name:   "dimension unknown property",
			mutate: func(d *Document) { d.Dimensions[0].SourceProperty = "Customer.tier" },
			want:   "unknown property",
		},
		{
			name:   "identifier not declared",
			mutate: func(d *Document) { d.Objects[0].Identifiers = []string{"uuid"} },
			want:   "does not name a property",
		},
		{
			name: "duplicate object name",
			mutate: func(d *Document) {
				d.Objects = append(d.Objects, d.Objects[0])
			},
			want: "duplicate object name",
		},
		{
			name: "table mapping unknown object",
			mutate: func(d *Document) {
				d.TargetMapping.TableMappings["Invoice"] = "invoices"
			},
			want: "table mapping references unknown object",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := retailDoc()
			tt.mutate(doc)
			err := Validate(doc)
			require.Error(t, err)
			assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidReference), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecimalNumberJoinKeysCompatible(t *testing.T) {
	doc := retailDoc()
	doc.Objects[0].Properties[1].Type = "decimal"
	doc.Objects[1].Properties[0].Type = "number"
	require.NoError(t, Validate(doc))
}

func TestNormalizeSortsAndDefaults(t *testing.T) {
	ir := Normalize(retailDoc())

	// Objects sorted by name: Customer before Order.
	require.Len(t, ir.Objects, 2)
	assert.Equal(t, "Customer", ir.Objects[0].Name)
	assert.Equal(t, "Order", ir.Objects[1].Name)

	// Properties sorted within each object.
	order := ir.Object("Order")
	require.NotNil(t, order)
	assert.Equal(t, "customer_id", order.Properties[0].Name)
	assert.Equal(t, "order_id", order.Properties[1].Name)

	// Defaults explicit: nullable true unless declared, required false.
	cust := order.Property("customer_id")
	require.NotNil(t, cust)
	assert.True(t, cust.Nullable)
	assert.False(t, cust.Required)
	id := order.Property("order_id")
	require.NotNil(t, id)
	assert.False(t, id.Nullable)
}

func TestNormalizeTrimsWhitespace(t *testing.T) {
	doc := retailDoc()
	doc.Objects[0].Name = "  Order  "
	doc.Metrics[0].Expression = " SUM(total_amount) "
	ir := Normalize(doc)
	require.NotNil(t, ir.Object("Order"))
	assert.Equal(t, "SUM(total_amount)", ir.Metrics[0].Expression)
}

func TestNormalizeSortsJoinKeys(t *testing.T) {
	doc := retailDoc()
	doc.Relationships[0].JoinKeys = [][]string{
		{"customer_id", "customer_id"},
		{"customer_id", "email"},
	}
	// Invalid semantically but fine for ordering: make email joinable.
	doc.Objects[1].Properties[2].Type = "string"
	ir := Normalize(doc)
	jk := ir.Relationships[0].JoinKeys
	require.Len(t, jk, 2)
	assert.Equal(t, JoinKey{From: "customer_id", To: "customer_id"}, jk[0])
	assert.Equal(t, JoinKey{From: "customer_id", To: "email"}, jk[1])
}

func TestNormalizeMergesObjectMappings(t *testing.T) {
	doc := retailDoc()
	doc.TargetMapping.TableMappings = map[string]string{"Customer": "customers"}
	doc.Objects[0].Mapping = &ObjectMappingDef{Table: "fact_orders"}
	ir := Normalize(doc)
	require.NotNil(t, ir.Target)
	assert.Equal(t, "fact_orders", ir.Target.TableMappings["Order"])
	assert.Equal(t, "customers", ir.Target.TableMappings["Customer"])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	ir := Normalize(retailDoc())
	data := ir.Serialize()

	reparsed, err := ParseIR(data)
	require.NoError(t, err)
	assert.Equal(t, data, reparsed.Serialize())
	assert.Equal(t, ir.Hash(), reparsed.Hash())
}

func TestHashIgnoresAuthoringOrder(t *testing.T) {
	a := retailDoc()
	b := retailDoc()
	// Reverse object and property declaration order in b.
	b.Objects[0], b.Objects[1] = b.Objects[1], b.Objects[0]
	props := b.Objects[1].Properties
	for i, j := 0, len(props)-1; i < j; i, j = i+1, j-1 {
		props[i], props[j] = props[j], props[i]
	}
	assert.Equal(t, Normalize(a).Hash(), Normalize(b).Hash())
}

func TestHashChangesOnSemanticEdit(t *testing.T) {
	a := Normalize(retailDoc())
	doc := retailDoc()
	doc.Objects[0].Properties[2].Type = "number"
	b := Normalize(doc)
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSerializeIsCanonical(t *testing.T) {
	data := Normalize(retailDoc()).Serialize()
	assert.NotContains(t, string(data), "\r")
	assert.Equal(t, byte('\n'), data[len(data)-1])

	// Canonical form is valid JSON with two-space indentation.
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, string(data), "\n  \"objects\"")
}

func TestProcessRejectsMalformedJSON(t *testing.T) {
	_, err := Process([]byte("{not json"))
	require.Error(t, err)
}

func TestProcessEndToEnd(t *testing.T) {
	raw, err := json.Marshal(retailDoc())
	require.NoError(t, err)
	ir, err := Process(raw)
	require.NoError(t, err)
	assert.Equal(t, "retail", ir.Name)
	assert.Len(t, ir.Objects, 2)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Order":       "order",
		"OrderItem":   "order_item",
		"HTTPServer":  "http_server",
		"customer":    "customer",
		"OrderItemV2": "order_item_v2",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), "input %q", in)
	}
}

func TestTableFor(t *testing.T) {
	ir := Normalize(retailDoc())
	order := ir.Object("Order")
	assert.Equal(t, "orders", ir.TableFor(order))

	ir.Target.TableMappings = nil
	assert.Equal(t, "order", ir.TableFor(order))

	order.Table = "FACT_ORDERS"
	assert.Equal(t, "FACT_ORDERS", ir.TableFor(order))
}
