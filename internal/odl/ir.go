package odl

// Property types accepted by the validator.
const (
	TypeString    = "string"
	TypeNumber    = "number"
	TypeInteger   = "integer"
	TypeDecimal   = "decimal"
	TypeBoolean   = "boolean"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
	TypeTime      = "time"
	TypeArray     = "array"
	TypeObject    = "object"
)

// Cardinality values accepted on relationships.
const (
	CardinalityOneToOne   = "one_to_one"
	CardinalityOneToMany  = "one_to_many"
	CardinalityManyToOne  = "many_to_one"
	CardinalityManyToMany = "many_to_many"
)

// Metric types accepted by the validator.
const (
	MetricSum           = "sum"
	MetricCount         = "count"
	MetricAverage       = "average"
	MetricMin           = "min"
	MetricMax           = "max"
	MetricDistinctCount = "distinct_count"
	MetricCustom        = "custom"
)

var (
	propertyTypes = map[string]bool{
		TypeString: true, TypeNumber: true, TypeInteger: true,
		TypeDecimal: true, TypeBoolean: true, TypeDate: true,
		TypeTimestamp: true, TypeTime: true, TypeArray: true,
		TypeObject: true,
	}
	cardinalities = map[string]bool{
		CardinalityOneToOne: true, CardinalityOneToMany: true,
		CardinalityManyToOne: true, CardinalityManyToMany: true,
	}
	metricTypes = map[string]bool{
		MetricSum: true, MetricCount: true, MetricAverage: true,
		MetricMin: true, MetricMax: true, MetricDistinctCount: true,
		MetricCustom: true,
	}
)

// IR is the normalized, fully-defaulted form of an ODL document. All
// downstream stages (diff, eval, compile, drift) consume the IR, never the
// raw Document. Collections are sorted by name and defaults are explicit, so
// two documents with the same meaning produce identical IRs.
type IR struct {
	Version       string         `json:"version"`
	Name          string         `json:"name,omitempty"`
	Description   string         `json:"description,omitempty"`
	Objects       []Object       `json:"objects"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Metrics       []Metric       `json:"metrics,omitempty"`
	Dimensions    []Dimension    `json:"dimensions,omitempty"`
	Target        *TargetMapping `json:"targetMapping,omitempty"`
}

// Object is a normalized business object.
type Object struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Identifiers []string   `json:"identifiers"`
	Properties  []Property `json:"properties"`
	Table       string     `json:"table,omitempty"`
	Schema      string     `json:"schema,omitempty"`
	Database    string     `json:"database,omitempty"`
}

// Property is a normalized property with explicit defaults.
type Property struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Nullable    bool   `json:"nullable"`
	Required    bool   `json:"required"`
}

// Relationship is a normalized join declaration.
type Relationship struct {
	Name        string    `json:"name"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	JoinKeys    []JoinKey `json:"joinKeys"`
	Cardinality string    `json:"cardinality"`
	Description string    `json:"description,omitempty"`
}

// JoinKey pairs a property on the from-object with one on the to-object.
type JoinKey struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Metric is a normalized metric.
type Metric struct {
	Name        string   `json:"name"`
	Expression  string   `json:"expression"`
	Grain       []string `json:"grain"`
	Type        string   `json:"type"`
	Format      string   `json:"format,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Dimension is a normalized dimension.
type Dimension struct {
	Name           string `json:"name"`
	SourceProperty string `json:"sourceProperty"`
	Type           string `json:"type,omitempty"`
	Description    string `json:"description,omitempty"`
}

// TargetMapping is the normalized warehouse target.
type TargetMapping struct {
	Database      string            `json:"database,omitempty"`
	Schema        string            `json:"schema,omitempty"`
	Warehouse     string            `json:"warehouse,omitempty"`
	TableMappings map[string]string `json:"tableMappings,omitempty"`
}

// Object returns the object with the given name, or nil.
func (ir *IR) Object(name string) *Object {
	for i := range ir.Objects {
		if ir.Objects[i].Name == name {
			return &ir.Objects[i]
		}
	}
	return nil
}

// Property returns the property with the given name, or nil.
func (o *Object) Property(name string) *Property {
	for i := range o.Properties {
		if o.Properties[i].Name == name {
			return &o.Properties[i]
		}
	}
	return nil
}

// IsIdentifier reports whether name is one of the object's identifiers.
func (o *Object) IsIdentifier(name string) bool {
	for _, id := range o.Identifiers {
		if id == name {
			return true
		}
	}
	return false
}

// TableFor returns the physical table for an object: the per-object mapping
// wins, then the target tableMappings, then a snake_case fallback of the
// object name.
func (ir *IR) TableFor(obj *Object) string {
	if obj.Table != "" {
		return obj.Table
	}
	if ir.Target != nil {
		if t, ok := ir.Target.TableMappings[obj.Name]; ok && t != "" {
			return t
		}
	}
	return SnakeCase(obj.Name)
}

// CompatibleTypes reports whether two property types may be joined. Decimal
// and number are interchangeable; everything else requires an exact match.
func CompatibleTypes(a, b string) bool {
	if a == b {
		return true
	}
	if (a == TypeDecimal && b == TypeNumber) || (a == TypeNumber && b == TypeDecimal) {
		return true
	}
	return false
}
