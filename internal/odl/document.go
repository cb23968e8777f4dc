// Package odl implements the Ontology Definition Language: the JSON document
// shape, structural and referential validation, and normalization into the
// canonical IR that every downstream stage consumes.
//
// Parsing is the only dynamic-to-static conversion in the system; everything
// after Process works on the typed IR.
package odl

import (
	"encoding/json"
	"fmt"
	"os"
)

// Document is the raw ODL payload as authored. Optional booleans are
// pointers so "absent" can be distinguished from "false" before defaulting.
type Document struct {
	Version       string             `json:"version"`
	Name          string             `json:"name,omitempty"`
	Description   string             `json:"description,omitempty"`
	Objects       []ObjectDef        `json:"objects"`
	Relationships []RelationshipDef  `json:"relationships,omitempty"`
	Metrics       []MetricDef        `json:"metrics,omitempty"`
	Dimensions    []DimensionDef     `json:"dimensions,omitempty"`
	TargetMapping *TargetMappingDef  `json:"targetMapping,omitempty"`
}

// ObjectDef declares a business object and its warehouse mapping.
type ObjectDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Identifiers []string          `json:"identifiers"`
	Properties  []PropertyDef     `json:"properties"`
	Mapping     *ObjectMappingDef `json:"mapping,omitempty"`
}

// PropertyDef declares a single property.
type PropertyDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Nullable    *bool  `json:"nullable,omitempty"`
	Required    *bool  `json:"required,omitempty"`
}

// ObjectMappingDef overrides the warehouse location for one object.
type ObjectMappingDef struct {
	Table    string `json:"table,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Database string `json:"database,omitempty"`
}

// RelationshipDef declares a join between two objects.
type RelationshipDef struct {
	Name        string     `json:"name"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	JoinKeys    [][]string `json:"joinKeys"`
	Cardinality string     `json:"cardinality,omitempty"`
	Description string     `json:"description,omitempty"`
}

// MetricDef declares a metric at a grain.
type MetricDef struct {
	Name        string   `json:"name"`
	Expression  string   `json:"expression"`
	Grain       []string `json:"grain"`
	Type        string   `json:"type,omitempty"`
	Format      string   `json:"format,omitempty"`
	Description string   `json:"description,omitempty"`
}

// DimensionDef declares a dimension sourced from Object.property.
type DimensionDef struct {
	Name           string `json:"name"`
	SourceProperty string `json:"sourceProperty"`
	Type           string `json:"type,omitempty"`
	Description    string `json:"description,omitempty"`
}

// TargetMappingDef holds warehouse defaults and object-to-table mappings.
type TargetMappingDef struct {
	Database      string            `json:"database,omitempty"`
	Schema        string            `json:"schema,omitempty"`
	Warehouse     string            `json:"warehouse,omitempty"`
	TableMappings map[string]string `json:"tableMappings,omitempty"`
}

// Parse decodes an ODL JSON payload.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ODL JSON: %w", err)
	}
	return &doc, nil
}

// ParseFile decodes an ODL JSON file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ODL file: %w", err)
	}
	return Parse(data)
}

// Process parses, validates, and normalizes an ODL payload in one step.
// On validation failure no IR is returned; errors are never partial.
func Process(data []byte) (*IR, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return Normalize(doc), nil
}
