// Package compile turns a gated ontology version into a deployable artifact
// bundle: the semantic-model YAML, verify/deploy/rollback SQL scripts, and
// bundle metadata, optionally repeated per promotion environment.
package compile

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chinmayajena/sundaygraph/internal/odl"
)

// Model is the compiled semantic model as emitted into
// semantic_model.yaml. Field order is fixed; emission is byte-stable.
type Model struct {
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description,omitempty"`
	Tables        []LogicalTable   `yaml:"tables"`
	Relationships []JoinPath       `yaml:"relationships,omitempty"`
	Metrics       []ModelMetric    `yaml:"metrics,omitempty"`
	Dimensions    []ModelDimension `yaml:"dimensions,omitempty"`
}

// BaseTable locates the physical table behind a logical one.
type BaseTable struct {
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	Table    string `yaml:"table"`
}

// LogicalTable is one object mapped onto the warehouse.
type LogicalTable struct {
	Name        string        `yaml:"name"`
	Object      string        `yaml:"source_object"`
	Description string        `yaml:"description,omitempty"`
	BaseTable   BaseTable     `yaml:"base_table"`
	PrimaryKey  []string      `yaml:"primary_key"`
	Columns     []ModelColumn `yaml:"columns"`
}

// ModelColumn is a single mapped column.
type ModelColumn struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Nullable    bool   `yaml:"nullable"`
	Description string `yaml:"description,omitempty"`
}

// JoinPath is a compiled relationship between two logical tables.
type JoinPath struct {
	Name        string      `yaml:"name"`
	LeftTable   string      `yaml:"left_table"`
	RightTable  string      `yaml:"right_table"`
	Keys        []JoinKeyed `yaml:"join_columns"`
	Cardinality string      `yaml:"cardinality"`
	Description string      `yaml:"description,omitempty"`
}

// JoinKeyed pairs one left column with one right column.
type JoinKeyed struct {
	LeftColumn  string `yaml:"left_column"`
	RightColumn string `yaml:"right_column"`
}

// ModelMetric is a compiled metric. Grain holds logical table names.
type ModelMetric struct {
	Name        string   `yaml:"name"`
	Expression  string   `yaml:"expression"`
	Grain       []string `yaml:"grain"`
	Type        string   `yaml:"type"`
	Format      string   `yaml:"format,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// ModelDimension is a compiled dimension bound to a table column.
type ModelDimension struct {
	Name        string `yaml:"name"`
	Table       string `yaml:"table"`
	Column      string `yaml:"column"`
	Type        string `yaml:"type,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// BuildModel maps a normalized IR onto its semantic model. The IR must have
// passed deployability gates; unresolvable pieces return an error rather
// than a partial model.
func BuildModel(ir *odl.IR) (*Model, error) {
	m := &Model{
		Name:        ir.Name,
		Description: ir.Description,
	}

	globalDB, globalSchema := "", ""
	if ir.Target != nil {
		globalDB = ir.Target.Database
		globalSchema = ir.Target.Schema
	}

	tableByObject := make(map[string]string, len(ir.Objects))
	for i := range ir.Objects {
		obj := &ir.Objects[i]
		db := obj.Database
		if db == "" {
			db = globalDB
		}
		schema := obj.Schema
		if schema == "" {
			schema = globalSchema
		}
		if db == "" || schema == "" {
			return nil, fmt.Errorf("object %q resolves to no database/schema", obj.Name)
		}

		lt := LogicalTable{
			Name:        ir.TableFor(obj),
			Object:      obj.Name,
			Description: obj.Description,
			BaseTable: BaseTable{
				Database: db,
				Schema:   schema,
				Table:    strings.ToUpper(ir.TableFor(obj)),
			},
			PrimaryKey: append([]string(nil), obj.Identifiers...),
		}
		for _, p := range obj.Properties {
			lt.Columns = append(lt.Columns, ModelColumn{
				Name:        p.Name,
				Type:        p.Type,
				Nullable:    p.Nullable,
				Description: p.Description,
			})
		}
		tableByObject[obj.Name] = lt.Name
		m.Tables = append(m.Tables, lt)
	}

	for _, rel := range ir.Relationships {
		left, ok := tableByObject[rel.From]
		if !ok {
			return nil, fmt.Errorf("relationship %q references unmapped object %q", rel.Name, rel.From)
		}
		right, ok := tableByObject[rel.To]
		if !ok {
			return nil, fmt.Errorf("relationship %q references unmapped object %q", rel.Name, rel.To)
		}
		jp := JoinPath{
			Name:        rel.Name,
			LeftTable:   left,
			RightTable:  right,
			Cardinality: rel.Cardinality,
			Description: rel.Description,
		}
		for _, jk := range rel.JoinKeys {
			jp.Keys = append(jp.Keys, JoinKeyed{LeftColumn: jk.From, RightColumn: jk.To})
		}
		m.Relationships = append(m.Relationships, jp)
	}

	for _, metric := range ir.Metrics {
		mm := ModelMetric{
			Name:        metric.Name,
			Expression:  metric.Expression,
			Type:        metric.Type,
			Format:      metric.Format,
			Description: metric.Description,
		}
		for _, g := range metric.Grain {
			table, ok := tableByObject[g]
			if !ok {
				return nil, fmt.Errorf("metric %q grain references unmapped object %q", metric.Name, g)
			}
			mm.Grain = append(mm.Grain, table)
		}
		sort.Strings(mm.Grain)
		m.Metrics = append(m.Metrics, mm)
	}

	for _, dim := range ir.Dimensions {
		parts := strings.SplitN(dim.SourceProperty, ".", 2)
		table, ok := tableByObject[parts[0]]
		if !ok || len(parts) != 2 {
			return nil, fmt.Errorf("dimension %q source %q does not resolve", dim.Name, dim.SourceProperty)
		}
		m.Dimensions = append(m.Dimensions, ModelDimension{
			Name:        dim.Name,
			Table:       table,
			Column:      parts[1],
			Type:        dim.Type,
			Description: dim.Description,
		})
	}

	return m, nil
}

// EmitYAML renders the model with a provenance header. Output is
// byte-stable for a given model and header.
func (m *Model) EmitYAML(ontology string, versionNumber int, contentHash string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Semantic model compiled from ontology %q\n", ontology)
	fmt.Fprintf(&buf, "# Version: %d\n", versionNumber)
	fmt.Fprintf(&buf, "# Content hash: %s\n", contentHash)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
