package odl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"unicode"
)

// Normalize converts a validated document into canonical IR form:
//
//   - collections sorted by name (case-sensitive lexicographic)
//   - joinKeys sorted by from then to, inner pair order preserved
//   - nullable/required made explicit (nullable defaults true, required false)
//   - strings trimmed of surrounding whitespace
//   - grain sorted (it is a set of object names)
//   - per-object table mappings merged into targetMapping.tableMappings
//
// Normalize is idempotent: running it on an already-normalized document
// changes nothing.
func Normalize(doc *Document) *IR {
	ir := &IR{
		Version:     strings.TrimSpace(doc.Version),
		Name:        strings.TrimSpace(doc.Name),
		Description: strings.TrimSpace(doc.Description),
	}

	for _, obj := range doc.Objects {
		no := Object{
			Name:        strings.TrimSpace(obj.Name),
			Description: strings.TrimSpace(obj.Description),
		}
		for _, id := range obj.Identifiers {
			no.Identifiers = append(no.Identifiers, strings.TrimSpace(id))
		}
		for _, p := range obj.Properties {
			np := Property{
				Name:        strings.TrimSpace(p.Name),
				Type:        strings.TrimSpace(p.Type),
				Description: strings.TrimSpace(p.Description),
				Nullable:    true,
			}
			if p.Nullable != nil {
				np.Nullable = *p.Nullable
			}
			if p.Required != nil {
				np.Required = *p.Required
			}
			no.Properties = append(no.Properties, np)
		}
		sort.Slice(no.Properties, func(i, j int) bool {
			return no.Properties[i].Name < no.Properties[j].Name
		})
		if obj.Mapping != nil {
			no.Table = strings.TrimSpace(obj.Mapping.Table)
			no.Schema = strings.TrimSpace(obj.Mapping.Schema)
			no.Database = strings.TrimSpace(obj.Mapping.Database)
		}
		ir.Objects = append(ir.Objects, no)
	}
	sort.Slice(ir.Objects, func(i, j int) bool {
		return ir.Objects[i].Name < ir.Objects[j].Name
	})

	for _, rel := range doc.Relationships {
		nr := Relationship{
			Name:        strings.TrimSpace(rel.Name),
			From:        strings.TrimSpace(rel.From),
			To:          strings.TrimSpace(rel.To),
			Cardinality: strings.TrimSpace(rel.Cardinality),
			Description: strings.TrimSpace(rel.Description),
		}
		if nr.Cardinality == "" {
			nr.Cardinality = CardinalityManyToOne
		}
		for _, jk := range rel.JoinKeys {
			nr.JoinKeys = append(nr.JoinKeys, JoinKey{
				From: strings.TrimSpace(jk[0]),
				To:   strings.TrimSpace(jk[1]),
			})
		}
		sort.Slice(nr.JoinKeys, func(i, j int) bool {
			a, b := nr.JoinKeys[i], nr.JoinKeys[j]
			if a.From != b.From {
				return a.From < b.From
			}
			return a.To < b.To
		})
		ir.Relationships = append(ir.Relationships, nr)
	}
	sort.Slice(ir.Relationships, func(i, j int) bool {
		return ir.Relationships[i].Name < ir.Relationships[j].Name
	})

	for _, m := range doc.Metrics {
		nm := Metric{
			Name:        strings.TrimSpace(m.Name),
			Expression:  strings.TrimSpace(m.Expression),
			Type:        strings.TrimSpace(m.Type),
			Format:      strings.TrimSpace(m.Format),
			Description: strings.TrimSpace(m.Description),
		}
		if nm.Type == "" {
			nm.Type = MetricCustom
		}
		for _, g := range m.Grain {
			nm.Grain = append(nm.Grain, strings.TrimSpace(g))
		}
		sort.Strings(nm.Grain)
		ir.Metrics = append(ir.Metrics, nm)
	}
	sort.Slice(ir.Metrics, func(i, j int) bool {
		return ir.Metrics[i].Name < ir.Metrics[j].Name
	})

	for _, d := range doc.Dimensions {
		ir.Dimensions = append(ir.Dimensions, Dimension{
			Name:           strings.TrimSpace(d.Name),
			SourceProperty: strings.TrimSpace(d.SourceProperty),
			Type:           strings.TrimSpace(d.Type),
			Description:    strings.TrimSpace(d.Description),
		})
	}
	sort.Slice(ir.Dimensions, func(i, j int) bool {
		return ir.Dimensions[i].Name < ir.Dimensions[j].Name
	})

	if doc.TargetMapping != nil {
		ir.Target = &TargetMapping{
			Database:  strings.TrimSpace(doc.TargetMapping.Database),
			Schema:    strings.TrimSpace(doc.TargetMapping.Schema),
			Warehouse: strings.TrimSpace(doc.TargetMapping.Warehouse),
		}
		if len(doc.TargetMapping.TableMappings) > 0 {
			ir.Target.TableMappings = make(map[string]string, len(doc.TargetMapping.TableMappings))
			for k, v := range doc.TargetMapping.TableMappings {
				ir.Target.TableMappings[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}

	// Per-object tables surface in the target mapping so one place answers
	// "which table backs this object". The targetMapping entry wins on
	// conflict since it is the more explicit declaration.
	for _, obj := range ir.Objects {
		if obj.Table == "" {
			continue
		}
		if ir.Target == nil {
			ir.Target = &TargetMapping{}
		}
		if ir.Target.TableMappings == nil {
			ir.Target.TableMappings = make(map[string]string)
		}
		if _, ok := ir.Target.TableMappings[obj.Name]; !ok {
			ir.Target.TableMappings[obj.Name] = obj.Table
		}
	}

	return ir
}

// Serialize renders the IR as canonical JSON: two-space indentation, LF line
// endings, sorted map keys, trailing newline. The output is byte-stable, so
// it is the input to content hashing.
func (ir *IR) Serialize() []byte {
	// encoding/json sorts map keys and never emits CR, which covers the
	// canonical-form requirements as long as struct field order stays fixed.
	data, err := json.MarshalIndent(ir, "", "  ")
	if err != nil {
		// The IR contains only marshalable types; this cannot happen.
		panic("odl: serialize: " + err.Error())
	}
	return append(data, '\n')
}

// Hash returns the lowercase hex sha256 of the canonical serialization.
// Semantically identical documents hash identically regardless of authoring
// order or formatting.
func (ir *IR) Hash() string {
	sum := sha256.Sum256(ir.Serialize())
	return hex.EncodeToString(sum[:])
}

// ParseIR decodes a canonical serialization back into an IR.
func ParseIR(data []byte) (*IR, error) {
	var ir IR
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, err
	}
	return &ir, nil
}

// SnakeCase converts a CamelCase object name to the snake_case table
// fallback, e.g. "OrderItem" becomes "order_item".
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
