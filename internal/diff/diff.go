// Package diff computes structured change sets between two normalized
// ontology IRs, classifying every change as breaking or non-breaking, and
// renders line-level text diffs for drift reporting.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chinmayajena/sundaygraph/internal/odl"
)

// Severity classifies a change's compatibility impact.
type Severity string

const (
	SeverityBreaking    Severity = "breaking"
	SeverityNonBreaking Severity = "non-breaking"
)

// Change kinds.
const (
	KindObjectAdded            = "object.added"
	KindObjectRemoved          = "object.removed"
	KindObjectRenamed          = "object.renamed"
	KindPropertyAdded          = "property.added"
	KindPropertyRemoved        = "property.removed"
	KindPropertyTypeChanged    = "property.type_changed"
	KindPropertyNullableChange = "property.nullable_changed"
	KindPropertyRequiredChange = "property.required_changed"
	KindIdentifierChanged      = "identifier.changed"
	KindRelationshipAdded      = "relationship.added"
	KindRelationshipRemoved    = "relationship.removed"
	KindJoinKeysChanged        = "relationship.joinkeys_changed"
	KindCardinalityChanged     = "relationship.cardinality_changed"
	KindMetricAdded            = "metric.added"
	KindMetricRemoved          = "metric.removed"
	KindMetricExprChanged      = "metric.expression_changed"
	KindMetricGrainChanged     = "metric.grain_changed"
	KindDimensionAdded         = "dimension.added"
	KindDimensionRemoved       = "dimension.removed"
	KindDimensionSourceChanged = "dimension.source_changed"
)

// Change is a single classified difference.
type Change struct {
	Path     string   `json:"path"`
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// Summary aggregates a change set.
type Summary struct {
	ByKind      map[string]int `json:"by_kind"`
	Breaking    int            `json:"breaking"`
	NonBreaking int            `json:"non_breaking"`
	HasBreaking bool           `json:"has_breaking"`
}

// Report is the full diff output. Given identical inputs the report, and its
// serialization, are byte-identical.
type Report struct {
	Changes []Change `json:"changes"`
	Summary Summary  `json:"summary"`
}

// Serialize renders the report as canonical indented JSON.
func (r *Report) Serialize() []byte {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		panic("diff: serialize: " + err.Error())
	}
	return append(data, '\n')
}

// Compare diffs two normalized IRs. Both inputs must come out of the
// normalizer; the engine relies on their sorted collection order for
// deterministic output.
func Compare(old, new *odl.IR) *Report {
	var changes []Change

	changes = append(changes, compareObjects(old, new)...)
	changes = append(changes, compareRelationships(old, new)...)
	changes = append(changes, compareMetrics(old, new)...)
	changes = append(changes, compareDimensions(old, new)...)

	summary := Summary{ByKind: make(map[string]int)}
	for _, c := range changes {
		summary.ByKind[c.Kind]++
		if c.Severity == SeverityBreaking {
			summary.Breaking++
		} else {
			summary.NonBreaking++
		}
	}
	summary.HasBreaking = summary.Breaking > 0

	return &Report{Changes: changes, Summary: summary}
}

func compareObjects(old, new *odl.IR) []Change {
	var changes []Change

	oldByName := objectIndex(old)
	newByName := objectIndex(new)

	var removed, added []string
	for _, o := range old.Objects {
		if _, ok := newByName[o.Name]; !ok {
			removed = append(removed, o.Name)
		}
	}
	for _, n := range new.Objects {
		if _, ok := oldByName[n.Name]; !ok {
			added = append(added, n.Name)
		}
	}

	renames := inferRenames(oldByName, newByName, removed, added)
	renamedOld := make(map[string]bool)
	renamedNew := make(map[string]bool)
	for oldName, newName := range renames {
		renamedOld[oldName] = true
		renamedNew[newName] = true
		changes = append(changes, Change{
			Path:     "/objects/" + oldName,
			Kind:     KindObjectRenamed,
			Severity: SeverityBreaking,
			Detail:   fmt.Sprintf("%s renamed to %s", oldName, newName),
		})
	}

	for _, name := range removed {
		if renamedOld[name] {
			continue
		}
		changes = append(changes, Change{
			Path:     "/objects/" + name,
			Kind:     KindObjectRemoved,
			Severity: SeverityBreaking,
		})
	}
	for _, name := range added {
		if renamedNew[name] {
			continue
		}
		changes = append(changes, Change{
			Path:     "/objects/" + name,
			Kind:     KindObjectAdded,
			Severity: SeverityNonBreaking,
		})
	}

	// Property-level diffs on objects present in both versions. IR object
	// order is already sorted by name.
	for i := range new.Objects {
		n := &new.Objects[i]
		o, ok := oldByName[n.Name]
		if !ok {
			continue
		}
		changes = append(changes, compareIdentifiers(o, n)...)
		changes = append(changes, compareProperties(o, n)...)
	}

	return changes
}

// inferRenames matches removed objects to added ones: identical identifier
// sets plus at least 80% property-name overlap. An ambiguous match (two or
// more candidates with the same best overlap) yields no rename.
func inferRenames(oldByName, newByName map[string]*odl.Object, removed, added []string) map[string]string {
	renames := make(map[string]string)
	claimed := make(map[string]bool)

	for _, oldName := range removed {
		o := oldByName[oldName]
		var best []string
		bestScore := 0.0
		for _, newName := range added {
			if claimed[newName] {
				continue
			}
			n := newByName[newName]
			if !sameIdentifiers(o, n) {
				continue
			}
			score := propertyOverlap(o, n)
			if score < 0.8 {
				continue
			}
			if score > bestScore {
				bestScore = score
				best = []string{newName}
			} else if score == bestScore {
				best = append(best, newName)
			}
		}
		if len(best) == 1 {
			renames[oldName] = best[0]
			claimed[best[0]] = true
		}
	}
	return renames
}

func sameIdentifiers(a, b *odl.Object) bool {
	if len(a.Identifiers) != len(b.Identifiers) {
		return false
	}
	as := append([]string(nil), a.Identifiers...)
	bs := append([]string(nil), b.Identifiers...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func propertyOverlap(a, b *odl.Object) float64 {
	names := make(map[string]bool, len(a.Properties))
	for _, p := range a.Properties {
		names[p.Name] = true
	}
	shared := 0
	for _, p := range b.Properties {
		if names[p.Name] {
			shared++
		}
	}
	denom := len(a.Properties)
	if len(b.Properties) > denom {
		denom = len(b.Properties)
	}
	if denom == 0 {
		return 0
	}
	return float64(shared) / float64(denom)
}

func compareIdentifiers(o, n *odl.Object) []Change {
	if sameIdentifiers(o, n) && identifierOrderEqual(o, n) {
		return nil
	}
	return []Change{{
		Path:     "/objects/" + n.Name + "/identifiers",
		Kind:     KindIdentifierChanged,
		Severity: SeverityBreaking,
		Detail:   fmt.Sprintf("%v changed to %v", o.Identifiers, n.Identifiers),
	}}
}

func identifierOrderEqual(o, n *odl.Object) bool {
	for i := range o.Identifiers {
		if o.Identifiers[i] != n.Identifiers[i] {
			return false
		}
	}
	return true
}

func compareProperties(o, n *odl.Object) []Change {
	var changes []Change
	base := "/objects/" + n.Name + "/properties/"

	oldProps := make(map[string]*odl.Property, len(o.Properties))
	for i := range o.Properties {
		oldProps[o.Properties[i].Name] = &o.Properties[i]
	}
	newProps := make(map[string]*odl.Property, len(n.Properties))
	for i := range n.Properties {
		newProps[n.Properties[i].Name] = &n.Properties[i]
	}

	for i := range o.Properties {
		op := &o.Properties[i]
		if _, ok := newProps[op.Name]; !ok {
			changes = append(changes, Change{
				Path:     base + op.Name,
				Kind:     KindPropertyRemoved,
				Severity: SeverityBreaking,
			})
		}
	}

	for i := range n.Properties {
		np := &n.Properties[i]
		op, ok := oldProps[np.Name]
		if !ok {
			sev := SeverityNonBreaking
			// A column consumers cannot omit breaks existing writers.
			if !np.Nullable && np.Required {
				sev = SeverityBreaking
			}
			changes = append(changes, Change{
				Path:     base + np.Name,
				Kind:     KindPropertyAdded,
				Severity: sev,
			})
			continue
		}
		if op.Type != np.Type {
			sev := SeverityBreaking
			if isWidening(op.Type, np.Type) {
				sev = SeverityNonBreaking
			}
			changes = append(changes, Change{
				Path:     base + np.Name + "/type",
				Kind:     KindPropertyTypeChanged,
				Severity: sev,
				Detail:   fmt.Sprintf("%s changed to %s", op.Type, np.Type),
			})
		}
		if op.Nullable != np.Nullable {
			sev := SeverityNonBreaking
			if op.Nullable && !np.Nullable {
				sev = SeverityBreaking
			}
			changes = append(changes, Change{
				Path:     base + np.Name + "/nullable",
				Kind:     KindPropertyNullableChange,
				Severity: sev,
				Detail:   fmt.Sprintf("%t changed to %t", op.Nullable, np.Nullable),
			})
		}
		if op.Required != np.Required {
			sev := SeverityNonBreaking
			if !op.Required && np.Required {
				sev = SeverityBreaking
			}
			changes = append(changes, Change{
				Path:     base + np.Name + "/required",
				Kind:     KindPropertyRequiredChange,
				Severity: sev,
				Detail:   fmt.Sprintf("%t changed to %t", op.Required, np.Required),
			})
		}
	}

	return changes
}

// isWidening reports whether a type change loses no information:
// integer fits in decimal fits in number, and date fits in timestamp.
func isWidening(from, to string) bool {
	switch from {
	case odl.TypeInteger:
		return to == odl.TypeDecimal || to == odl.TypeNumber
	case odl.TypeDecimal:
		return to == odl.TypeNumber
	case odl.TypeDate:
		return to == odl.TypeTimestamp
	}
	return false
}

func compareRelationships(old, new *odl.IR) []Change {
	var changes []Change

	oldRels := make(map[string]*odl.Relationship, len(old.Relationships))
	for i := range old.Relationships {
		oldRels[old.Relationships[i].Name] = &old.Relationships[i]
	}
	newRels := make(map[string]*odl.Relationship, len(new.Relationships))
	for i := range new.Relationships {
		newRels[new.Relationships[i].Name] = &new.Relationships[i]
	}

	for i := range old.Relationships {
		or := &old.Relationships[i]
		if _, ok := newRels[or.Name]; !ok {
			changes = append(changes, Change{
				Path:     "/relationships/" + or.Name,
				Kind:     KindRelationshipRemoved,
				Severity: SeverityBreaking,
			})
		}
	}

	for i := range new.Relationships {
		nr := &new.Relationships[i]
		or, ok := oldRels[nr.Name]
		if !ok {
			changes = append(changes, Change{
				Path:     "/relationships/" + nr.Name,
				Kind:     KindRelationshipAdded,
				Severity: SeverityNonBreaking,
			})
			continue
		}
		if !joinKeysEqual(or.JoinKeys, nr.JoinKeys) || or.From != nr.From || or.To != nr.To {
			changes = append(changes, Change{
				Path:     "/relationships/" + nr.Name + "/joinKeys",
				Kind:     KindJoinKeysChanged,
				Severity: SeverityBreaking,
			})
		}
		if or.Cardinality != nr.Cardinality {
			sev := SeverityNonBreaking
			if isStricterCardinality(or.Cardinality, nr.Cardinality) {
				sev = SeverityBreaking
			}
			changes = append(changes, Change{
				Path:     "/relationships/" + nr.Name + "/cardinality",
				Kind:     KindCardinalityChanged,
				Severity: sev,
				Detail:   fmt.Sprintf("%s changed to %s", or.Cardinality, nr.Cardinality),
			})
		}
	}

	return changes
}

func joinKeysEqual(a, b []odl.JoinKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isStricterCardinality reports whether the new cardinality adds a
// uniqueness constraint the old one did not carry. one_to_many constrains
// the from side, many_to_one the to side, one_to_one both.
func isStricterCardinality(old, new string) bool {
	oldFrom, oldTo := cardinalityConstraints(old)
	newFrom, newTo := cardinalityConstraints(new)
	return (newFrom && !oldFrom) || (newTo && !oldTo)
}

func cardinalityConstraints(c string) (fromUnique, toUnique bool) {
	switch c {
	case odl.CardinalityOneToOne:
		return true, true
	case odl.CardinalityOneToMany:
		return true, false
	case odl.CardinalityManyToOne:
		return false, true
	default:
		return false, false
	}
}

func compareMetrics(old, new *odl.IR) []Change {
	var changes []Change

	oldMetrics := make(map[string]*odl.Metric, len(old.Metrics))
	for i := range old.Metrics {
		oldMetrics[old.Metrics[i].Name] = &old.Metrics[i]
	}
	newMetrics := make(map[string]*odl.Metric, len(new.Metrics))
	for i := range new.Metrics {
		newMetrics[new.Metrics[i].Name] = &new.Metrics[i]
	}

	for i := range old.Metrics {
		om := &old.Metrics[i]
		if _, ok := newMetrics[om.Name]; !ok {
			changes = append(changes, Change{
				Path:     "/metrics/" + om.Name,
				Kind:     KindMetricRemoved,
				Severity: SeverityBreaking,
			})
		}
	}

	for i := range new.Metrics {
		nm := &new.Metrics[i]
		om, ok := oldMetrics[nm.Name]
		if !ok {
			changes = append(changes, Change{
				Path:     "/metrics/" + nm.Name,
				Kind:     KindMetricAdded,
				Severity: SeverityNonBreaking,
			})
			continue
		}
		if om.Expression != nm.Expression {
			changes = append(changes, Change{
				Path:     "/metrics/" + nm.Name + "/expression",
				Kind:     KindMetricExprChanged,
				Severity: SeverityBreaking,
			})
		}
		if !stringSlicesEqual(om.Grain, nm.Grain) {
			changes = append(changes, Change{
				Path:     "/metrics/" + nm.Name + "/grain",
				Kind:     KindMetricGrainChanged,
				Severity: SeverityBreaking,
				Detail:   fmt.Sprintf("%v changed to %v", om.Grain, nm.Grain),
			})
		}
	}

	return changes
}

func compareDimensions(old, new *odl.IR) []Change {
	var changes []Change

	oldDims := make(map[string]*odl.Dimension, len(old.Dimensions))
	for i := range old.Dimensions {
		oldDims[old.Dimensions[i].Name] = &old.Dimensions[i]
	}
	newDims := make(map[string]*odl.Dimension, len(new.Dimensions))
	for i := range new.Dimensions {
		newDims[new.Dimensions[i].Name] = &new.Dimensions[i]
	}

	for i := range old.Dimensions {
		od := &old.Dimensions[i]
		if _, ok := newDims[od.Name]; !ok {
			changes = append(changes, Change{
				Path:     "/dimensions/" + od.Name,
				Kind:     KindDimensionRemoved,
				Severity: SeverityBreaking,
			})
		}
	}

	for i := range new.Dimensions {
		nd := &new.Dimensions[i]
		od, ok := oldDims[nd.Name]
		if !ok {
			changes = append(changes, Change{
				Path:     "/dimensions/" + nd.Name,
				Kind:     KindDimensionAdded,
				Severity: SeverityNonBreaking,
			})
			continue
		}
		if od.SourceProperty != nd.SourceProperty {
			changes = append(changes, Change{
				Path:     "/dimensions/" + nd.Name + "/sourceProperty",
				Kind:     KindDimensionSourceChanged,
				Severity: SeverityBreaking,
				Detail:   fmt.Sprintf("%s changed to %s", od.SourceProperty, nd.SourceProperty),
			})
		}
	}

	return changes
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func objectIndex(ir *odl.IR) map[string]*odl.Object {
	m := make(map[string]*odl.Object, len(ir.Objects))
	for i := range ir.Objects {
		m[ir.Objects[i].Name] = &ir.Objects[i]
	}
	return m
}
