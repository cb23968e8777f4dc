// Package eval applies quality gates to a normalized ontology before it may
// be compiled or deployed. Gates are grouped into structural, semantic, and
// deployability bundles; a threshold profile decides which failures block.
package eval

import (
	"fmt"
	"strings"

	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// Category groups gates by concern.
type Category string

const (
	CategoryStructural    Category = "structural"
	CategorySemantic      Category = "semantic"
	CategoryDeployability Category = "deployability"
)

// Level is the severity of a gate failure.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Profile selects how strictly gate results are enforced.
type Profile string

const (
	// ProfileStrict fails on any gate failure, warnings included.
	ProfileStrict Profile = "strict"
	// ProfileStandard fails only on error-level failures.
	ProfileStandard Profile = "standard"
	// ProfileLenient fails only on deployability errors.
	ProfileLenient Profile = "lenient"
)

// ParseProfile maps a profile name to a Profile, defaulting to standard.
func ParseProfile(s string) Profile {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case ProfileStrict:
		return ProfileStrict
	case ProfileLenient:
		return ProfileLenient
	default:
		return ProfileStandard
	}
}

// Gate is a single named check against the IR.
type Gate struct {
	ID       string
	Category Category
	Level    Level
	Check    func(ir *odl.IR) []string
}

// GateResult records one gate's outcome.
type GateResult struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Level    Level    `json:"level"`
	Passed   bool     `json:"passed"`
	Messages []string `json:"messages,omitempty"`
}

// Result is the full evaluation outcome. Categories maps category to gate id
// to result; FirstFailure is the first failing gate in registration order.
type Result struct {
	Profile      Profile                            `json:"profile"`
	Passed       bool                               `json:"passed"`
	Categories   map[Category]map[string]GateResult `json:"categories"`
	FirstFailure *GateResult                        `json:"first_failure,omitempty"`
	Warnings     int                                `json:"warnings"`
	Errors       int                                `json:"errors"`
}

// Err returns a GATE_FAILED error when the evaluation did not pass, nil
// otherwise.
func (r *Result) Err() error {
	if r.Passed {
		return nil
	}
	msg := "evaluation failed"
	if r.FirstFailure != nil {
		msg = fmt.Sprintf("gate %s failed: %s", r.FirstFailure.ID, strings.Join(r.FirstFailure.Messages, "; "))
	}
	return oerrors.New(oerrors.CodeGateFailed, "%s", msg).WithDetails(map[string]interface{}{
		"profile":  string(r.Profile),
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}

// forbiddenTokens must not appear in metric expressions. The expressions are
// pasted into generated SQL, so statement separators and DDL/DCL keywords
// are rejected outright.
var forbiddenTokens = []string{";", "DROP ", "GRANT "}

// Gates returns the full gate registry in evaluation order.
func Gates() []Gate {
	return []Gate{
		{ID: "no_duplicate_names", Category: CategoryStructural, Level: LevelError, Check: checkNoDuplicateNames},
		{ID: "object_has_identifier", Category: CategoryStructural, Level: LevelError, Check: checkObjectHasIdentifier},
		{ID: "identifier_is_property", Category: CategoryStructural, Level: LevelError, Check: checkIdentifierIsProperty},
		{ID: "property_types_present", Category: CategoryStructural, Level: LevelError, Check: checkPropertyTypesPresent},

		{ID: "join_keys_compatible", Category: CategorySemantic, Level: LevelError, Check: checkJoinKeysCompatible},
		{ID: "dimensions_resolvable", Category: CategorySemantic, Level: LevelError, Check: checkDimensionsResolvable},
		{ID: "metric_grain_valid", Category: CategorySemantic, Level: LevelError, Check: checkMetricGrainValid},
		{ID: "metric_expression_safe", Category: CategorySemantic, Level: LevelError, Check: checkMetricExpressionSafe},
		{ID: "connected_join_graph", Category: CategorySemantic, Level: LevelWarning, Check: checkConnectedJoinGraph},
		{ID: "no_ambiguous_joins", Category: CategorySemantic, Level: LevelWarning, Check: checkNoAmbiguousJoins},

		{ID: "table_mapping_present", Category: CategoryDeployability, Level: LevelError, Check: checkTableMappingPresent},
		{ID: "database_schema_set", Category: CategoryDeployability, Level: LevelError, Check: checkDatabaseSchemaSet},
		{ID: "warehouse_set", Category: CategoryDeployability, Level: LevelWarning, Check: checkWarehouseSet},
	}
}

// Evaluate runs every gate against the IR and applies the profile.
func Evaluate(ir *odl.IR, profile Profile) *Result {
	result := &Result{
		Profile:    profile,
		Categories: make(map[Category]map[string]GateResult),
	}

	for _, gate := range Gates() {
		msgs := gate.Check(ir)
		gr := GateResult{
			ID:       gate.ID,
			Category: gate.Category,
			Level:    gate.Level,
			Passed:   len(msgs) == 0,
			Messages: msgs,
		}
		if result.Categories[gate.Category] == nil {
			result.Categories[gate.Category] = make(map[string]GateResult)
		}
		result.Categories[gate.Category][gate.ID] = gr

		if !gr.Passed {
			if gate.Level == LevelError {
				result.Errors++
			} else {
				result.Warnings++
			}
			if result.FirstFailure == nil && blocks(profile, gate) {
				failed := gr
				result.FirstFailure = &failed
			}
		}
	}

	result.Passed = result.FirstFailure == nil
	return result
}

// blocks reports whether a failure of this gate blocks under the profile.
func blocks(profile Profile, gate Gate) bool {
	switch profile {
	case ProfileStrict:
		return true
	case ProfileLenient:
		return gate.Category == CategoryDeployability && gate.Level == LevelError
	default:
		return gate.Level == LevelError
	}
}

func checkNoDuplicateNames(ir *odl.IR) []string {
	var msgs []string
	check := func(kind string, names []string) {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if seen[n] {
				msgs = append(msgs, fmt.Sprintf("duplicate %s name %q", kind, n))
			}
			seen[n] = true
		}
	}
	var objs, rels, mets, dims []string
	for _, o := range ir.Objects {
		objs = append(objs, o.Name)
	}
	for _, r := range ir.Relationships {
		rels = append(rels, r.Name)
	}
	for _, m := range ir.Metrics {
		mets = append(mets, m.Name)
	}
	for _, d := range ir.Dimensions {
		dims = append(dims, d.Name)
	}
	check("object", objs)
	check("relationship", rels)
	check("metric", mets)
	check("dimension", dims)
	return msgs
}

func checkObjectHasIdentifier(ir *odl.IR) []string {
	var msgs []string
	for _, o := range ir.Objects {
		if len(o.Identifiers) == 0 {
			msgs = append(msgs, fmt.Sprintf("object %q has no identifiers", o.Name))
		}
	}
	return msgs
}

func checkIdentifierIsProperty(ir *odl.IR) []string {
	var msgs []string
	for i := range ir.Objects {
		o := &ir.Objects[i]
		for _, id := range o.Identifiers {
			if o.Property(id) == nil {
				msgs = append(msgs, fmt.Sprintf("identifier %q is not a property of object %q", id, o.Name))
			}
		}
	}
	return msgs
}

func checkPropertyTypesPresent(ir *odl.IR) []string {
	var msgs []string
	for _, o := range ir.Objects {
		for _, p := range o.Properties {
			if p.Type == "" {
				msgs = append(msgs, fmt.Sprintf("property %s.%s has no type", o.Name, p.Name))
			}
		}
	}
	return msgs
}

func checkJoinKeysCompatible(ir *odl.IR) []string {
	var msgs []string
	for _, rel := range ir.Relationships {
		from := ir.Object(rel.From)
		to := ir.Object(rel.To)
		if from == nil || to == nil {
			msgs = append(msgs, fmt.Sprintf("relationship %q references undeclared objects", rel.Name))
			continue
		}
		for _, jk := range rel.JoinKeys {
			fp := from.Property(jk.From)
			tp := to.Property(jk.To)
			if fp == nil || tp == nil {
				msgs = append(msgs, fmt.Sprintf("relationship %q join key %s/%s does not resolve", rel.Name, jk.From, jk.To))
				continue
			}
			if !odl.CompatibleTypes(fp.Type, tp.Type) {
				msgs = append(msgs, fmt.Sprintf("relationship %q joins %s(%s) to %s(%s)",
					rel.Name, jk.From, fp.Type, jk.To, tp.Type))
			}
		}
	}
	return msgs
}

func checkDimensionsResolvable(ir *odl.IR) []string {
	var msgs []string
	for _, d := range ir.Dimensions {
		parts := strings.SplitN(d.SourceProperty, ".", 2)
		if len(parts) != 2 {
			msgs = append(msgs, fmt.Sprintf("dimension %q source %q is not Object.property", d.Name, d.SourceProperty))
			continue
		}
		obj := ir.Object(parts[0])
		if obj == nil || obj.Property(parts[1]) == nil {
			msgs = append(msgs, fmt.Sprintf("dimension %q source %q does not resolve", d.Name, d.SourceProperty))
		}
	}
	return msgs
}

func checkMetricGrainValid(ir *odl.IR) []string {
	var msgs []string
	for _, m := range ir.Metrics {
		if len(m.Grain) == 0 {
			msgs = append(msgs, fmt.Sprintf("metric %q has an empty grain", m.Name))
			continue
		}
		for _, g := range m.Grain {
			if ir.Object(g) == nil {
				msgs = append(msgs, fmt.Sprintf("metric %q grain references unknown object %q", m.Name, g))
			}
		}
	}
	return msgs
}

func checkMetricExpressionSafe(ir *odl.IR) []string {
	var msgs []string
	for _, m := range ir.Metrics {
		if m.Expression == "" {
			msgs = append(msgs, fmt.Sprintf("metric %q has an empty expression", m.Name))
			continue
		}
		upper := strings.ToUpper(m.Expression)
		for _, tok := range forbiddenTokens {
			if strings.Contains(upper, tok) {
				msgs = append(msgs, fmt.Sprintf("metric %q expression contains forbidden token %q", m.Name, strings.TrimSpace(tok)))
			}
		}
	}
	return msgs
}

// checkConnectedJoinGraph flags objects unreachable from the rest of the
// model. A disconnected object cannot participate in cross-object queries,
// which is usually an authoring mistake rather than an error.
func checkConnectedJoinGraph(ir *odl.IR) []string {
	if len(ir.Objects) <= 1 {
		return nil
	}
	adj := make(map[string][]string)
	for _, rel := range ir.Relationships {
		adj[rel.From] = append(adj[rel.From], rel.To)
		adj[rel.To] = append(adj[rel.To], rel.From)
	}

	visited := make(map[string]bool)
	queue := []string{ir.Objects[0].Name}
	visited[queue[0]] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	var msgs []string
	for _, o := range ir.Objects {
		if !visited[o.Name] {
			msgs = append(msgs, fmt.Sprintf("object %q is not connected to the join graph", o.Name))
		}
	}
	return msgs
}

// checkNoAmbiguousJoins flags object pairs joined by more than one
// relationship; query generators cannot pick a path deterministically.
func checkNoAmbiguousJoins(ir *odl.IR) []string {
	var msgs []string
	seen := make(map[string]string)
	for _, rel := range ir.Relationships {
		a, b := rel.From, rel.To
		if b < a {
			a, b = b, a
		}
		key := a + "/" + b
		if prev, ok := seen[key]; ok {
			msgs = append(msgs, fmt.Sprintf("relationships %q and %q both join %s and %s", prev, rel.Name, a, b))
			continue
		}
		seen[key] = rel.Name
	}
	return msgs
}

func checkTableMappingPresent(ir *odl.IR) []string {
	var msgs []string
	for i := range ir.Objects {
		o := &ir.Objects[i]
		if o.Table != "" {
			continue
		}
		if ir.Target != nil {
			if t, ok := ir.Target.TableMappings[o.Name]; ok && t != "" {
				continue
			}
		}
		msgs = append(msgs, fmt.Sprintf("object %q has no table mapping", o.Name))
	}
	return msgs
}

func checkDatabaseSchemaSet(ir *odl.IR) []string {
	globalDB := ir.Target != nil && ir.Target.Database != ""
	globalSchema := ir.Target != nil && ir.Target.Schema != ""
	var msgs []string
	for _, o := range ir.Objects {
		if !globalDB && o.Database == "" {
			msgs = append(msgs, fmt.Sprintf("object %q has no database (and no global default)", o.Name))
		}
		if !globalSchema && o.Schema == "" {
			msgs = append(msgs, fmt.Sprintf("object %q has no schema (and no global default)", o.Name))
		}
	}
	return msgs
}

func checkWarehouseSet(ir *odl.IR) []string {
	if ir.Target == nil || ir.Target.Warehouse == "" {
		return []string{"no warehouse specified in target mapping"}
	}
	return nil
}
