// Package drift detects divergence between a deployed ontology and the
// live warehouse: schema changes under mapped tables (mapping drift) and
// out-of-band edits to the semantic view itself (view drift).
package drift

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chinmayajena/sundaygraph/internal/diff"
	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

// Event types.
const (
	EventColumnAdded       = "COLUMN_ADDED"
	EventColumnDropped     = "COLUMN_DROPPED"
	EventColumnRenamed     = "COLUMN_RENAMED"
	EventColumnTypeChanged = "COLUMN_TYPE_CHANGED"
	EventTableMissing      = "TABLE_MISSING"
	EventYAMLDiverged      = "YAML_DIVERGED"
	EventManualEdit        = "MANUAL_EDIT_SUSPECTED"
)

// renameDistance is the maximum Levenshtein distance at which a dropped
// plus added column pair with matching types is folded into one rename.
const renameDistance = 2

// manualEditThreshold is the changed-line count above which a diverged view
// additionally raises MANUAL_EDIT_SUSPECTED.
const manualEditThreshold = 5

// Event is one drift discovery. DetailsHash identifies the event content
// for open-event deduplication.
type Event struct {
	Ontology    string                 `json:"ontology"`
	Type        string                 `json:"event_type"`
	Subject     string                 `json:"subject"`
	Details     map[string]interface{} `json:"details,omitempty"`
	DetailsHash string                 `json:"details_hash"`
}

func newEvent(ontology, eventType, subject string, details map[string]interface{}) Event {
	e := Event{Ontology: ontology, Type: eventType, Subject: subject, Details: details}
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", details))
	}
	sum := sha256.Sum256(append([]byte(subject+"\x00"), payload...))
	e.DetailsHash = hex.EncodeToString(sum[:])
	return e
}

// Detector probes the warehouse for drift against a deployed version.
type Detector struct {
	adapter warehouse.Adapter
}

// New creates a Detector over the given adapter.
func New(adapter warehouse.Adapter) *Detector {
	return &Detector{adapter: adapter}
}

// DetectMappingDrift compares each mapped object's catalog table to the
// ontology's property set. Events come back in a deterministic order:
// objects in IR order, columns sorted by name.
func (d *Detector) DetectMappingDrift(ctx context.Context, ontology string, ir *odl.IR) ([]Event, error) {
	globalDB, globalSchema := "", ""
	if ir.Target != nil {
		globalDB = ir.Target.Database
		globalSchema = ir.Target.Schema
	}

	// Catalogs are fetched once per database.schema pair.
	catalogs := make(map[string]map[string]*warehouse.Table)
	var events []Event

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
		table := ir.TableFor(obj)

		catalogKey := db + "." + schema
		catalog, ok := catalogs[catalogKey]
		if !ok {
			var err error
			catalog, err = d.adapter.ListCatalog(ctx, db, schema)
			if err != nil {
				return nil, err
			}
			catalogs[catalogKey] = catalog
		}

		live, ok := catalog[strings.ToUpper(table)]
		if !ok {
			events = append(events, newEvent(ontology, EventTableMissing, obj.Name, map[string]interface{}{
				"table": table,
			}))
			continue
		}
		events = append(events, compareColumns(ontology, obj, table, live)...)
	}

	logging.Drift("mapping drift probe for %q found %d event(s)", ontology, len(events))
	return events, nil
}

// compareColumns diffs one object's properties against its live table.
func compareColumns(ontology string, obj *odl.Object, table string, live *warehouse.Table) []Event {
	declared := make(map[string]string, len(obj.Properties))
	for _, p := range obj.Properties {
		declared[strings.ToLower(p.Name)] = coarseType(p.Type)
	}
	actual := make(map[string]string, len(live.Columns))
	for _, c := range live.Columns {
		actual[strings.ToLower(c.Name)] = coarseType(c.Type)
	}

	var dropped, added []string
	for name := range declared {
		if _, ok := actual[name]; !ok {
			dropped = append(dropped, name)
		}
	}
	for name := range actual {
		if _, ok := declared[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(dropped)
	sort.Strings(added)

	var events []Event
	renamedFrom := make(map[string]bool)
	renamedTo := make(map[string]bool)

	// A drop and an add that differ by a couple of characters with the
	// same coarse type is almost always a rename.
	for _, from := range dropped {
		for _, to := range added {
			if renamedTo[to] {
				continue
			}
			if levenshtein(from, to) <= renameDistance && declared[from] == actual[to] {
				renamedFrom[from] = true
				renamedTo[to] = true
				events = append(events, newEvent(ontology, EventColumnRenamed, obj.Name, map[string]interface{}{
					"table": table,
					"from":  from,
					"to":    to,
				}))
				break
			}
		}
	}

	for _, name := range dropped {
		if renamedFrom[name] {
			continue
		}
		events = append(events, newEvent(ontology, EventColumnDropped, obj.Name, map[string]interface{}{
			"table":  table,
			"column": name,
		}))
	}
	for _, name := range added {
		if renamedTo[name] {
			continue
		}
		events = append(events, newEvent(ontology, EventColumnAdded, obj.Name, map[string]interface{}{
			"table":  table,
			"column": name,
		}))
	}

	var shared []string
	for name := range declared {
		if _, ok := actual[name]; ok {
			shared = append(shared, name)
		}
	}
	sort.Strings(shared)
	for _, name := range shared {
		if declared[name] != actual[name] {
			events = append(events, newEvent(ontology, EventColumnTypeChanged, obj.Name, map[string]interface{}{
				"table":    table,
				"column":   name,
				"expected": declared[name],
				"actual":   actual[name],
			}))
		}
	}

	return events
}

// DetectViewDrift exports the live semantic view and compares it, under
// normalization, to the YAML the compiler would emit for the deployed
// version. A missing live view is reported as divergence.
func (d *Detector) DetectViewDrift(ctx context.Context, ontology, viewFQN string, expectedYAML []byte) ([]Event, error) {
	live, found, err := d.adapter.ExportExisting(ctx, viewFQN)
	if err != nil {
		return nil, err
	}
	if !found {
		return []Event{newEvent(ontology, EventYAMLDiverged, viewFQN, map[string]interface{}{
			"reason": "live view not found",
		})}, nil
	}

	expected := normalizeYAML(string(expectedYAML))
	actual := normalizeYAML(live)
	if expected == actual {
		logging.Drift("view drift probe for %s found no divergence", viewFQN)
		return nil, nil
	}

	td := diff.CompareText("expected", "live", expected, actual)
	events := []Event{newEvent(ontology, EventYAMLDiverged, viewFQN, map[string]interface{}{
		"changed_lines": td.ChangedLines(),
		"diff":          td.Unified(),
	})}

	if td.ChangedLines() > manualEditThreshold {
		events = append(events, newEvent(ontology, EventManualEdit, viewFQN, map[string]interface{}{
			"changed_lines": td.ChangedLines(),
		}))
	}

	logging.Drift("view drift probe for %s found %d changed line(s)", viewFQN, td.ChangedLines())
	return events, nil
}

// normalizeYAML strips comment lines and trailing whitespace so provenance
// headers and formatting noise never count as drift.
func normalizeYAML(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			continue
		}
		kept = append(kept, trimmed)
	}
	out := strings.Join(kept, "\n")
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return out
	}
	return out + "\n"
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}

	prev := make([]int, len(br)+1)
	cur := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		cur[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(br)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// coarseType folds both ODL property types and warehouse column types into
// comparable families.
func coarseType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "string", "varchar", "text", "char", "character":
		return "string"
	case "number", "decimal", "integer", "int", "bigint", "float", "numeric", "double":
		return "number"
	case "boolean", "bool":
		return "boolean"
	case "date", "timestamp", "timestamp_ntz", "timestamp_tz", "timestamp_ltz", "datetime", "time":
		return "datetime"
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}
