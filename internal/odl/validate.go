package odl

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// namePattern constrains every declared name in a document.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Issue is a single validation finding at a JSON-pointer-style path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s", i.Path, i.Message) }

// Validate runs structural validation and, only if it passes, referential
// validation. The returned error is tagged INVALID_STRUCTURE or
// INVALID_REFERENCE and carries the full ordered issue list in its details.
func Validate(doc *Document) error {
	if issues := validateStructure(doc); len(issues) > 0 {
		return issueError(oerrors.CodeInvalidStructure, issues)
	}
	if issues := validateReferences(doc); len(issues) > 0 {
		return issueError(oerrors.CodeInvalidReference, issues)
	}
	return nil
}

func issueError(code oerrors.Code, issues []Issue) error {
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.String()
	}
	return oerrors.New(code, "%d validation error(s): %s", len(issues), strings.Join(msgs, "; ")).
		WithDetails(map[string]interface{}{"issues": issues})
}

// validateStructure checks shape only: required fields, name syntax, and
// enum membership. No cross-references are resolved here.
func validateStructure(doc *Document) []Issue {
	var issues []Issue
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(doc.Version) == "" {
		add("/version", "version is required")
	}
	if len(doc.Objects) == 0 {
		add("/objects", "at least one object is required")
	}

	for i, obj := range doc.Objects {
		base := fmt.Sprintf("/objects/%d", i)
		checkName(&issues, base+"/name", obj.Name)
		if len(obj.Identifiers) == 0 {
			add(base+"/identifiers", "object %q must declare at least one identifier", obj.Name)
		}
		if len(obj.Properties) == 0 {
			add(base+"/properties", "object %q must declare at least one property", obj.Name)
		}
		for j, p := range obj.Properties {
			pbase := fmt.Sprintf("%s/properties/%d", base, j)
			checkName(&issues, pbase+"/name", p.Name)
			if strings.TrimSpace(p.Type) == "" {
				add(pbase+"/type", "property type is required")
			} else if !propertyTypes[strings.TrimSpace(p.Type)] {
				add(pbase+"/type", "unknown property type %q", p.Type)
			}
		}
	}

	for i, rel := range doc.Relationships {
		base := fmt.Sprintf("/relationships/%d", i)
		checkName(&issues, base+"/name", rel.Name)
		if strings.TrimSpace(rel.From) == "" {
			add(base+"/from", "from object is required")
		}
		if strings.TrimSpace(rel.To) == "" {
			add(base+"/to", "to object is required")
		}
		if len(rel.JoinKeys) == 0 {
			add(base+"/joinKeys", "at least one join key pair is required")
		}
		for j, jk := range rel.JoinKeys {
			if len(jk) != 2 || strings.TrimSpace(jk[0]) == "" || strings.TrimSpace(jk[1]) == "" {
				add(fmt.Sprintf("%s/joinKeys/%d", base, j), "join key must be a [from, to] property pair")
			}
		}
		if rel.Cardinality != "" && !cardinalities[strings.TrimSpace(rel.Cardinality)] {
			add(base+"/cardinality", "unknown cardinality %q", rel.Cardinality)
		}
	}

	for i, m := range doc.Metrics {
		base := fmt.Sprintf("/metrics/%d", i)
		checkName(&issues, base+"/name", m.Name)
		if strings.TrimSpace(m.Expression) == "" {
			add(base+"/expression", "metric expression is required")
		}
		if m.Type != "" && !metricTypes[strings.TrimSpace(m.Type)] {
			add(base+"/type", "unknown metric type %q", m.Type)
		}
	}

	for i, d := range doc.Dimensions {
		base := fmt.Sprintf("/dimensions/%d", i)
		checkName(&issues, base+"/name", d.Name)
		sp := strings.TrimSpace(d.SourceProperty)
		if sp == "" {
			add(base+"/sourceProperty", "sourceProperty is required")
		} else if !strings.Contains(sp, ".") {
			add(base+"/sourceProperty", "sourceProperty must be Object.property, got %q", d.SourceProperty)
		}
		if d.Type != "" && !propertyTypes[strings.TrimSpace(d.Type)] {
			add(base+"/type", "unknown dimension type %q", d.Type)
		}
	}

	return issues
}

func checkName(issues *[]Issue, path, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		*issues = append(*issues, Issue{Path: path, Message: "name is required"})
		return
	}
	if !namePattern.MatchString(name) {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("name %q must match %s", name, namePattern.String()),
		})
	}
}

// validateReferences checks that every cross-reference resolves against the
// declarations in the same document. It assumes validateStructure passed.
func validateReferences(doc *Document) []Issue {
	var issues []Issue
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	objects := make(map[string]*ObjectDef, len(doc.Objects))
	for i := range doc.Objects {
		obj := &doc.Objects[i]
		name := strings.TrimSpace(obj.Name)
		if _, dup := objects[name]; dup {
			add(fmt.Sprintf("/objects/%d/name", i), "duplicate object name %q", name)
			continue
		}
		objects[name] = obj
	}

	hasProperty := func(obj *ObjectDef, name string) *PropertyDef {
		for j := range obj.Properties {
			if strings.TrimSpace(obj.Properties[j].Name) == name {
				return &obj.Properties[j]
			}
		}
		return nil
	}

	for i, obj := range doc.Objects {
		for j, id := range obj.Identifiers {
			if hasProperty(&doc.Objects[i], strings.TrimSpace(id)) == nil {
				add(fmt.Sprintf("/objects/%d/identifiers/%d", i, j),
					"identifier %q does not name a property of object %q", id, obj.Name)
			}
		}
		seen := make(map[string]bool, len(obj.Properties))
		for j, p := range obj.Properties {
			name := strings.TrimSpace(p.Name)
			if seen[name] {
				add(fmt.Sprintf("/objects/%d/properties/%d/name", i, j),
					"duplicate property name %q on object %q", name, obj.Name)
			}
			seen[name] = true
		}
	}

	for i, rel := range doc.Relationships {
		base := fmt.Sprintf("/relationships/%d", i)
		from, fromOK := objects[strings.TrimSpace(rel.From)]
		if !fromOK {
			add(base+"/from", "relationship %q references unknown object %q", rel.Name, rel.From)
		}
		to, toOK := objects[strings.TrimSpace(rel.To)]
		if !toOK {
			add(base+"/to", "relationship %q references unknown object %q", rel.Name, rel.To)
		}
		if !fromOK || !toOK {
			continue
		}
		for j, jk := range rel.JoinKeys {
			jkBase := fmt.Sprintf("%s/joinKeys/%d", base, j)
			fp := hasProperty(from, strings.TrimSpace(jk[0]))
			if fp == nil {
				add(jkBase, "join key %q is not a property of %q", jk[0], rel.From)
			}
			tp := hasProperty(to, strings.TrimSpace(jk[1]))
			if tp == nil {
				add(jkBase, "join key %q is not a property of %q", jk[1], rel.To)
			}
			if fp != nil && tp != nil {
				ft := strings.TrimSpace(fp.Type)
				tt := strings.TrimSpace(tp.Type)
				if !CompatibleTypes(ft, tt) {
					add(jkBase, "join key types are incompatible: %s.%s is %s, %s.%s is %s",
						rel.From, jk[0], ft, rel.To, jk[1], tt)
				}
			}
		}
	}

	for i, m := range doc.Metrics {
		for j, g := range m.Grain {
			if _, ok := objects[strings.TrimSpace(g)]; !ok {
				add(fmt.Sprintf("/metrics/%d/grain/%d", i, j),
					"metric %q grain references unknown object %q", m.Name, g)
			}
		}
	}

	for i, d := range doc.Dimensions {
		sp := strings.TrimSpace(d.SourceProperty)
		parts := strings.SplitN(sp, ".", 2)
		obj, ok := objects[parts[0]]
		if !ok {
			add(fmt.Sprintf("/dimensions/%d/sourceProperty", i),
				"dimension %q references unknown object %q", d.Name, parts[0])
			continue
		}
		if hasProperty(obj, parts[1]) == nil {
			add(fmt.Sprintf("/dimensions/%d/sourceProperty", i),
				"dimension %q references unknown property %q on object %q", d.Name, parts[1], parts[0])
		}
	}

	if doc.TargetMapping != nil {
		keys := make([]string, 0, len(doc.TargetMapping.TableMappings))
		for key := range doc.TargetMapping.TableMappings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, ok := objects[strings.TrimSpace(key)]; !ok {
				add("/targetMapping/tableMappings/"+key,
					"table mapping references unknown object %q", key)
			}
		}
	}

	return issues
}
