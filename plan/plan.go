// Package plan expands model mappings into request-scoped trees of nodes
// whose openEHR paths are resolved against a web template. Both translation
// directions walk these trees; the parsed mappings stay untouched.
package plan

import (
	"fmt"
	"strings"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/condition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/registry"
	"github.com/vitagroupag/openFHIR-sub001/template"
)

// maxSlotDepth bounds slot archetype nesting.
const maxSlotDepth = 8

// Node is one mapping resolved for a single request.
type Node struct {
	// Name is the dotted name path of the mapping
	Name string
	// FHIRPath is evaluated against the parent's result, or the resource
	// for roots. Empty means the context itself.
	FHIRPath string
	// LimitingCriteria is the resource selection of a root node
	LimitingCriteria string
	// OpenEHRPath is the resolved flat path with occurrence markers
	OpenEHRPath string
	OpenEHRType rmtype.Type
	Archetype   string
	Multiple    bool
	// Value is a hard-coded value written instead of evaluating FHIRPath
	Value string
	// Gate is a condition on the context that could not be folded into
	// FHIRPath
	Gate *mapping.Condition
	// FHIRCondition is the fhirCondition of the mapping, kept for the
	// criteria system when where() clauses are hard-coded
	FHIRCondition *mapping.Condition
	// OpenEHRCondition gates occurrences; its target root is resolved into
	// OpenEHRConditionRoot
	OpenEHRCondition     *mapping.Condition
	OpenEHRConditionRoot string
	// Reference marks nodes whose results are references; children are
	// evaluated against the referenced resources
	Reference    bool
	ResourceType string
	Children     []*Node
}

// Walk calls fn for h and its descendants in depth-first order.
func (h *Node) Walk(fn func(*Node)) {
	fn(h)
	for _, c := range h.Children {
		c.Walk(fn)
	}
}

// expander turns mapping trees into nodes for one model.
type expander struct {
	dir       openfhir.Direction
	entry     *registry.Entry
	wt        *template.WebTemplate
	archetype string
	multiple  bool
	result    *openfhir.Result
}

// Expand builds the node tree of model for the translation direction dir.
// Mappings that cannot be resolved against the template are left out and
// reported on result.
func Expand(entry *registry.Entry, model *mapping.Model, dir openfhir.Direction, result *openfhir.Result) ([]*Node, error) {
	x := &expander{
		dir:       dir,
		entry:     entry,
		wt:        entry.Template,
		archetype: model.Archetype(),
		multiple:  model.Multiple(),
		result:    result,
	}
	root, ok := x.wt.ArchetypePath(x.archetype)
	if !ok {
		return nil, fmt.Errorf("archetype %s is not part of template %q", x.archetype, x.wt.TemplateID)
	}
	limiting := LimitingCriteria(model)
	nodes := x.expand(model.Mappings, "", root, root, model.ResourceType(), 0)
	for _, n := range nodes {
		n.LimitingCriteria = limiting
	}
	return nodes, nil
}

// LimitingCriteria renders the resource selection of model as a FHIRPath
// expression over a Bundle.
func LimitingCriteria(model *mapping.Model) string {
	rt := model.ResourceType()
	expr := "Bundle.entry.resource.ofType(" + rt + ")"
	for _, c := range model.Conditions() {
		if condition.TargetsResource(c, rt) {
			continue
		}
		attrs := condition.TargetExpressions(c, rt, "")
		expr += "." + paths.WhereClause(condition.Operator(c), attrs, paths.ParseCriteria(c.Criteria))
	}
	return expr
}

func (x *expander) expand(list []*mapping.Mapping, prefix, parentPath, root, resourceType string, depth int) []*Node {
	var out []*Node
	for _, m := range list {
		if m == nil {
			continue
		}
		if h := x.expandOne(m, prefix, parentPath, root, resourceType, depth); h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (x *expander) expandOne(m *mapping.Mapping, prefix, parentPath, root, resourceType string, depth int) *Node {
	name := m.Name
	if prefix != "" {
		name = prefix + "." + m.Name
	}
	raw := strings.TrimSpace(m.OpenEHR())
	valueOnly := raw == "" && m.Value() != "" && len(m.Children()) == 0
	switch {
	case strings.HasPrefix(raw, mapping.OpenEHRContext) && x.dir == openfhir.ToOpenEHR:
		logger.Debug("mapping %s: skipping composition context path %s", name, raw)
		return nil
	case valueOnly && x.dir == openfhir.ToOpenEHR:
		logger.Debug("mapping %s: FHIR-only hard-coded value", name)
		return nil
	case valueOnly:
		// hard-coded on every created resource
		return &Node{
			Name:         name,
			FHIRPath:     paths.RelativeFHIRPath(resourceType, paths.RewriteCasts(m.FHIR())),
			OpenEHRPath:  parentPath,
			Archetype:    x.archetype,
			Multiple:     x.multiple,
			Value:        m.Value(),
			ResourceType: resourceType,
		}
	}

	hint := rmtype.ParseHint(m.TypeHint())
	symbolic := x.symbolic(raw, parentPath, root)
	if hint == "" {
		symbolic = attributeSuffix(symbolic)
	}
	res := x.wt.Resolve(symbolic, rmtype.PossibleTypes(hint)...)
	if !res.Resolved {
		x.warn(openfhir.CodeUnresolvedPath, name, symbolic, "openEHR path does not resolve against the template")
		return nil
	}

	h := &Node{
		Name:          name,
		OpenEHRPath:   res.Path,
		OpenEHRType:   res.Type,
		Archetype:     x.archetype,
		Multiple:      x.multiple,
		Value:         m.Value(),
		Reference:     m.Reference != nil,
		ResourceType:  resourceType,
		FHIRCondition: m.FHIRCondition,
	}
	h.FHIRPath, h.Gate = x.fhirPath(m, name, resourceType)
	if c := m.OpenEHRCondition; c != nil {
		croot := x.wt.Resolve(x.symbolic(strings.TrimSpace(c.TargetRoot), symbolic, root))
		if croot.Resolved {
			h.OpenEHRCondition = c
			h.OpenEHRConditionRoot = croot.Path
		} else {
			x.warn(openfhir.CodeUnresolvedPath, name, c.TargetRoot, "openehrCondition target root does not resolve against the template")
		}
	}

	// children resolve below the symbolic path, not the resolved one, so the
	// template search starts from the same place
	switch {
	case m.SlotArchetype != "":
		if depth >= maxSlotDepth {
			x.warn(openfhir.CodeInvalidMapping, name, symbolic, "slot archetypes nested too deep")
			return h
		}
		models := x.entry.Slot(m.SlotArchetype)
		if len(models) == 0 {
			x.warn(openfhir.CodeNoMapper, name, symbolic, "no model mapping for slot archetype "+m.SlotArchetype)
		}
		slotRoot := strings.TrimSuffix(symbolic, "/")
		for _, sm := range models {
			h.Children = append(h.Children, x.expand(sm.Mappings, name, slotRoot, slotRoot, resourceType, depth+1)...)
		}
	case m.Reference != nil:
		rt := m.Reference.ResourceType
		if rt == "" {
			rt = resourceType
		}
		h.Children = x.expand(m.Reference.Mappings, name, symbolic, root, rt, depth)
	}
	h.Children = append(h.Children, x.expand(m.Children(), name, symbolic, root, resourceType, depth)...)
	return h
}

// symbolic expands the placeholders of an openEHR path. Paths without a
// placeholder are relative to the parent mapping.
func (x *expander) symbolic(raw, parent, root string) string {
	if parent == "" {
		parent = root
	}
	switch {
	case raw == "" || raw == mapping.ReferencePath:
		return parent
	case strings.HasPrefix(raw, mapping.OpenEHRArchetype):
		return root + raw[len(mapping.OpenEHRArchetype):]
	case strings.HasPrefix(raw, mapping.OpenEHRRoot):
		return x.wt.Tree.ID + raw[len(mapping.OpenEHRRoot):]
	case strings.HasPrefix(raw, mapping.Composition):
		return x.wt.Tree.ID + raw[len(mapping.Composition):]
	case strings.HasPrefix(raw, mapping.OpenEHRContext):
		return x.wt.Tree.ID + "/context" + raw[len(mapping.OpenEHRContext):]
	case strings.HasPrefix(raw, "|"):
		return parent + raw
	}
	return paths.Join(parent, raw)
}

// attributeSuffix turns a trailing RM attribute segment into a |suffix,
// e.g. ".../weight/magnitude" into ".../weight|magnitude".
func attributeSuffix(p string) string {
	if strings.Contains(p, "|") {
		return p
	}
	i := strings.LastIndex(p, "/")
	if i < 0 || !rmtype.Attributes[p[i+1:]] {
		return p
	}
	return p[:i] + "|" + p[i+1:]
}

// fhirPath returns the expression of m relative to its context with the
// fhirCondition folded in. A condition anchored at the context itself is
// returned as a gate instead.
func (x *expander) fhirPath(m *mapping.Mapping, name, resourceType string) (string, *mapping.Condition) {
	expr := paths.RelativeFHIRPath(resourceType, paths.RewriteCasts(m.FHIR()))
	if expr == mapping.ReferencePath {
		expr = ""
	}
	c := m.FHIRCondition
	if c == nil {
		return expr, nil
	}
	targetRoot := paths.RelativeFHIRPath(resourceType, paths.RewriteCasts(c.TargetRoot))
	if targetRoot == "" || expr == "" {
		return expr, c
	}
	clause := paths.WhereClause(condition.Operator(c), c.Attributes(), paths.ParseCriteria(c.Criteria))
	out, exact := paths.InsertCondition(expr, targetRoot, clause)
	if !exact {
		x.warn(openfhir.CodeConditionFallback, name, out,
			fmt.Sprintf("condition root %q is not a prefix of %q", targetRoot, expr))
	}
	return out, nil
}

func (x *expander) warn(code openfhir.IssueCode, name, path, msg string) {
	logger.Warn("mapping %s: %s (%s)", name, msg, path)
	if x.result != nil {
		x.result.AddIssue(openfhir.Warning(code).
			Diagnostics(msg).
			Mapping(name).
			Archetype(x.archetype).
			At(path).
			Build())
	}
}
