// Package tofhir maps flat openEHR compositions onto FHIR resources.
//
// The openEHR side drives iteration: every occurrence of a model's first
// repeating node becomes one resource (or all data one resource when the
// model is not multiple), and every occurrence below spawns one instance of
// the FHIR fragment its mapping names. FHIRPath expressions are used to
// instantiate elements; leaves sharing an occurrence and a path prefix
// populate the same element.
package tofhir

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/condition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/fhirschema"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/pkg/terminology"
	"github.com/vitagroupag/openFHIR-sub001/plan"
	"github.com/vitagroupag/openFHIR-sub001/registry"
)

// Engine maps flat compositions to FHIR Bundles. It is safe for concurrent
// use.
type Engine struct {
	opts    *openfhir.Options
	terms   *terminology.Registry
	metrics *openfhir.Metrics
	newID   func() string
}

// New creates an engine.
func New(opts ...openfhir.Option) *Engine {
	return &Engine{
		opts:  openfhir.DefaultOptions().Apply(opts...),
		terms: terminology.Default(),
	}
}

// WithTerminology replaces the registry used to turn openEHR terminology
// ids into FHIR system URLs.
func (e *Engine) WithTerminology(r *terminology.Registry) *Engine {
	e.terms = r
	return e
}

// WithMetrics records every translation of e in m.
func (e *Engine) WithMetrics(m *openfhir.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithIDs replaces the generator of resource ids.
func (e *Engine) WithIDs(fn func() string) *Engine {
	e.newID = fn
	return e
}

// Request is one openEHR to FHIR translation.
type Request struct {
	Entry *registry.Entry
	Flat  composition.Flat
}

// Map translates req into a collection Bundle. Issues are recorded on
// result, which must not be nil.
func (e *Engine) Map(ctx context.Context, req Request, result *openfhir.Result) (bundle *r4.Bundle, err error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordTranslation(openfhir.ToFHIR, time.Since(start), err != nil)
			e.metrics.RecordResult(result)
		}
	}()

	if req.Entry == nil {
		return nil, fmt.Errorf("%w: no mapping entry", openfhir.ErrNoContext)
	}
	result.TemplateID = openfhir.NormalizeTemplateID(req.Entry.Context.TemplateID())

	r := &run{
		eng:    e,
		result: result,
		flat:   req.Flat,
		keys:   req.Flat.Keys(),
		b:      newBuilder(),
	}
	if e.newID != nil {
		r.b.newID = e.newID
	}

	for _, archetype := range req.Entry.Archetypes() {
		for _, model := range req.Entry.Mappers[archetype] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			nodes, err := plan.Expand(req.Entry, model, openfhir.ToFHIR, result)
			if err != nil {
				r.issue(openfhir.Warning(openfhir.CodeUnresolvedPath), model.Name(), "", err.Error())
				continue
			}
			if r.mapModel(model, nodes) > 0 {
				result.AddArchetype(archetype)
			}
		}
	}
	if len(r.resources) == 0 {
		logger.Info("no resources created for template %s", result.TemplateID)
		result.AddWarning(openfhir.CodeNoMapper, "no model mapping produced a resource", result.TemplateID)
	}
	return r.bundle(), nil
}

// run holds the state of one translation.
type run struct {
	eng       *Engine
	result    *openfhir.Result
	flat      composition.Flat
	keys      []string
	b         *builder
	resources []*element
}

// mapModel creates the resources of one model and returns how many.
func (r *run) mapModel(model *mapping.Model, nodes []*plan.Node) int {
	rt := model.ResourceType()
	if rt == "" {
		r.issue(openfhir.Warning(openfhir.CodeInvalidMapping), model.Name(), "", "model mapping names no resource type")
		return 0
	}
	groups := []paths.Group{{}}
	if prefix := occurrencePrefix(nodes); prefix != "" && model.Multiple() {
		groups = paths.GroupKeys(r.keys, prefix)
	}

	created := 0
	for _, g := range groups {
		res, err := r.b.resource(rt)
		if err != nil {
			r.issue(openfhir.Error(openfhir.CodeInstantiation), model.Name(), g.Path, err.Error())
			return created
		}
		r.b.created = r.b.created[:0]
		written := false
		var literals []*plan.Node
		for _, n := range nodes {
			if n.Value != "" {
				literals = append(literals, n)
				continue
			}
			if r.walk(n, res, g.Path) {
				written = true
			}
		}
		if !written {
			logger.Debug("model %s: no data for occurrence %q", model.Name(), g.Path)
			continue
		}
		for _, n := range literals {
			r.hardcodeValue(n, res, g.Path)
		}
		r.hardcodeConditions(model, res)
		r.resources = append(r.resources, res)
		r.resources = append(r.resources, r.b.created...)
		created++
	}
	return created
}

// occurrencePrefix returns the path up to the first occurrence marker of
// the first node that has one.
func occurrencePrefix(nodes []*plan.Node) string {
	for _, n := range nodes {
		if i := strings.Index(n.OpenEHRPath, paths.Occurrence); i >= 0 {
			return n.OpenEHRPath[:i+len(paths.Occurrence)]
		}
	}
	return ""
}

// walk maps the occurrences of n below parentPath into owner and reports
// whether any value was written.
func (r *run) walk(n *plan.Node, owner *element, parentPath string) bool {
	path := paths.InheritIndexes(n.OpenEHRPath, parentPath)
	if n.Value != "" {
		r.hardcodeValue(n, owner, parentPath)
		return false
	}
	bare, suffix := paths.SplitSuffix(path)
	groups := paths.GroupKeys(r.keys, bare)
	if n.OpenEHRCondition != nil {
		groups = condition.FilterOccurrences(n.OpenEHRCondition, r.flat, groups, n.OpenEHRConditionRoot)
	}
	if len(groups) == 0 {
		return false
	}
	hint := rmtype.HintFor(n.OpenEHRType)
	system := criteriaSystem(n.FHIRCondition)

	written := false
	for _, g := range groups {
		occ := paths.Signature(g.Path)
		o := read(r.flat, g)
		shape := r.eng.shaper(o, n.OpenEHRType, suffix)

		if len(n.Children) == 0 {
			if o.empty() {
				continue
			}
			ok, err := r.b.assign(owner, n.FHIRPath, occ, hint, system, shape)
			if err != nil {
				r.issue(openfhir.Warning(openfhir.CodeInstantiation), n.Name, g.Path, err.Error())
				continue
			}
			written = written || ok
			continue
		}

		el := owner
		if n.FHIRPath != "" {
			located, meta, err := r.b.locate(owner, n.FHIRPath, occ, hint, system)
			if err != nil {
				r.issue(openfhir.Warning(openfhir.CodeInstantiation), n.Name, g.Path, err.Error())
				continue
			}
			el = located
			if n.OpenEHRType.IsDataValue() && !o.empty() {
				if v, ok := shape(meta); ok && merge(el, v) {
					written = true
				}
			}
		}
		if n.Gate != nil {
			r.hardcodeCondition(el, n.Gate, "")
		}
		if n.Reference && len(n.Children) > 0 {
			target, err := r.b.target(el, occ, n.Children[0].ResourceType)
			if err != nil {
				r.issue(openfhir.Warning(openfhir.CodeReference), n.Name, g.Path, err.Error())
				continue
			}
			el = target
		}
		for _, c := range n.Children {
			if r.walk(c, el, g.Path) {
				written = true
			}
		}
	}
	return written
}

// hardcodeValue writes the literal of n below owner.
func (r *run) hardcodeValue(n *plan.Node, owner *element, parentPath string) {
	if n.FHIRPath == "" {
		return
	}
	literal := n.Value
	shape := func(el *fhirschema.Element) (any, bool) {
		if el != nil && !el.Primitive && el.TypeName == "CodeableConcept" {
			return map[string]any{"text": literal}, true
		}
		return coerce(literal, el)
	}
	occ := paths.Signature(parentPath)
	if _, err := r.b.assign(owner, n.FHIRPath, occ, rmtype.HintString, criteriaSystem(n.FHIRCondition), shape); err != nil {
		r.issue(openfhir.Warning(openfhir.CodeValue), n.Name, parentPath, err.Error())
	}
}

// hardcodeConditions sets the attributes the fhirConfig conditions of
// model test where res does not carry them yet.
func (r *run) hardcodeConditions(model *mapping.Model, res *element) {
	for _, c := range model.Conditions() {
		r.hardcodeCondition(res, c, model.ResourceType())
	}
}

func (r *run) hardcodeCondition(el *element, c *mapping.Condition, resourceType string) {
	if !strings.EqualFold(condition.Operator(c), mapping.OperatorOneOf) {
		return
	}
	values := paths.ParseCriteria(c.Criteria)
	if len(values) == 0 {
		return
	}
	for _, attr := range condition.TargetExpressions(c, resourceType, "") {
		if attr == "" || has(el, attr) {
			continue
		}
		r.b.setAttribute(el, attr, values[0], paths.CriteriaSystem(c.Criteria))
	}
}

func criteriaSystem(c *mapping.Condition) string {
	if c == nil {
		return ""
	}
	return paths.CriteriaSystem(c.Criteria)
}

// bundle decodes every created resource into its typed form. Resources
// that do not decode are left out with an error issue.
func (r *run) bundle() *r4.Bundle {
	typ := r4.BundleTypeCollection
	b := &r4.Bundle{ResourceType: "Bundle", Type: &typ}
	for _, el := range r.resources {
		data, err := json.Marshal(el.JSON())
		if err != nil {
			r.result.AddError(openfhir.CodeInstantiation, err.Error(), el.typ.Name)
			continue
		}
		res, err := r4.UnmarshalResource(data)
		if err != nil {
			logger.Error("created %s does not decode: %v", el.typ.Name, err)
			r.result.AddError(openfhir.CodeInstantiation, err.Error(), el.typ.Name)
			continue
		}
		fullURL := "urn:uuid:" + el.resourceID()
		b.Entry = append(b.Entry, r4.BundleEntry{FullUrl: &fullURL, Resource: res})
	}
	return b
}

func (r *run) issue(b *openfhir.IssueBuilder, name, path, msg string) {
	logger.Warn("mapping %s: %s", name, msg)
	r.result.AddIssue(b.Diagnostics(msg).Mapping(name).At(path).Build())
}
