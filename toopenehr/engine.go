// Package toopenehr maps FHIR resources onto flat openEHR compositions.
//
// For every archetype of a context mapping the engine selects the resources
// its model mappings apply to, expands each model into a tree of nodes
// resolved against the web template and evaluates the FHIRPath of every
// node. Results are written under concrete flat paths: the resource index
// fills the first occurrence of a multiple model, nested results inherit
// the indexes of their parent and every remaining occurrence becomes 0.
package toopenehr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/buger/jsonparser"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/condition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/terminology"
	"github.com/vitagroupag/openFHIR-sub001/plan"
	"github.com/vitagroupag/openFHIR-sub001/pool"
	"github.com/vitagroupag/openFHIR-sub001/registry"
	"github.com/vitagroupag/openFHIR-sub001/service"
)

// maxResolveDepth bounds chained resolve() calls in one expression.
const maxResolveDepth = 4

// Engine maps FHIR payloads to flat compositions. It is safe for
// concurrent use.
type Engine struct {
	eval    service.FHIRPathEvaluator
	opts    *openfhir.Options
	writer  *writer
	metrics *openfhir.Metrics
}

// New creates an engine evaluating FHIRPath with eval.
func New(eval service.FHIRPathEvaluator, opts ...openfhir.Option) *Engine {
	return &Engine{
		eval:   eval,
		opts:   openfhir.DefaultOptions().Apply(opts...),
		writer: &writer{terms: terminology.Default()},
	}
}

// WithTerminology replaces the registry used to turn FHIR system URLs into
// openEHR terminology ids.
func (e *Engine) WithTerminology(r *terminology.Registry) *Engine {
	e.writer = &writer{terms: r}
	return e
}

// WithMetrics records every translation of e in m.
func (e *Engine) WithMetrics(m *openfhir.Metrics) *Engine {
	e.metrics = m
	return e
}

// Request is one FHIR to openEHR translation.
type Request struct {
	Entry *registry.Entry
	// Payload is a single resource or a Bundle
	Payload []byte
	// Resolver is consulted for references the Bundle and the contained
	// resources do not resolve. Optional.
	Resolver service.Resolver
}

// Map translates req. Issues are recorded on result, which must not be nil.
func (e *Engine) Map(ctx context.Context, req Request, result *openfhir.Result) (out composition.Flat, err error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordTranslation(openfhir.ToOpenEHR, time.Since(start), err != nil)
			e.metrics.RecordResult(result)
		}
	}()

	if req.Entry == nil {
		return nil, fmt.Errorf("%w: no mapping entry", openfhir.ErrNoContext)
	}
	rt, resources, err := Resources(req.Payload)
	if err != nil {
		return nil, err
	}
	result.TemplateID = openfhir.NormalizeTemplateID(req.Entry.Context.TemplateID())

	fallback := req.Resolver
	if fallback == nil {
		fallback = service.NullResolver{}
	}
	bundle := service.NewBundleResolver(req.Payload)

	r := &run{
		ctx:    ctx,
		eng:    e,
		result: result,
		out:    composition.Flat{},
	}
	matches := make([]int, len(resources))
	for _, archetype := range req.Entry.Archetypes() {
		for _, model := range req.Entry.Mappers[archetype] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			selected := e.selectResources(ctx, model, resources, result)
			if len(selected) == 0 {
				continue
			}
			nodes, err := plan.Expand(req.Entry, model, openfhir.ToOpenEHR, result)
			if err != nil {
				r.issue(openfhir.Warning(openfhir.CodeUnresolvedPath), model.Name(), "", err.Error())
				continue
			}
			if !model.Multiple() && len(selected) > 1 {
				logger.Debug("model %s is not multiple, using the first of %d resources", model.Name(), len(selected))
				selected = selected[:1]
			}
			logger.Debug("model %s applies to %d resource(s): %s", model.Name(), len(selected), plan.LimitingCriteria(model))
			for occ, idx := range selected {
				matches[idx]++
				r.resolver = service.NewResolverChain(service.NewContainedResolver(resources[idx]), bundle, fallback)
				for _, n := range nodes {
					r.walkRoot(n, resources[idx], occ)
				}
			}
			result.AddArchetype(archetype)
		}
	}

	mapped := 0
	for idx, n := range matches {
		switch {
		case n == 0:
			rtype, _ := jsonparser.GetString(resources[idx], "resourceType")
			logger.Debug("no model mapping applies to %s at index %d", rtype, idx)
		case n > 1:
			logger.Info("%d model mappings applied to resource at index %d", n, idx)
			result.AddIssue(openfhir.Info(openfhir.CodeMultipleMappers).
				Diagnostics(fmt.Sprintf("%d model mappings applied to the same resource", n)).
				At(pool.BuildPath(func(b *pool.PathBuilder) {
					b.Member(rt)
					b.Index(idx)
				})).
				Build())
			mapped++
		default:
			mapped++
		}
	}
	if mapped == 0 {
		logger.Error("no model mapping of template %s applies to the %s payload", result.TemplateID, rt)
		result.AddError(openfhir.CodeNoMapper, "no model mapping applies to the payload", rt)
		return nil, fmt.Errorf("%w: template %s, payload %s", openfhir.ErrNoMapper, result.TemplateID, rt)
	}
	return r.out, nil
}

// selectResources returns the indexes of the resources model applies to: the
// resource type matches and every fhirConfig condition holds. Conditions on
// the resource itself hold for every resource of the type.
func (e *Engine) selectResources(ctx context.Context, model *mapping.Model, resources [][]byte, result *openfhir.Result) []int {
	want := model.ResourceType()
	var out []int
	for i, res := range resources {
		rt, _ := jsonparser.GetString(res, "resourceType")
		if want != "" && rt != want {
			continue
		}
		ok := true
		for _, c := range model.Conditions() {
			if condition.TargetsResource(c, rt) {
				continue
			}
			got, err := condition.EvaluateFHIR(ctx, e.eval, c, res, rt, "")
			if err != nil {
				result.AddIssue(openfhir.Warning(openfhir.CodeExpression).
					Diagnostics(err.Error()).
					Mapping(model.Name()).
					Build())
				ok = false
				break
			}
			if !got.Include() {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// Resources returns the resource type of payload and the resources it
// carries: the entry resources of a Bundle, otherwise payload itself.
func Resources(payload []byte) (string, [][]byte, error) {
	rt, err := jsonparser.GetString(payload, "resourceType")
	if err != nil {
		return "", nil, fmt.Errorf("%w: missing resourceType: %v", openfhir.ErrInvalidPayload, err)
	}
	if rt != "Bundle" {
		return rt, [][]byte{payload}, nil
	}
	var out [][]byte
	//nolint:errcheck // an empty Bundle maps to nothing
	jsonparser.ArrayEach(payload, func(entry []byte, _ jsonparser.ValueType, _ int, _ error) {
		if res, _, _, err := jsonparser.Get(entry, "resource"); err == nil {
			out = append(out, res)
		}
	}, "entry")
	return rt, out, nil
}

// run holds the state of one translation.
type run struct {
	ctx      context.Context
	eng      *Engine
	result   *openfhir.Result
	resolver service.Resolver
	out      composition.Flat
}

func (r *run) walkRoot(h *plan.Node, resource []byte, occurrence int) {
	path := h.OpenEHRPath
	if h.Multiple {
		path = paths.ReplaceFirstOccurrence(path, occurrence)
	}
	r.walk(h, resource, path)
}

// walk evaluates h against input and writes below path, which carries the
// indexes known so far.
func (r *run) walk(h *plan.Node, input []byte, path string) {
	if h.Gate != nil {
		got, err := condition.EvaluateFHIR(r.ctx, r.eng.eval, h.Gate, input, h.ResourceType, "")
		if err != nil {
			r.issue(openfhir.Warning(openfhir.CodeExpression), h.Name, path, err.Error())
			return
		}
		if !got.Include() {
			return
		}
	}
	if h.Value != "" {
		r.write(h, path, h.Value)
		return
	}

	values, err := r.evaluate(h.FHIRPath, input, 0)
	if err != nil {
		r.issue(openfhir.Warning(openfhir.CodeExpression), h.Name, path, err.Error())
		return
	}
	if h.Reference {
		values = r.dereference(h, values)
	}
	if len(values) == 0 {
		return
	}

	if len(h.Children) == 0 {
		for i, v := range values {
			p := path
			if len(values) > 1 {
				if !paths.HasOccurrence(p) {
					if i > 0 {
						logger.Debug("mapping %s: %d values for a single occurrence, keeping the first", h.Name, len(values))
						break
					}
				} else {
					p = paths.ReplaceLastOccurrence(p, i)
				}
			}
			r.write(h, p, v)
		}
		return
	}

	for i, v := range values {
		p := path
		if paths.HasOccurrence(p) {
			p = paths.ReplaceLastOccurrence(p, i)
		} else if i > 0 {
			logger.Debug("mapping %s: %d values for a single occurrence, keeping the first", h.Name, len(values))
			break
		}
		if h.OpenEHRType.IsDataValue() {
			r.write(h, p, v)
		}
		raw, ok := v.(json.RawMessage)
		if !ok {
			continue
		}
		for _, c := range h.Children {
			r.walk(c, raw, paths.InheritIndexes(c.OpenEHRPath, p))
		}
	}
}

// evaluate runs expr on input. resolve() calls are answered by the
// reference resolver of the run.
func (r *run) evaluate(expr string, input []byte, depth int) ([]any, error) {
	if expr == "" {
		return []any{json.RawMessage(input)}, nil
	}
	before, after, resolvedType, found := paths.SplitAtResolve(expr)
	if !found {
		return r.eng.eval.Evaluate(r.ctx, expr, input)
	}
	if depth >= maxResolveDepth {
		return nil, fmt.Errorf("too many resolve() calls in %q", expr)
	}
	refs, err := r.evaluate(before, input, depth)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, ref := range refs {
		target, ok := r.resolve(ref)
		if !ok {
			continue
		}
		if resolvedType != "" {
			if rt, _ := jsonparser.GetString(target, "resourceType"); rt != resolvedType {
				continue
			}
		}
		got, err := r.evaluate(after, target, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

func (r *run) resolve(v any) ([]byte, bool) {
	var ref string
	switch x := v.(type) {
	case json.RawMessage:
		ref = service.ReferenceOf(x)
	case string:
		ref = x
	}
	if ref == "" {
		return nil, false
	}
	return r.resolver.Resolve(ref)
}

func (r *run) dereference(h *plan.Node, values []any) []any {
	out := values[:0:0]
	for _, v := range values {
		target, ok := r.resolve(v)
		if !ok {
			r.issue(openfhir.Warning(openfhir.CodeReference), h.Name, h.OpenEHRPath,
				fmt.Sprintf("reference %v could not be resolved", v))
			continue
		}
		out = append(out, json.RawMessage(target))
	}
	return out
}

// write fills the remaining occurrences with 0 and stores v.
func (r *run) write(h *plan.Node, path string, v any) {
	for paths.HasOccurrence(path) {
		path = paths.ReplaceFirstOccurrence(path, 0)
	}
	if !r.eng.writer.populate(r.out, path, h.OpenEHRType, v) {
		logger.Debug("mapping %s: nothing written for %v as %s", h.Name, v, h.OpenEHRType)
	}
}

func (r *run) issue(b *openfhir.IssueBuilder, name, path, msg string) {
	logger.Warn("mapping %s: %s", name, msg)
	r.result.AddIssue(b.Diagnostics(msg).Mapping(name).At(path).Build())
}
