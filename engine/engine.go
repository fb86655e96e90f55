// Package engine is the entry point for translating between FHIR and
// openEHR. It picks the mapping set of a payload, runs the direction's
// engine and serializes the result.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/condition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
	"github.com/vitagroupag/openFHIR-sub001/pkg/terminology"
	"github.com/vitagroupag/openFHIR-sub001/registry"
	"github.com/vitagroupag/openFHIR-sub001/service"
	"github.com/vitagroupag/openFHIR-sub001/tofhir"
	"github.com/vitagroupag/openFHIR-sub001/toopenehr"
	"github.com/vitagroupag/openFHIR-sub001/worker"
)

// Engine translates payloads in both directions. It is safe for
// concurrent use.
type Engine struct {
	options *openfhir.Options

	registry  *registry.Registry
	evaluator service.FHIRPathEvaluator
	resolver  service.Resolver
	defaults  composition.Defaults

	toOpenEHR *toopenehr.Engine
	toFHIR    *tofhir.Engine

	metrics *openfhir.Metrics
}

// New creates an engine reading mappings and templates from the given
// stores.
func New(mappings service.MappingStore, templates service.TemplateStore, opts ...openfhir.Option) *Engine {
	options := openfhir.DefaultOptions().Apply(opts...)
	metrics := openfhir.NewMetrics()
	eval := service.NewFHIRPathAdapter(options.ExpressionCacheSize)

	return &Engine{
		options:   options,
		registry:  registry.New(mappings, templates, opts...).WithMetrics(metrics),
		evaluator: eval,
		defaults:  composition.DefaultsFrom(options),
		toOpenEHR: toopenehr.New(eval, opts...).WithMetrics(metrics),
		toFHIR:    tofhir.New(opts...).WithMetrics(metrics),
		metrics:   metrics,
	}
}

// SetResolver sets the resolver consulted for references that neither the
// Bundle nor the contained resources of a payload resolve.
func (e *Engine) SetResolver(r service.Resolver) {
	e.resolver = r
}

// SetTerminology replaces the registry mapping FHIR code systems to
// openEHR terminology ids in both directions.
func (e *Engine) SetTerminology(r *terminology.Registry) {
	e.toOpenEHR.WithTerminology(r)
	e.toFHIR.WithTerminology(r)
}

// SetDefaults replaces the composition defaults, e.g. to pin the clock.
func (e *Engine) SetDefaults(d composition.Defaults) {
	e.defaults = d
}

// ToOpenEHR translates a FHIR resource or Bundle into a composition of the
// template templateID. An empty templateID selects the context whose FHIR
// condition matches the payload. The composition is canonical JSON unless
// flat is set.
func (e *Engine) ToOpenEHR(ctx context.Context, payload []byte, templateID string, flat bool) ([]byte, *openfhir.Result, error) {
	result := e.newResult()

	entry, err := e.contextForFHIR(ctx, payload, templateID)
	if err != nil {
		return nil, result, err
	}
	out, err := e.toOpenEHR.Map(ctx, toopenehr.Request{
		Entry:    entry,
		Payload:  payload,
		Resolver: e.resolver,
	}, result)
	if err != nil {
		return nil, result, err
	}

	if flat {
		data, err := out.Marshal()
		return data, result, err
	}
	comp, dropped := composition.Unflatten(entry.Template, out, e.defaults)
	for _, k := range dropped {
		result.AddWarning(openfhir.CodeUnresolvedPath, "flat path is not part of the template", k)
	}
	data, err := json.Marshal(comp)
	return data, result, err
}

// ToFHIR translates a flat or canonical composition into a FHIR Bundle of
// type collection. An empty templateID is taken from the payload.
func (e *Engine) ToFHIR(ctx context.Context, payload []byte, templateID string) ([]byte, *openfhir.Result, error) {
	result := e.newResult()

	format, sniffed := composition.Sniff(payload)
	if templateID == "" {
		if format == composition.FormatUnknown {
			return nil, result, fmt.Errorf("%w: payload is neither a flat nor a canonical composition", openfhir.ErrUnmarshal)
		}
		templateID = sniffed
	}
	entry, err := e.registry.Get(ctx, templateID)
	if err != nil {
		return nil, result, err
	}
	flat, format, err := composition.Decode(entry.Template, payload)
	if err != nil {
		return nil, result, fmt.Errorf("template %s: %w", entry.Template.TemplateID, err)
	}
	logger.Debug("decoded %s composition of template %s into %d values", format, templateID, len(flat))

	bundle, err := e.toFHIR.Map(ctx, tofhir.Request{Entry: entry, Flat: flat}, result)
	if err != nil {
		return nil, result, err
	}
	data, err := json.Marshal(bundle)
	return data, result, err
}

// contextForFHIR returns the entry of templateID, or, when it is empty,
// of the first context whose FHIR condition holds for a resource of the
// payload. A context without a condition that names the resource type is
// the fallback.
func (e *Engine) contextForFHIR(ctx context.Context, payload []byte, templateID string) (*registry.Entry, error) {
	if templateID != "" {
		return e.registry.Get(ctx, templateID)
	}

	_, resources, err := toopenehr.Resources(payload)
	if err != nil {
		return nil, err
	}
	contexts, err := e.registry.Contexts(ctx)
	if err != nil {
		return nil, err
	}

	var fallback *mapping.Context
	for _, c := range contexts {
		if ok, unconditional := e.contextMatches(ctx, c, resources); ok {
			if unconditional {
				fallback = c
				continue
			}
			logger.Info("selected context %s for the payload", c.TemplateID())
			return e.registry.Get(ctx, c.TemplateID())
		}
	}
	if fallback != nil {
		logger.Warn("no context condition matches the payload, falling back to %s", fallback.TemplateID())
		return e.registry.Get(ctx, fallback.TemplateID())
	}
	return nil, fmt.Errorf("%w: no context mapping applies to the payload", openfhir.ErrNoContext)
}

// contextMatches reports whether c applies to one of resources and whether
// it does so only for lack of a condition.
func (e *Engine) contextMatches(ctx context.Context, c *mapping.Context, resources [][]byte) (ok, unconditional bool) {
	want := c.ResourceType()
	for _, res := range resources {
		rt, err := jsonparser.GetString(res, "resourceType")
		if err != nil {
			continue
		}
		if want != "" && rt != want {
			continue
		}
		if c.Spec.FHIRCondition == nil || condition.TargetsResource(c.Spec.FHIRCondition, rt) {
			return true, true
		}
		got, err := condition.EvaluateFHIR(ctx, e.evaluator, c.Spec.FHIRCondition, res, rt, "")
		if err != nil {
			logger.Warn("context %s: %v", c.TemplateID(), err)
			continue
		}
		if got == condition.Matched {
			return true, false
		}
	}
	return false, false
}

// newResult takes a Result from the pool when pooling is enabled; callers
// may then hand it back with Release.
func (e *Engine) newResult() *openfhir.Result {
	if e.options.EnablePooling {
		return openfhir.AcquireResult()
	}
	return openfhir.NewResult()
}

// Translate runs job. It lets an Engine serve a worker.Pool.
func (e *Engine) Translate(ctx context.Context, job worker.Job) ([]byte, *openfhir.Result, error) {
	switch job.Direction {
	case openfhir.ToOpenEHR:
		return e.ToOpenEHR(ctx, job.Payload, job.TemplateID, job.Flat)
	case openfhir.ToFHIR:
		return e.ToFHIR(ctx, job.Payload, job.TemplateID)
	}
	return nil, nil, fmt.Errorf("unknown direction %q", job.Direction)
}

// Batch translates jobs on the configured number of workers and returns
// the results in job order.
func (e *Engine) Batch(ctx context.Context, jobs []worker.Job) *worker.BatchResult {
	return worker.NewBatch(e, e.options.WorkerCount).Run(ctx, jobs)
}

// Registry returns the mapping registry of e.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *openfhir.Metrics {
	return e.metrics
}

// Options returns the engine's options.
func (e *Engine) Options() *openfhir.Options {
	return e.options
}
