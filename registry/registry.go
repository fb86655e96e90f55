// Package registry assembles and caches everything the engines need for one
// template: the context mapping, the parsed web template and the model
// mappings with their extensions merged in.
//
// Entries are built at most once per normalized template id, also under
// concurrent first access, and are read-only afterwards.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/cache"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
	"github.com/vitagroupag/openFHIR-sub001/service"
	"github.com/vitagroupag/openFHIR-sub001/template"
)

// Entry is the prepared mapping set of one template.
type Entry struct {
	Context  *mapping.Context
	Template *template.WebTemplate
	// OPT is the raw web template as received from the store
	OPT []byte
	// Mappers holds the merged models of the archetypes listed in the
	// context, keyed by archetype id
	Mappers map[string][]*mapping.Model
	// SlotMappers holds the merged models of every other archetype, for
	// slotArchetype lookups
	SlotMappers map[string][]*mapping.Model
	// Diagnostics collects the non-fatal problems found while merging
	Diagnostics []mapping.Diagnostic
}

// Archetypes returns the archetype ids of e.Mappers in context order.
func (e *Entry) Archetypes() []string {
	out := make([]string, 0, len(e.Mappers))
	for _, a := range e.Context.Spec.Archetypes {
		if _, ok := e.Mappers[a]; ok && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// Slot returns the models of a slot archetype. Archetypes listed in the
// context are found too.
func (e *Entry) Slot(archetype string) []*mapping.Model {
	if m, ok := e.SlotMappers[archetype]; ok {
		return m
	}
	return e.Mappers[archetype]
}

// Models returns every merged model of e in archetype order.
func (e *Entry) Models() []*mapping.Model {
	var out []*mapping.Model
	for _, a := range e.Archetypes() {
		out = append(out, e.Mappers[a]...)
	}
	return out
}

// Registry builds entries from a mapping store and a template store.
type Registry struct {
	mappings  service.MappingStore
	templates service.TemplateStore
	opts      *openfhir.Options
	metrics   *openfhir.Metrics
	entries   *cache.Cache[string, *Entry]
}

// New creates a registry.
func New(mappings service.MappingStore, templates service.TemplateStore, opts ...openfhir.Option) *Registry {
	o := openfhir.DefaultOptions().Apply(opts...)
	return &Registry{
		mappings:  mappings,
		templates: templates,
		opts:      o,
		entries:   cache.New[string, *Entry](o.TemplateCacheSize),
	}
}

// WithMetrics records cache hits and misses of r in m.
func (r *Registry) WithMetrics(m *openfhir.Metrics) *Registry {
	r.metrics = m
	return r
}

// Get returns the entry of templateID, building it on first use.
func (r *Registry) Get(ctx context.Context, templateID string) (*Entry, error) {
	id := openfhir.NormalizeTemplateID(templateID)
	if id == "" {
		return nil, fmt.Errorf("%w: empty template id", openfhir.ErrNoContext)
	}
	// the build is shared with concurrent callers of the same id
	e, hit, err := r.entries.GetOrLoad(id, func() (*Entry, error) {
		return r.build(context.WithoutCancel(ctx), id)
	})
	if r.metrics != nil {
		if hit {
			r.metrics.RecordCacheHit()
		} else {
			r.metrics.RecordCacheMiss()
		}
	}
	return e, err
}

// Contexts returns every context mapping of the store.
func (r *Registry) Contexts(ctx context.Context) ([]*mapping.Context, error) {
	return r.mappings.Contexts(ctx)
}

// Invalidate drops the cached entry of templateID.
func (r *Registry) Invalidate(templateID string) {
	r.entries.Delete(openfhir.NormalizeTemplateID(templateID))
}

// Stats returns the entry cache statistics.
func (r *Registry) Stats() cache.Stats {
	return r.entries.Stats()
}

func (r *Registry) build(ctx context.Context, id string) (*Entry, error) {
	c, err := r.mappings.Context(ctx, id)
	if err != nil {
		if errors.Is(err, openfhir.ErrNoContext) {
			return nil, err
		}
		return nil, fmt.Errorf("%w for template %q: %v", openfhir.ErrNoContext, id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w for template %q", openfhir.ErrNoContext, id)
	}

	raw, err := r.templates.WebTemplate(ctx, c.TemplateID())
	if err != nil {
		if errors.Is(err, openfhir.ErrNoTemplate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w %q: %v", openfhir.ErrNoTemplate, c.TemplateID(), err)
	}
	wt, err := template.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", openfhir.ErrTemplateUnusable, c.TemplateID(), err)
	}

	models, err := r.mappings.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", openfhir.ErrMappingLoad, err)
	}

	e := &Entry{
		Context:     c,
		Template:    wt,
		OPT:         raw,
		Mappers:     make(map[string][]*mapping.Model),
		SlotMappers: make(map[string][]*mapping.Model),
	}
	if err := r.assemble(e, models); err != nil {
		return nil, err
	}

	for _, a := range c.Spec.Archetypes {
		if _, ok := wt.ArchetypePath(a); !ok {
			logger.Warn("template %q has no archetype %s", id, a)
		}
		if len(e.Mappers[a]) == 0 {
			logger.Warn("template %q: no model mapping for archetype %s", id, a)
		}
	}
	logger.Debug("prepared template %q: %d archetypes, %d slot archetypes, %d diagnostics",
		id, len(e.Mappers), len(e.SlotMappers), len(e.Diagnostics))
	return e, nil
}

// assemble merges the extensions named by the context into their base
// models and files the results by archetype.
func (r *Registry) assemble(e *Entry, models []*mapping.Model) error {
	listed := make(map[string]bool, len(e.Context.Spec.Extensions))
	for _, name := range e.Context.Spec.Extensions {
		listed[name] = true
	}

	bases := make(map[string]*mapping.Model)
	var order []string
	extensions := make(map[string][]*mapping.Model)
	found := make(map[string]bool)
	for _, m := range models {
		switch {
		case m.Base() == "":
			if _, dup := bases[m.Name()]; !dup {
				order = append(order, m.Name())
			}
			bases[m.Name()] = m
		case listed[m.Name()]:
			found[m.Name()] = true
			extensions[m.Base()] = append(extensions[m.Base()], m)
		}
	}

	for _, name := range e.Context.Spec.Extensions {
		if !found[name] {
			e.Diagnostics = append(e.Diagnostics, mapping.Diagnostic{
				Code:    mapping.DiagUnknownExtension,
				Model:   name,
				Message: "extension listed in context is not loaded",
			})
		}
	}
	baseNames := make([]string, 0, len(extensions))
	for base := range extensions {
		baseNames = append(baseNames, base)
	}
	sort.Strings(baseNames)
	for _, base := range baseNames {
		if _, ok := bases[base]; ok {
			continue
		}
		for _, ext := range extensions[base] {
			e.Diagnostics = append(e.Diagnostics, mapping.Diagnostic{
				Code:    mapping.DiagUnknownBase,
				Model:   ext.Name(),
				Message: fmt.Sprintf("extensionOf %q is not loaded", base),
			})
		}
	}

	inContext := make(map[string]bool, len(e.Context.Spec.Archetypes))
	for _, a := range e.Context.Spec.Archetypes {
		inContext[a] = true
	}
	for _, name := range order {
		base := bases[name]
		merged, diags := mapping.MergeModel(base, extensions[name]...)
		for _, d := range diags {
			if r.opts.StrictAppend && d.Code == mapping.DiagUnmatchedAppend {
				return fmt.Errorf("%w: %s", openfhir.ErrMappingLoad, d)
			}
			logger.Warn("%s", d)
		}
		e.Diagnostics = append(e.Diagnostics, diags...)

		archetype := merged.Archetype()
		if inContext[archetype] {
			e.Mappers[archetype] = append(e.Mappers[archetype], merged)
		} else if archetype != "" {
			e.SlotMappers[archetype] = append(e.SlotMappers[archetype], merged)
		}
	}
	return nil
}

// ByCode returns the diagnostics of e with the given code.
func (e *Entry) ByCode(code mapping.DiagnosticCode) []mapping.Diagnostic {
	var out []mapping.Diagnostic
	for _, d := range e.Diagnostics {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// String summarizes e for logs.
func (e *Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", e.Context.TemplateID())
	for _, a := range e.Archetypes() {
		fmt.Fprintf(&b, " %s(%d)", a, len(e.Mappers[a]))
	}
	return b.String()
}
