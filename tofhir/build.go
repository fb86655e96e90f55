package tofhir

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/vitagroupag/openFHIR-sub001/pkg/fhirschema"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/pool"
)

// element is a FHIR element or resource under construction. Members hold
// scalars, *element, map[string]any (finished values) or []any of those.
type element struct {
	id     int
	typ    *fhirschema.Type
	fields map[string]any
}

// JSON returns e as a plain JSON tree.
func (e *element) JSON() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch x := v.(type) {
	case *element:
		return x.JSON()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plain(item)
		}
		return out
	}
	return v
}

// resourceID returns the logical id of a resource element.
func (e *element) resourceID() string {
	id, _ := e.fields["id"].(string)
	return id
}

// cacheKey identifies an element built below owner for one openEHR
// occurrence and one dotted FHIRPath prefix.
type cacheKey struct {
	owner      int
	occurrence string
	prefix     string
}

// builder instantiates FHIR element graphs from FHIRPath expressions. Leaves
// that share an owner, an occurrence and a path prefix populate the same
// element. A builder serves one request.
type builder struct {
	schema *fhirschema.Schema
	cache  map[cacheKey]*element
	nextID int
	newID  func() string
	// created collects resources made for resolve() since the last reset
	created []*element
}

func newBuilder() *builder {
	return &builder{
		schema: fhirschema.Default(),
		cache:  make(map[cacheKey]*element),
		newID:  uuid.NewString,
	}
}

func (b *builder) element(t *fhirschema.Type) *element {
	b.nextID++
	return &element{id: b.nextID, typ: t, fields: make(map[string]any)}
}

// resource creates an empty resource with a fresh id.
func (b *builder) resource(resourceType string) (*element, error) {
	t, err := b.schema.Resource(resourceType)
	if err != nil {
		return nil, err
	}
	el := b.element(t)
	el.fields["resourceType"] = resourceType
	el.fields["id"] = b.newID()
	return el, nil
}

// target returns the resource ref points at, creating it on first use.
func (b *builder) target(ref *element, occurrence, resourceType string) (*element, error) {
	key := cacheKey{ref.id, occurrence, "resolve()"}
	if res, ok := b.cache[key]; ok {
		return res, nil
	}
	if resourceType == "" {
		return nil, fmt.Errorf("resolve() on %s without a resource type", ref.typ.Name)
	}
	res, err := b.resource(resourceType)
	if err != nil {
		return nil, err
	}
	ref.fields["reference"] = "urn:uuid:" + res.resourceID()
	b.created = append(b.created, res)
	b.cache[key] = res
	return res, nil
}

// locate walks expr from owner, creating the missing elements, and returns
// the element at its end together with the metadata of its last member.
// where() clauses on created elements are hard-coded, with system as the
// coding system of coded attributes.
func (b *builder) locate(owner *element, expr, occurrence string, hint rmtype.Hint, system string) (*element, *fhirschema.Element, error) {
	return b.locateSegments(owner, paths.ParseFHIRPath(expr), occurrence, hint, system)
}

func (b *builder) locateSegments(owner *element, segs []paths.FHIRSegment, occurrence string, hint rmtype.Hint, system string) (*element, *fhirschema.Element, error) {
	cur := owner
	var meta *fhirschema.Element
	prefix := ""
	for _, seg := range segs {
		if seg.Name == "" {
			continue
		}
		el, ok := cur.typ.Resolve(seg.Name, seg.Cast, hint)
		if !ok {
			return nil, nil, fmt.Errorf("%s has no element %q", cur.typ.Name, seg.Name)
		}
		meta = el
		prefix = pool.JoinMembers(prefix, seg.String())
		key := cacheKey{owner.id, occurrence, prefix}
		child, ok := b.cache[key]
		if !ok {
			var err error
			child, err = b.attach(cur, el)
			if err != nil {
				return nil, nil, err
			}
			for _, w := range seg.Where {
				b.hardcode(child, w, system)
			}
			b.cache[key] = child
		}
		cur = child
		if seg.Resolve {
			res, err := b.target(child, occurrence, seg.ResolveType)
			if err != nil {
				return nil, nil, err
			}
			cur = res
		}
	}
	return cur, meta, nil
}

// attach returns the element held by member el of cur, creating it when el
// repeats or is not set yet.
func (b *builder) attach(cur *element, el *fhirschema.Element) (*element, error) {
	t := b.schema.Of(el)
	if t == nil {
		return nil, fmt.Errorf("%s.%s is a %s and cannot hold elements", cur.typ.Name, el.Name, el.TypeName)
	}
	if el.List {
		list, _ := cur.fields[el.Name].([]any)
		child := b.element(t)
		cur.fields[el.Name] = append(list, child)
		return child, nil
	}
	switch existing := cur.fields[el.Name].(type) {
	case *element:
		return existing, nil
	case map[string]any:
		child := b.element(t)
		child.fields = existing
		cur.fields[el.Name] = child
		return child, nil
	}
	child := b.element(t)
	cur.fields[el.Name] = child
	return child, nil
}

// shaper turns openEHR data into the value of a FHIR member.
type shaper func(el *fhirschema.Element) (any, bool)

// assign writes the value shaped for the last member of expr. Complex
// values landing on an existing element are merged into it.
func (b *builder) assign(owner *element, expr, occurrence string, hint rmtype.Hint, system string, shape shaper) (bool, error) {
	segs := paths.ParseFHIRPath(expr)
	if len(segs) == 0 {
		return false, fmt.Errorf("empty FHIRPath")
	}
	last := segs[len(segs)-1]
	if len(last.Where) > 0 || last.Resolve || last.Name == "" {
		target, meta, err := b.locateSegments(owner, segs, occurrence, hint, system)
		if err != nil {
			return false, err
		}
		v, ok := shape(meta)
		if !ok {
			return false, nil
		}
		return merge(target, v), nil
	}

	parent, _, err := b.locateSegments(owner, segs[:len(segs)-1], occurrence, hint, system)
	if err != nil {
		return false, err
	}
	el, ok := parent.typ.Resolve(last.Name, last.Cast, hint)
	if !ok {
		return false, fmt.Errorf("%s has no element %q", parent.typ.Name, last.Name)
	}
	v, ok := shape(el)
	if !ok {
		return false, nil
	}
	b.set(parent, el, v)
	return true, nil
}

func (b *builder) set(parent *element, el *fhirschema.Element, v any) {
	if el.List {
		list, _ := parent.fields[el.Name].([]any)
		parent.fields[el.Name] = append(list, v)
		return
	}
	if existing, ok := parent.fields[el.Name].(*element); ok {
		merge(existing, v)
		return
	}
	parent.fields[el.Name] = v
}

// merge copies the members of a complex value into e.
func merge(e *element, v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for k, val := range m {
		if _, exists := e.fields[k]; !exists {
			e.fields[k] = val
		}
	}
	return true
}

var clauseRe = regexp.MustCompile(`^\(*\s*([A-Za-z_][A-Za-z0-9_.]*)\s*(?:contains|=|~)\s*'((?:[^'\\]|\\.)*)'\s*\)*$`)

// hardcode sets the attribute a where() clause tests. Only the first term
// of an "or" is used; negated and empty() clauses set nothing.
func (b *builder) hardcode(el *element, clause, system string) {
	clause = strings.TrimSpace(clause)
	if strings.HasSuffix(clause, ".not()") || strings.Contains(clause, ".empty()") {
		return
	}
	term, _, _ := strings.Cut(clause, " or ")
	m := clauseRe.FindStringSubmatch(strings.TrimSpace(term))
	if m == nil {
		return
	}
	value := strings.ReplaceAll(m[2], `\'`, `'`)
	b.setAttribute(el, m[1], value, system)
}

// setAttribute writes value at the dotted attribute path below el. A code
// written into a Coding also gets system when the coding has none.
func (b *builder) setAttribute(el *element, attr, value, system string) {
	members := strings.Split(attr, ".")
	cur := el
	for _, name := range members[:len(members)-1] {
		meta, ok := cur.typ.Field(name)
		if !ok {
			return
		}
		next, err := b.attachExisting(cur, meta)
		if err != nil {
			return
		}
		cur = next
	}
	meta, ok := cur.typ.Field(members[len(members)-1])
	if !ok || !meta.Primitive {
		return
	}
	if meta.List {
		list, _ := cur.fields[meta.Name].([]any)
		for _, v := range list {
			if v == value {
				return
			}
		}
		cur.fields[meta.Name] = append(list, value)
	} else {
		cur.fields[meta.Name] = value
	}
	if cur.typ.Name == "Coding" && meta.Name == "code" && system != "" {
		if _, has := cur.fields["system"]; !has {
			cur.fields["system"] = system
		}
	}
}

// attachExisting is attach that reuses the first element of a list.
func (b *builder) attachExisting(cur *element, meta *fhirschema.Element) (*element, error) {
	if meta.List {
		if list, ok := cur.fields[meta.Name].([]any); ok && len(list) > 0 {
			switch first := list[0].(type) {
			case *element:
				return first, nil
			case map[string]any:
				t := b.schema.Of(meta)
				if t == nil {
					break
				}
				child := b.element(t)
				child.fields = first
				list[0] = child
				return child, nil
			}
		}
	}
	return b.attach(cur, meta)
}

// has reports whether the dotted attribute path below e carries a value.
func has(e *element, attr string) bool {
	var walk func(v any, members []string) bool
	walk = func(v any, members []string) bool {
		if len(members) == 0 {
			return v != nil
		}
		switch x := v.(type) {
		case *element:
			return walk(x.fields[members[0]], members[1:])
		case map[string]any:
			return walk(x[members[0]], members[1:])
		case []any:
			for _, item := range x {
				if walk(item, members) {
					return true
				}
			}
		}
		return false
	}
	return walk(e, strings.Split(attr, "."))
}
