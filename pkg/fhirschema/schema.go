// Package fhirschema derives element metadata for FHIR R4 resources from
// the github.com/gofhir/fhir/r4 model by reflection.
//
// The openEHR to FHIR engine builds resources as generic JSON trees. It asks
// the schema whether an element repeats, which concrete member a choice
// element such as value[x] should use for a given data type hint, and which
// type a child element has.
package fhirschema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/gofhir/fhir/r4"

	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
)

// Element describes one JSON member of a FHIR type.
type Element struct {
	// Name is the JSON member name, e.g. "valueQuantity"
	Name string
	// Base is the choice element name without type suffix ("value"), or Name
	Base string
	// TypeName is the FHIR type: "Quantity", "string", "Resource", ...
	TypeName string
	// List is true for repeating elements
	List bool
	// Primitive is true for JSON scalars
	Primitive bool

	goType reflect.Type
}

// IsChoice reports whether e is one variant of a choice element.
func (e *Element) IsChoice() bool {
	return e.Base != e.Name
}

// IsResource reports whether e holds an inline resource.
func (e *Element) IsResource() bool {
	return e.TypeName == "Resource"
}

// Type describes a FHIR complex type or resource.
type Type struct {
	Name       string
	fields     map[string]*Element
	choices    map[string][]*Element
	ordered    []*Element
	schema     *Schema
	isResource bool
}

// Schema caches reflected types. It is safe for concurrent use.
type Schema struct {
	types sync.Map // reflect.Type -> *Type
}

var defaultSchema = &Schema{}

// Default returns the process-wide schema.
func Default() *Schema {
	return defaultSchema
}

// Resource returns the type of a resource, e.g. "Observation".
func (s *Schema) Resource(resourceType string) (*Type, error) {
	res, err := r4.NewResource(resourceType)
	if err != nil {
		return nil, err
	}
	t := s.typeOf(reflect.TypeOf(res))
	if t == nil {
		return nil, fmt.Errorf("resource %s has no struct type", resourceType)
	}
	return t, nil
}

// IsResource reports whether name is a known R4 resource type.
func IsResource(name string) bool {
	return r4.IsKnownResourceType(name)
}

// Of returns the type of e's values, or nil for primitives and inline
// resources.
func (s *Schema) Of(e *Element) *Type {
	if e == nil || e.Primitive || e.IsResource() {
		return nil
	}
	return s.typeOf(e.goType)
}

func (s *Schema) typeOf(rt reflect.Type) *Type {
	for rt.Kind() == reflect.Ptr || rt.Kind() == reflect.Slice {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil
	}
	if t, ok := s.types.Load(rt); ok {
		return t.(*Type)
	}
	t := s.build(rt)
	actual, _ := s.types.LoadOrStore(rt, t)
	return actual.(*Type)
}

func (s *Schema) build(rt reflect.Type) *Type {
	t := &Type{
		Name:    rt.Name(),
		fields:  make(map[string]*Element, rt.NumField()),
		choices: make(map[string][]*Element),
		schema:  s,
	}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		name := jsonName(f)
		if name == "" {
			continue
		}
		if name == "resourceType" {
			t.isResource = true
			continue
		}
		e := &Element{Name: name, Base: name}
		ft := f.Type
		if ft.Kind() == reflect.Slice {
			e.List = true
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		e.goType = ft
		e.TypeName, e.Primitive = typeName(ft)
		t.fields[name] = e
		t.ordered = append(t.ordered, e)
	}

	// choice variants share a base that is not itself a member and come in
	// at least two types
	candidates := make(map[string][]*Element)
	for _, e := range t.ordered {
		if base, ok := choiceBase(e.Name); ok {
			if _, exists := t.fields[base]; !exists {
				candidates[base] = append(candidates[base], e)
			}
		}
	}
	for base, variants := range candidates {
		if len(variants) < 2 {
			continue
		}
		for _, v := range variants {
			v.Base = base
		}
		t.choices[base] = variants
	}
	return t
}

func jsonName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	tag := f.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || name == "-" || strings.HasPrefix(name, "_") {
		return ""
	}
	return name
}

func typeName(rt reflect.Type) (string, bool) {
	switch rt.Kind() {
	case reflect.String:
		return "string", true
	case reflect.Bool:
		return "boolean", true
	case reflect.Float32, reflect.Float64:
		return "decimal", true
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer", true
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "unsignedInt", true
	case reflect.Interface:
		return "Resource", false
	}
	return rt.Name(), false
}

// choiceSuffixes are the FHIR type names that may end a choice element.
var choiceSuffixes = map[string]bool{
	"Address": true, "Age": true, "Annotation": true, "Attachment": true,
	"Base64Binary": true, "Boolean": true, "Canonical": true, "Code": true,
	"CodeableConcept": true, "Coding": true, "ContactPoint": true, "Count": true,
	"Date": true, "DateTime": true, "Decimal": true, "Distance": true,
	"Dosage": true, "Duration": true, "Expression": true, "HumanName": true,
	"Id": true, "Identifier": true, "Instant": true, "Integer": true,
	"Markdown": true, "Meta": true, "Money": true, "Oid": true,
	"Period": true, "PositiveInt": true, "Quantity": true, "Range": true,
	"Ratio": true, "Reference": true, "SampledData": true, "Signature": true,
	"String": true, "Time": true, "Timing": true, "UnsignedInt": true,
	"Uri": true, "Url": true, "Uuid": true,
}

// choiceBase splits a member name such as "multipleBirthBoolean" at the
// first position where the remainder is a type name.
func choiceBase(name string) (string, bool) {
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) && choiceSuffixes[name[i:]] {
			return name[:i], true
		}
	}
	return "", false
}

// Field returns the member called name.
func (t *Type) Field(name string) (*Element, bool) {
	e, ok := t.fields[name]
	return e, ok
}

// Fields returns the members of t in declaration order.
func (t *Type) Fields() []*Element {
	return t.ordered
}

// Choices returns the variants of a choice element, e.g. "value".
func (t *Type) Choices(base string) []*Element {
	return t.choices[base]
}

// IsResource reports whether t is a resource type.
func (t *Type) IsResource() bool {
	return t.isResource
}

// Child returns the type of the member e of t.
func (t *Type) Child(e *Element) *Type {
	return t.schema.Of(e)
}

// hintTypes lists, per data type hint, the FHIR types a choice element
// should prefer in order.
var hintTypes = map[rmtype.Hint][]string{
	rmtype.HintQuantity:        {"Quantity", "Decimal", "Integer"},
	rmtype.HintProportion:      {"Ratio", "Quantity"},
	rmtype.HintDateTime:        {"DateTime", "Instant", "Date", "Period"},
	rmtype.HintDate:            {"Date", "DateTime"},
	rmtype.HintTime:            {"Time", "DateTime"},
	rmtype.HintBoolean:         {"Boolean"},
	rmtype.HintCodeableConcept: {"CodeableConcept", "Coding", "Code"},
	rmtype.HintCoding:          {"Coding", "CodeableConcept", "Code"},
	rmtype.HintIdentifier:      {"Identifier", "String"},
	rmtype.HintMedia:           {"Attachment"},
	rmtype.HintInteger:         {"Integer", "Quantity"},
	rmtype.HintString:          {"String", "Markdown", "CodeableConcept"},
}

// Resolve returns the member of t addressed by name. A plain member wins.
// For a choice element the variant is picked by cast when given (e.g.
// "Quantity"), otherwise by the data type hint, otherwise the first
// declared variant.
func (t *Type) Resolve(name string, cast string, hint rmtype.Hint) (*Element, bool) {
	if cast != "" {
		if e, ok := t.fields[name+upperFirst(cast)]; ok {
			return e, true
		}
	}
	if e, ok := t.fields[name]; ok {
		return e, true
	}
	variants := t.choices[name]
	if len(variants) == 0 {
		return nil, false
	}
	for _, want := range hintTypes[hint] {
		for _, v := range variants {
			if v.Name == name+want {
				return v, true
			}
		}
	}
	return variants[0], true
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
