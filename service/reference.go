package service

import (
	"strings"

	"github.com/buger/jsonparser"
)

// ReferenceType indicates the form of a reference string.
type ReferenceType string

const (
	// ReferenceTypeRelative is a relative reference (e.g., "Patient/123")
	ReferenceTypeRelative ReferenceType = "relative"

	// ReferenceTypeAbsolute is an absolute URL reference
	ReferenceTypeAbsolute ReferenceType = "absolute"

	// ReferenceTypeContained references a contained resource ("#id")
	ReferenceTypeContained ReferenceType = "contained"

	// ReferenceTypeUUID is a bundle-local "urn:uuid:" reference
	ReferenceTypeUUID ReferenceType = "uuid"
)

// ParsedReference is a reference string split into its parts.
type ParsedReference struct {
	Raw          string
	Type         ReferenceType
	ResourceType string
	ID           string
}

// Key returns "ResourceType/id" or "" when either part is unknown.
func (r ParsedReference) Key() string {
	if r.ResourceType == "" || r.ID == "" {
		return ""
	}
	return r.ResourceType + "/" + r.ID
}

// ParseReference classifies a reference string.
func ParseReference(ref string) ParsedReference {
	ref = strings.TrimSpace(ref)
	p := ParsedReference{Raw: ref}
	switch {
	case strings.HasPrefix(ref, "#"):
		p.Type = ReferenceTypeContained
		p.ID = ref[1:]
		return p
	case strings.HasPrefix(ref, "urn:uuid:"), strings.HasPrefix(ref, "urn:oid:"):
		p.Type = ReferenceTypeUUID
		return p
	case strings.Contains(ref, "://"):
		p.Type = ReferenceTypeAbsolute
	default:
		p.Type = ReferenceTypeRelative
	}
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	// Type/id or .../Type/id/_history/version
	if n := len(parts); n >= 4 && parts[n-2] == "_history" {
		parts = parts[:n-2]
	}
	if n := len(parts); n >= 2 {
		p.ResourceType, p.ID = parts[n-2], parts[n-1]
	}
	return p
}

// ReferenceOf extracts the reference string from a Reference element. A
// JSON string element is returned unquoted.
func ReferenceOf(element []byte) string {
	if ref, err := jsonparser.GetString(element, "reference"); err == nil {
		return ref
	}
	return strings.Trim(string(element), `"`)
}

// BundleResolver resolves references against the entries of a Bundle by
// fullUrl and by "ResourceType/id".
type BundleResolver struct {
	byURL map[string][]byte
	byKey map[string][]byte
}

// NewBundleResolver indexes the entries of bundle. Input that is not a
// Bundle yields an empty resolver.
func NewBundleResolver(bundle []byte) *BundleResolver {
	r := &BundleResolver{
		byURL: make(map[string][]byte),
		byKey: make(map[string][]byte),
	}
	if rt, _ := jsonparser.GetString(bundle, "resourceType"); rt != "Bundle" {
		return r
	}
	//nolint:errcheck // a Bundle without entries resolves nothing
	jsonparser.ArrayEach(bundle, func(entry []byte, _ jsonparser.ValueType, _ int, _ error) {
		res, _, _, err := jsonparser.Get(entry, "resource")
		if err != nil {
			return
		}
		if u, err := jsonparser.GetString(entry, "fullUrl"); err == nil && u != "" {
			r.byURL[u] = res
		}
		rt, _ := jsonparser.GetString(res, "resourceType")
		id, _ := jsonparser.GetString(res, "id")
		if rt != "" && id != "" {
			r.byKey[rt+"/"+id] = res
		}
	}, "entry")
	return r
}

// Resolve implements Resolver.
func (r *BundleResolver) Resolve(reference string) ([]byte, bool) {
	if res, ok := r.byURL[reference]; ok {
		return res, true
	}
	if key := ParseReference(reference).Key(); key != "" {
		if res, ok := r.byKey[key]; ok {
			return res, true
		}
	}
	return nil, false
}

// Len returns the number of indexed entries.
func (r *BundleResolver) Len() int {
	return len(r.byKey)
}

// ContainedResolver resolves "#id" references against the contained
// resources of one resource.
type ContainedResolver struct {
	contained map[string][]byte
}

// NewContainedResolver indexes the contained resources of resource.
func NewContainedResolver(resource []byte) *ContainedResolver {
	r := &ContainedResolver{contained: make(map[string][]byte)}
	//nolint:errcheck // no contained resources is fine
	jsonparser.ArrayEach(resource, func(res []byte, _ jsonparser.ValueType, _ int, _ error) {
		if id, err := jsonparser.GetString(res, "id"); err == nil {
			r.contained[id] = res
		}
	}, "contained")
	return r
}

// Resolve implements Resolver.
func (r *ContainedResolver) Resolve(reference string) ([]byte, bool) {
	p := ParseReference(reference)
	if p.Type != ReferenceTypeContained {
		return nil, false
	}
	res, ok := r.contained[p.ID]
	return res, ok
}

// MapResolver is a caller-supplied reference table.
type MapResolver map[string][]byte

// Resolve implements Resolver.
func (m MapResolver) Resolve(reference string) ([]byte, bool) {
	if res, ok := m[reference]; ok {
		return res, true
	}
	if key := ParseReference(reference).Key(); key != "" {
		res, ok := m[key]
		return res, ok
	}
	return nil, false
}

var (
	_ Resolver = (*BundleResolver)(nil)
	_ Resolver = (*ContainedResolver)(nil)
	_ Resolver = MapResolver(nil)
)
