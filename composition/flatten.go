package composition

import (
	"encoding/json"
	"fmt"
	"strings"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/pool"
	"github.com/vitagroupag/openFHIR-sub001/template"
)

// Flatten converts canonical composition JSON into a flat composition.
// Parts of the composition that have no template node are ignored.
func Flatten(wt *template.WebTemplate, canonical []byte) (Flat, error) {
	var root map[string]any
	if err := json.Unmarshal(canonical, &root); err != nil {
		return nil, fmt.Errorf("decode canonical composition: %w", err)
	}
	return FlattenObject(wt, root)
}

// FlattenObject is Flatten for an already decoded composition.
func FlattenObject(wt *template.WebTemplate, root map[string]any) (Flat, error) {
	if typ, _ := root["_type"].(string); typ != "" && typ != "COMPOSITION" {
		return nil, fmt.Errorf("canonical composition has _type %q", typ)
	}
	out := Flat{}
	flattenNode(wt.Tree, root, wt.Tree.ID, out)
	return out, nil
}

func flattenNode(n *template.Node, obj map[string]any, path string, out Flat) {
	switch {
	case n.Type() == rmtype.Element:
		v, _ := obj["value"].(map[string]any)
		if v == nil {
			return
		}
		vt, _ := v["_type"].(string)
		vc := valueChildOf(n, vt)
		if vc == nil {
			emitDataValue(out, path, rmtype.Parse(vt), v)
			return
		}
		if vc.ID != "value" {
			path += "/" + vc.ID
		}
		emitDataValue(out, path, vc.Type(), v)
	case isLeaf(n):
		emitDataValue(out, path, n.Type(), obj)
	default:
		for _, c := range n.Children {
			for i, co := range locate(obj, n, c) {
				if !c.IsMulti() && i > 0 {
					break
				}
				key := pool.BuildPath(func(b *pool.PathBuilder) {
					b.WriteString(path)
					b.Segment(c.ID)
					if c.IsMulti() {
						b.Occurrence(i)
					}
				})
				flattenNode(c, co, key, out)
			}
		}
	}
}

// valueChildOf picks the value child of an ELEMENT matching the canonical
// value type, falling back to the first value child.
func valueChildOf(n *template.Node, valueType string) *template.Node {
	var first *template.Node
	for _, c := range n.Children {
		if !strings.Contains(c.ID, "value") {
			continue
		}
		if c.RMType == valueType {
			return c
		}
		if first == nil {
			first = c
		}
	}
	return first
}

// locate finds the canonical objects of child below obj, the object of
// parent, following the AQL steps between them.
func locate(obj map[string]any, parent, child *template.Node) []map[string]any {
	steps := relativeSteps(parent, child)
	cur := []map[string]any{obj}
	for i, s := range steps {
		last := i == len(steps)-1
		var next []map[string]any
		for _, m := range cur {
			switch x := m[s.attr].(type) {
			case map[string]any:
				if matchesID(x, s.id) {
					next = append(next, x)
				}
			case []any:
				for _, e := range x {
					if em, ok := e.(map[string]any); ok && matchesID(em, s.id) {
						next = append(next, em)
					}
				}
			}
		}
		if last && sharesNodeID(parent, child) {
			next = filterByName(next, child.Name)
		}
		cur = next
	}
	return cur
}

func matchesID(m map[string]any, id string) bool {
	if id == "" {
		return true
	}
	nid, _ := m["archetype_node_id"].(string)
	return nid == "" || nid == id
}

// sharesNodeID reports whether a sibling of child has the same node id, in
// which case names tell the occurrences apart.
func sharesNodeID(parent, child *template.Node) bool {
	if child.NodeID == "" {
		return false
	}
	for _, c := range parent.Children {
		if c != child && c.NodeID == child.NodeID {
			return true
		}
	}
	return false
}

func filterByName(objs []map[string]any, name string) []map[string]any {
	var out []map[string]any
	for _, o := range objs {
		if n, ok := o["name"].(map[string]any); ok && n["value"] == name {
			out = append(out, o)
		}
	}
	return out
}

// Decode reads an openEHR payload in either format into a flat
// composition. A payload that is not a valid flat map is retried as
// canonical JSON. A payload that yields no values at all is reported as
// openfhir.ErrUnmarshal.
func Decode(wt *template.WebTemplate, data []byte) (Flat, Format, error) {
	format, _ := Sniff(data)
	var flatErr error
	if format != FormatCanonical {
		flat, err := ParseFlat(data)
		if err == nil && len(flat.TemplateKeys()) > 0 {
			return flat, FormatFlat, nil
		}
		flatErr = err
	}

	flat, err := Flatten(wt, data)
	switch {
	case err != nil && flatErr != nil:
		return nil, FormatUnknown, fmt.Errorf("%w: %v; %v", openfhir.ErrUnmarshal, flatErr, err)
	case err != nil:
		return nil, FormatUnknown, fmt.Errorf("%w: %v", openfhir.ErrUnmarshal, err)
	case len(flat) == 0:
		return nil, FormatUnknown, fmt.Errorf("%w: composition is empty", openfhir.ErrUnmarshal)
	}
	return flat, FormatCanonical, nil
}
