package mapping

import (
	"strings"
)

// ExpandManual replaces the manual shorthand of every mapping in list, at
// any depth, with ordinary sibling mappings placed right after their parent.
//
// An openehr entry becomes a mapping that writes its value at
// parent.openehr + "/" + path whenever the parent's FHIR side matches. A
// fhir entry becomes a mapping that writes its value at parent.fhir + "." +
// path whenever the parent's openEHR side matches. Unset conditions are
// inherited from the parent mapping.
func ExpandManual(list []*Mapping) []*Mapping {
	if list == nil {
		return nil
	}
	out := make([]*Mapping, 0, len(list))
	for _, m := range list {
		if m == nil {
			continue
		}
		if m.FollowedBy != nil {
			m.FollowedBy.Mappings = ExpandManual(m.FollowedBy.Mappings)
		}
		if m.Reference != nil {
			m.Reference.Mappings = ExpandManual(m.Reference.Mappings)
		}
		manuals := m.Manual
		m.Manual = nil
		out = append(out, m)
		for _, man := range manuals {
			out = append(out, expandOne(m, man)...)
		}
	}
	return out
}

func expandOne(parent *Mapping, man *Manual) []*Mapping {
	if man == nil {
		return nil
	}
	var out []*Mapping
	for _, e := range man.OpenEHR {
		if e == nil {
			continue
		}
		fc := man.FHIRCondition
		if fc == nil {
			fc = parent.FHIRCondition
		}
		out = append(out, &Mapping{
			Name: man.Name,
			With: &With{
				OpenEHR: joinPath(parent.OpenEHR(), e.Path, "/"),
				Value:   e.Value,
			},
			FHIRCondition: fc.Clone(),
		})
	}
	for _, e := range man.FHIR {
		if e == nil {
			continue
		}
		oc := man.OpenEHRCondition
		if oc == nil {
			oc = parent.OpenEHRCondition
		}
		out = append(out, &Mapping{
			Name: man.Name,
			With: &With{
				FHIR:  joinPath(parent.FHIR(), e.Path, "."),
				Value: e.Value,
			},
			OpenEHRCondition: oc.Clone(),
		})
	}
	return out
}

func joinPath(base, rel, sep string) string {
	rel = strings.TrimPrefix(rel, sep)
	switch {
	case base == "":
		return rel
	case rel == "":
		return base
	case strings.HasPrefix(rel, "|"):
		return base + rel
	}
	return strings.TrimSuffix(base, sep) + sep + rel
}
