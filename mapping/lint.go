package mapping

import (
	"fmt"
)

// Lint checks a mapping set without executing it. It reports extensions
// whose base is missing, APPEND and OVERWRITE extensions that would be
// dropped, and mappings that connect nothing.
func Lint(models []*Model) []Diagnostic {
	byName := make(map[string]*Model, len(models))
	for _, m := range models {
		if m != nil && m.Base() == "" {
			byName[m.Name()] = m
		}
	}

	var diags []Diagnostic
	for _, m := range models {
		if m == nil {
			continue
		}
		walkMappings(m.Mappings, "", func(path string, mp *Mapping) {
			if mp.Extension != "" && m.Base() != "" {
				return
			}
			if isEmptyMapping(mp) {
				diags = append(diags, Diagnostic{
					Code:    DiagInvalidMapping,
					Model:   m.Name(),
					Mapping: path,
					Message: "mapping has neither paths, a value, children nor a slot archetype",
				})
			}
		})

		baseName := m.Base()
		if baseName == "" {
			continue
		}
		base, ok := byName[baseName]
		if !ok {
			diags = append(diags, Diagnostic{
				Code:    DiagUnknownBase,
				Model:   m.Name(),
				Message: fmt.Sprintf("extended model %q is not loaded", baseName),
			})
			continue
		}
		_, merged := MergeModel(base, m)
		diags = append(diags, merged...)
	}
	return diags
}

func isEmptyMapping(m *Mapping) bool {
	return m.FHIR() == "" && m.OpenEHR() == "" && m.Value() == "" &&
		len(m.Children()) == 0 && m.SlotArchetype == "" && m.Reference == nil && len(m.Manual) == 0
}

func walkMappings(list []*Mapping, prefix string, fn func(path string, m *Mapping)) {
	for _, m := range list {
		if m == nil {
			continue
		}
		path := m.Name
		if prefix != "" {
			path = prefix + "." + m.Name
		}
		fn(path, m)
		walkMappings(m.Children(), path, fn)
		if m.Reference != nil {
			walkMappings(m.Reference.Mappings, path, fn)
		}
	}
}
