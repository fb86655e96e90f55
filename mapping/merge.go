package mapping

import (
	"fmt"
	"slices"
	"strings"
)

// DiagnosticCode classifies a problem found while preparing mappings.
type DiagnosticCode string

const (
	DiagUnmatchedAppend    DiagnosticCode = "unmatched-append"
	DiagUnmatchedOverwrite DiagnosticCode = "unmatched-overwrite"
	DiagUnknownBase        DiagnosticCode = "unknown-base"
	DiagUnknownExtension   DiagnosticCode = "unknown-extension"
	DiagInvalidMapping     DiagnosticCode = "invalid-mapping"
)

// Diagnostic is a non-fatal problem found in a mapping set.
type Diagnostic struct {
	Code    DiagnosticCode
	Model   string
	Mapping string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: model %q mapping %q: %s", d.Code, d.Model, d.Mapping, d.Message)
}

// Find resolves a dotted name path by descending through followedBy lists.
// The full path is first tried as a literal name so that names containing
// dots still resolve.
func Find(list []*Mapping, path string) *Mapping {
	if path == "" {
		return nil
	}
	for _, m := range list {
		if m != nil && m.Name == path {
			return m
		}
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil
	}
	for _, m := range list {
		if m != nil && m.Name == head {
			if hit := Find(m.Children(), rest); hit != nil {
				return hit
			}
		}
	}
	return nil
}

// findNamed returns the first mapping called name, searching the followedBy
// lists depth first.
func findNamed(list []*Mapping, name string) *Mapping {
	for _, m := range list {
		if m == nil {
			continue
		}
		if m.Name == name {
			return m
		}
		if hit := findNamed(m.Children(), name); hit != nil {
			return hit
		}
	}
	return nil
}

// Merge applies one extension mapping to base and returns the resulting
// list. The mappings of base are only modified when an APPEND or OVERWRITE
// resolves; an unresolved one returns base untouched and ok=false. An
// OVERWRITE names its target by dotted path or, failing that, by the bare
// name of a nested mapping. ADD never writes into the backing array of base.
func Merge(base []*Mapping, ext *Mapping) (out []*Mapping, ok bool) {
	if ext == nil {
		return base, true
	}
	switch strings.ToUpper(ext.Extension) {
	case ExtensionAppend:
		target := Find(base, ext.AppendTo)
		if target == nil {
			return base, false
		}
		appendInto(target, ext)
		return base, true
	case ExtensionOverwrite:
		target := Find(base, ext.Name)
		if target == nil {
			target = findNamed(base, ext.Name)
		}
		if target == nil {
			return base, false
		}
		overwrite(target, ext)
		return base, true
	default:
		added := ext.Clone()
		added.Extension = ""
		return append(slices.Clip(base), added), true
	}
}

func appendInto(target, ext *Mapping) {
	if children := ext.Children(); len(children) > 0 {
		if target.FollowedBy == nil {
			target.FollowedBy = &FollowedBy{}
		}
		target.FollowedBy.Mappings = append(target.FollowedBy.Mappings, CloneAll(children)...)
	}
	if ext.FHIRCondition != nil {
		target.FHIRCondition = ext.FHIRCondition.Clone()
	}
	if ext.OpenEHRCondition != nil {
		target.OpenEHRCondition = ext.OpenEHRCondition.Clone()
	}
}

func overwrite(target, ext *Mapping) {
	c := ext.Clone()
	target.With = c.With
	target.FHIRCondition = c.FHIRCondition
	target.OpenEHRCondition = c.OpenEHRCondition
	target.FollowedBy = c.FollowedBy
	target.Reference = c.Reference
	target.SlotArchetype = c.SlotArchetype
}

// MergeModel returns a copy of base with every extension model applied in
// order. Manual shorthand is expanded first on both sides. Extensions that
// do not resolve are reported and dropped.
func MergeModel(base *Model, extensions ...*Model) (*Model, []Diagnostic) {
	out := base.Clone()
	out.Mappings = ExpandManual(out.Mappings)

	var diags []Diagnostic
	for _, ext := range extensions {
		if ext == nil {
			continue
		}
		e := ext.Clone()
		if e.Spec.FHIRConfig != nil {
			out.Spec.FHIRConfig = e.Spec.FHIRConfig
		}
		for _, m := range ExpandManual(e.Mappings) {
			var ok bool
			out.Mappings, ok = Merge(out.Mappings, m)
			if ok {
				continue
			}
			d := Diagnostic{Model: e.Name(), Mapping: m.Name}
			if strings.EqualFold(m.Extension, ExtensionAppend) {
				d.Code = DiagUnmatchedAppend
				d.Message = fmt.Sprintf("appendTo %q not found in %q", m.AppendTo, base.Name())
			} else {
				d.Code = DiagUnmatchedOverwrite
				d.Message = fmt.Sprintf("mapping %q not found in %q", m.Name, base.Name())
			}
			diags = append(diags, d)
		}
	}
	return out, diags
}
