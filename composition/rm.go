package composition

import (
	"strings"

	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
)

// field ties a flat suffix to the canonical attribute path inside a data
// value. An empty suffix is the bare flat key.
type field struct {
	suffix string
	path   string
}

var dataValueFields = map[rmtype.Type][]field{
	rmtype.DvText:       {{"", "value"}},
	rmtype.DvURI:        {{"", "value"}},
	rmtype.DvParsable:   {{"", "value"}, {"formalism", "formalism"}},
	rmtype.DvBoolean:    {{"", "value"}},
	rmtype.DvDateTime:   {{"", "value"}},
	rmtype.DvDate:       {{"", "value"}},
	rmtype.DvTime:       {{"", "value"}},
	rmtype.DvDuration:   {{"", "value"}},
	rmtype.DvCount:      {{"", "magnitude"}},
	rmtype.DvQuantity:   {{"magnitude", "magnitude"}, {"unit", "units"}, {"precision", "precision"}},
	rmtype.DvProportion: {{"numerator", "numerator"}, {"denominator", "denominator"}, {"type", "type"}},
	rmtype.DvCodedText: {
		{"code", "defining_code.code_string"},
		{"value", "value"},
		{"terminology", "defining_code.terminology_id.value"},
	},
	rmtype.CodePhrase: {
		{"code", "code_string"},
		{"terminology", "terminology_id.value"},
	},
	rmtype.DvOrdinal: {
		{"ordinal", "value"},
		{"code", "symbol.defining_code.code_string"},
		{"value", "symbol.value"},
		{"terminology", "symbol.defining_code.terminology_id.value"},
	},
	rmtype.DvIdentifier: {{"id", "id"}, {"issuer", "issuer"}, {"assigner", "assigner"}, {"type", "type"}},
	rmtype.DvMultimedia: {
		{"url", "uri.value"},
		{"mediatype", "media_type.code_string"},
		{"size", "size"},
		{"alternatetext", "alternate_text"},
	},
}

// nestedTypes gives the "_type" of objects created for intermediate
// attributes of a data value.
var nestedTypes = map[string]string{
	"defining_code":  "CODE_PHRASE",
	"terminology_id": "TERMINOLOGY_ID",
	"symbol":         "DV_CODED_TEXT",
	"uri":            "DV_URI",
	"media_type":     "CODE_PHRASE",
}

// listAttributes are RM attributes holding a list of children.
var listAttributes = map[string]bool{
	"content":              true,
	"events":               true,
	"items":                true,
	"activities":           true,
	"other_participations": true,
	"participations":       true,
	"links":                true,
}

// fieldPath returns the canonical attribute path of suffix for typ. A bare
// key on a type without a bare field falls back to its "value" suffix.
func fieldPath(typ rmtype.Type, suffix string) (string, bool) {
	fields := dataValueFields[typ]
	for _, f := range fields {
		if f.suffix == suffix {
			return f.path, true
		}
	}
	if suffix == "" {
		for _, f := range fields {
			if f.suffix == "value" {
				return f.path, true
			}
		}
	}
	return "", false
}

// buildDataValue creates a canonical data value from the flat attributes
// stored at one node.
func buildDataValue(rmType string, attrs map[string]any) map[string]any {
	typ := rmtype.Parse(rmType)
	obj := map[string]any{"_type": canonicalType(rmType)}
	for suffix, v := range attrs {
		p, ok := fieldPath(typ, suffix)
		if !ok {
			p = suffix
			if p == "" {
				p = "value"
			}
		}
		setNested(obj, p, v)
	}
	return obj
}

// canonicalType maps web template type names that are abstract in the RM
// onto a concrete type.
func canonicalType(rmType string) string {
	if rmType == "PARTY_PROXY" {
		return "PARTY_SELF"
	}
	return rmType
}

func setNested(obj map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := obj
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			if t, ok := nestedTypes[p]; ok {
				next["_type"] = t
			}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func getNested(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	switch cur.(type) {
	case map[string]any, []any, nil:
		return nil, false
	}
	return cur, true
}

// emitDataValue writes the flat attributes of a canonical data value.
func emitDataValue(out Flat, path string, typ rmtype.Type, dv map[string]any) {
	for _, f := range dataValueFields[typ] {
		v, ok := getNested(dv, f.path)
		if !ok {
			continue
		}
		key := path
		if f.suffix != "" {
			key += "|" + f.suffix
		}
		out.Set(key, v)
	}
}

func dvText(value string) map[string]any {
	return map[string]any{"_type": "DV_TEXT", "value": value}
}

func codePhrase(terminology, code string) map[string]any {
	return map[string]any{
		"_type":          "CODE_PHRASE",
		"terminology_id": map[string]any{"_type": "TERMINOLOGY_ID", "value": terminology},
		"code_string":    code,
	}
}

func dvCodedText(value, terminology, code string) map[string]any {
	return map[string]any{
		"_type":         "DV_CODED_TEXT",
		"value":         value,
		"defining_code": codePhrase(terminology, code),
	}
}

// step is one "attribute[predicate]" part of an AQL path.
type step struct {
	attr string
	id   string
}

// parseSteps splits an AQL path into steps. Only the node id of a
// predicate is kept.
func parseSteps(aql string) []step {
	var out []step
	depth, start := 0, 0
	flush := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		st := step{attr: s}
		if i := strings.IndexByte(s, '['); i >= 0 {
			st.attr = s[:i]
			pred := strings.TrimSuffix(s[i+1:], "]")
			if j := strings.IndexAny(pred, " ,"); j >= 0 {
				pred = pred[:j]
			}
			st.id = pred
		}
		out = append(out, st)
	}
	for i := 0; i < len(aql); i++ {
		switch aql[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				flush(aql[start:i])
				start = i + 1
			}
		}
	}
	flush(aql[start:])
	return out
}

// hiddenType returns the RM type of an object that sits on an AQL step
// without a node of its own in the web template.
func hiddenType(ownerType, attr string) string {
	switch attr {
	case "data":
		if ownerType == "OBSERVATION" {
			return "HISTORY"
		}
		return "ITEM_TREE"
	case "context":
		return "EVENT_CONTEXT"
	}
	return "ITEM_TREE"
}

func hiddenName(typ string) string {
	switch typ {
	case "HISTORY":
		return "History"
	case "ITEM_TREE":
		return "Tree"
	}
	return ""
}
