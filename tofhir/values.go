package tofhir

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gofhir/fhir/r4/helpers"
	"github.com/shopspring/decimal"

	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/fhirschema"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
)

// occurrence is the data of one openEHR occurrence: the bare value at its
// path and its |attributes.
type occurrence struct {
	bare    any
	hasBare bool
	attrs   map[string]any
}

// read collects the values of g stored directly at its path.
func read(flat composition.Flat, g paths.Group) occurrence {
	o := occurrence{attrs: make(map[string]any)}
	for _, k := range g.Keys {
		switch {
		case k == g.Path:
			o.bare, o.hasBare = flat[k], true
		case strings.HasPrefix(k, g.Path+"|"):
			o.attrs[k[len(g.Path)+1:]] = flat[k]
		}
	}
	return o
}

func (o occurrence) empty() bool {
	return !o.hasBare && len(o.attrs) == 0
}

func (o occurrence) str(attr string) string {
	v := o.bare
	if attr != "" {
		v = o.attrs[attr]
	}
	s, _ := stringOf(v)
	return s
}

func (o occurrence) num(attr string) (float64, bool) {
	v := o.bare
	if attr != "" {
		v = o.attrs[attr]
	}
	return floatOf(v)
}

// text is the human readable form of o.
func (o occurrence) text() string {
	if s := o.str(""); s != "" {
		return s
	}
	for _, a := range []string{"value", "id", "url", "code"} {
		if s := o.str(a); s != "" {
			return s
		}
	}
	return ""
}

// shaper returns the shaper writing o, read as an RM value of type typ. A
// path that names an attribute (suffix) yields that attribute only.
func (e *Engine) shaper(o occurrence, typ rmtype.Type, suffix string) shaper {
	if suffix != "" {
		v := o.attrs[suffix]
		if suffix == "terminology" {
			if s, ok := stringOf(v); ok {
				v = e.terms.FHIR(s)
			}
		}
		return func(el *fhirschema.Element) (any, bool) {
			return coerce(v, el)
		}
	}
	return func(el *fhirschema.Element) (any, bool) {
		if el == nil {
			return nil, false
		}
		if el.Primitive {
			return coerce(e.primitive(o, typ), el)
		}
		return e.complex(o, typ, el.TypeName)
	}
}

// primitive picks the scalar that represents o in a FHIR primitive.
func (e *Engine) primitive(o occurrence, typ rmtype.Type) any {
	switch typ {
	case rmtype.DvCodedText, rmtype.CodePhrase, rmtype.DvOrdinal:
		if s := o.str("code"); s != "" {
			return s
		}
		if n, ok := o.num("ordinal"); ok {
			return n
		}
	case rmtype.DvQuantity:
		if n, ok := o.num("magnitude"); ok {
			return n
		}
	case rmtype.DvProportion:
		if n, ok := o.num("numerator"); ok {
			return n
		}
	case rmtype.DvIdentifier:
		return o.str("id")
	case rmtype.DvMultimedia:
		return o.str("url")
	}
	if o.hasBare {
		return o.bare
	}
	return o.text()
}

// complex shapes o as a FHIR data type.
func (e *Engine) complex(o occurrence, typ rmtype.Type, fhirType string) (any, bool) {
	out := map[string]any{}
	put := func(k string, v any) {
		switch x := v.(type) {
		case nil:
			return
		case string:
			if x == "" {
				return
			}
		case map[string]any:
			if len(x) == 0 {
				return
			}
		}
		out[k] = v
	}

	switch fhirType {
	case "Quantity", "Age", "Distance", "Count", "SimpleQuantity", "Duration", "MoneyQuantity":
		if typ == rmtype.DvDuration {
			if q, ok := isoDuration(o.str("")); ok {
				return q, true
			}
			return nil, false
		}
		n, ok := o.num("magnitude")
		if !ok {
			n, ok = o.num("ordinal")
		}
		if !ok {
			n, ok = o.num("")
		}
		if !ok {
			return nil, false
		}
		put("value", n)
		if unit := firstNonEmpty(o.str("unit"), o.str("units")); unit != "" {
			put("unit", unit)
			put("system", helpers.UCUMSystem)
			put("code", unit)
		}
	case "CodeableConcept":
		if code := o.str("code"); code != "" {
			put("coding", []any{e.coding(o)})
		}
		put("text", firstNonEmpty(o.str("value"), o.str("")))
	case "Coding":
		c := e.coding(o)
		if len(c) == 0 {
			return nil, false
		}
		return c, true
	case "Identifier":
		put("value", firstNonEmpty(o.str("id"), o.str("")))
		put("system", o.str("issuer"))
		if a := o.str("assigner"); a != "" {
			put("assigner", map[string]any{"display": a})
		}
		if t := o.str("type"); t != "" {
			put("type", map[string]any{"text": t})
		}
	case "Attachment":
		put("url", firstNonEmpty(o.str("url"), o.str("")))
		put("contentType", o.str("mediatype"))
		if n, ok := o.num("size"); ok {
			put("size", int(n))
		}
		put("title", o.str("alternatetext"))
	case "Ratio":
		num, ok := o.num("numerator")
		if !ok {
			return nil, false
		}
		put("numerator", map[string]any{"value": num})
		if den, ok := o.num("denominator"); ok {
			put("denominator", map[string]any{"value": den})
		}
	case "Period":
		put("start", o.text())
	case "Annotation":
		put("text", o.text())
	case "Reference":
		put("display", o.text())
	case "HumanName", "Address":
		put("text", o.text())
	case "Range":
		if n, ok := o.num("magnitude"); ok {
			q := map[string]any{"value": n}
			if unit := o.str("unit"); unit != "" {
				q["unit"] = unit
			}
			put("low", q)
		}
	default:
		return nil, false
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func (e *Engine) coding(o occurrence) map[string]any {
	c := map[string]any{}
	if code := o.str("code"); code != "" {
		c["code"] = code
	}
	if t := o.str("terminology"); t != "" && t != "local" {
		c["system"] = e.terms.FHIR(t)
	}
	if v := o.str("value"); v != "" {
		c["display"] = v
	}
	return c
}

// coerce converts a scalar to the JSON kind of a FHIR primitive. Complex
// members accept maps only.
func coerce(v any, el *fhirschema.Element) (any, bool) {
	if v == nil || el == nil {
		return nil, false
	}
	if !el.Primitive {
		m, ok := v.(map[string]any)
		return m, ok
	}
	switch el.TypeName {
	case "decimal":
		return floatOf(v)
	case "integer", "unsignedInt":
		f, ok := floatOf(v)
		return int(f), ok
	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(b)
			return parsed, err == nil
		}
		return nil, false
	}
	s, ok := stringOf(v)
	return s, ok
}

func stringOf(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case decimal.Decimal:
		return x.String(), true
	}
	return "", false
}

func floatOf(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var isoRe = regexp.MustCompile(`^P(?:(\d+(?:\.\d+)?)([YMWD]))?(?:T(\d+(?:\.\d+)?)([HMS]))?$`)

var isoUnits = map[string]string{
	"Y": "a", "M": "mo", "W": "wk", "D": "d",
	"TH": "h", "TM": "min", "TS": "s",
}

// isoDuration turns a single-component ISO 8601 duration into a UCUM
// Duration.
func isoDuration(s string) (map[string]any, bool) {
	m := isoRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, false
	}
	value, designator := m[1], m[2]
	if value == "" {
		value, designator = m[3], "T"+m[4]
	}
	if value == "" || (m[1] != "" && m[3] != "") {
		return nil, false
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, false
	}
	unit := isoUnits[designator]
	return map[string]any{"value": n, "unit": unit, "system": helpers.UCUMSystem, "code": unit}, true
}
