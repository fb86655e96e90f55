package toopenehr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/pkg/terminology"
	"github.com/vitagroupag/openFHIR-sub001/pool"
)

// numericSuffixes are flat attributes holding numbers.
var numericSuffixes = map[string]bool{
	"magnitude":   true,
	"numerator":   true,
	"denominator": true,
	"ordinal":     true,
	"size":        true,
	"precision":   true,
}

// ucumDurations maps UCUM time units to ISO 8601 designators.
var ucumDurations = map[string]string{
	"s":   "S",
	"min": "M",
	"h":   "H",
	"d":   "D",
	"wk":  "W",
	"mo":  "M",
	"a":   "Y",
}

// writer fills flat compositions from FHIRPath results.
type writer struct {
	terms *terminology.Registry
}

// populate writes v to path as an RM value of type typ. It reports whether
// anything was written.
func (w *writer) populate(out composition.Flat, path string, typ rmtype.Type, v any) bool {
	if _, suffix := paths.SplitSuffix(path); suffix != "" {
		return w.scalar(out, path, suffix, v)
	}
	raw, complex := v.(json.RawMessage)

	switch typ {
	case rmtype.None, rmtype.Cluster, rmtype.Element, rmtype.Unknown:
		return false

	case rmtype.DvQuantity:
		if complex {
			mag, ok := number(raw, "value")
			if !ok {
				return false
			}
			out.Set(pool.FlatKey(path, "magnitude"), mag)
			if unit := firstString(raw, "code", "unit"); unit != "" {
				out.Set(pool.FlatKey(path, "unit"), unit)
			}
			return true
		}
		return w.setNumber(out, pool.FlatKey(path, "magnitude"), v)

	case rmtype.DvCount:
		if complex {
			if n, ok := number(raw, "value"); ok {
				out.Set(path, n)
				return true
			}
			return false
		}
		return w.setNumber(out, path, v)

	case rmtype.DvProportion:
		if !complex {
			return false
		}
		if num, ok := number(raw, "numerator", "value"); ok {
			den, _ := number(raw, "denominator", "value")
			out.Set(pool.FlatKey(path, "numerator"), num)
			out.Set(pool.FlatKey(path, "denominator"), den)
			out.Set(pool.FlatKey(path, "type"), 0.0)
			return true
		}
		if num, ok := number(raw, "value"); ok && firstString(raw, "code", "unit") == "%" {
			out.Set(pool.FlatKey(path, "numerator"), num)
			out.Set(pool.FlatKey(path, "denominator"), 100.0)
			out.Set(pool.FlatKey(path, "type"), 2.0)
			return true
		}
		return false

	case rmtype.DvOrdinal:
		if complex {
			c := coding(raw)
			if c.code == "" {
				if n, ok := number(raw, "value"); ok {
					out.Set(pool.FlatKey(path, "ordinal"), n)
					return true
				}
				return false
			}
			out.Set(pool.FlatKey(path, "code"), c.code)
			if c.display != "" {
				out.Set(pool.FlatKey(path, "value"), c.display)
			}
			out.Set(pool.FlatKey(path, "terminology"), w.terminologyID(c.system))
			return true
		}
		return w.setNumber(out, pool.FlatKey(path, "ordinal"), v)

	case rmtype.DvDateTime, rmtype.DvDate, rmtype.DvTime:
		if complex {
			// Period
			if start := firstString(raw, "start", "end"); start != "" {
				out.Set(path, start)
				return true
			}
			return false
		}
		return w.setString(out, path, v)

	case rmtype.DvDuration:
		if complex {
			d, ok := duration(raw)
			if !ok {
				return false
			}
			out.Set(path, d)
			return true
		}
		return w.setString(out, path, v)

	case rmtype.DvCodedText:
		if !complex {
			s, ok := stringOf(v)
			if !ok {
				return false
			}
			out.Set(pool.FlatKey(path, "code"), s)
			out.Set(pool.FlatKey(path, "value"), s)
			out.Set(pool.FlatKey(path, "terminology"), "local")
			return true
		}
		c := coding(raw)
		if c.code == "" {
			// text only
			if text := firstString(raw, "text", "display"); text != "" {
				out.Set(pool.FlatKey(path, "value"), text)
				return true
			}
			return false
		}
		out.Set(pool.FlatKey(path, "code"), c.code)
		if value := firstNonEmpty(c.display, firstString(raw, "text")); value != "" {
			out.Set(pool.FlatKey(path, "value"), value)
		}
		out.Set(pool.FlatKey(path, "terminology"), w.terminologyID(c.system))
		return true

	case rmtype.CodePhrase:
		if !complex {
			s, ok := stringOf(v)
			if !ok {
				return false
			}
			out.Set(pool.FlatKey(path, "code"), s)
			out.Set(pool.FlatKey(path, "terminology"), "local")
			return true
		}
		c := coding(raw)
		if c.code == "" {
			return false
		}
		out.Set(pool.FlatKey(path, "code"), c.code)
		out.Set(pool.FlatKey(path, "terminology"), w.terminologyID(c.system))
		return true

	case rmtype.DvText:
		if complex {
			text := firstString(raw, "text", "display", "value")
			if text == "" {
				text = codingAt(raw).display
			}
			if text == "" {
				return false
			}
			out.Set(path, text)
			return true
		}
		return w.setString(out, path, v)

	case rmtype.DvIdentifier:
		if !complex {
			return w.setString(out, pool.FlatKey(path, "id"), v)
		}
		id := firstString(raw, "value")
		if id == "" {
			return false
		}
		out.Set(pool.FlatKey(path, "id"), id)
		if system := firstString(raw, "system"); system != "" {
			out.Set(pool.FlatKey(path, "issuer"), system)
		}
		if assigner, err := jsonparser.GetString(raw, "assigner", "display"); err == nil && assigner != "" {
			out.Set(pool.FlatKey(path, "assigner"), assigner)
		}
		if typ := firstNonEmpty(textOf(raw, "type"), codingAt(raw, "type").code); typ != "" {
			out.Set(pool.FlatKey(path, "type"), typ)
		}
		return true

	case rmtype.DvBoolean:
		switch b := v.(type) {
		case bool:
			out.Set(path, b)
			return true
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				out.Set(path, parsed)
				return true
			}
		}
		return false

	case rmtype.DvMultimedia:
		if !complex {
			return w.setString(out, pool.FlatKey(path, "url"), v)
		}
		url := firstString(raw, "url")
		if url == "" {
			return false
		}
		out.Set(pool.FlatKey(path, "url"), url)
		if ct := firstString(raw, "contentType"); ct != "" {
			out.Set(pool.FlatKey(path, "mediatype"), ct)
		}
		if size, ok := number(raw, "size"); ok {
			out.Set(pool.FlatKey(path, "size"), size)
		}
		if title := firstString(raw, "title"); title != "" {
			out.Set(pool.FlatKey(path, "alternatetext"), title)
		}
		return true

	case rmtype.DvURI:
		if complex {
			return w.setString(out, path, firstString(raw, "url", "value"))
		}
		return w.setString(out, path, v)

	case rmtype.DvParsable:
		var ok bool
		if complex {
			ok = w.setString(out, path, firstString(raw, "text", "value", "data"))
		} else {
			ok = w.setString(out, path, v)
		}
		if ok {
			out.Set(pool.FlatKey(path, "formalism"), "text/plain")
		}
		return ok
	}
	return false
}

// scalar writes v to a path that already names an RM attribute.
func (w *writer) scalar(out composition.Flat, path, suffix string, v any) bool {
	if numericSuffixes[suffix] {
		if raw, ok := v.(json.RawMessage); ok {
			n, ok := number(raw, "value")
			if !ok {
				return false
			}
			out.Set(path, n)
			return true
		}
		return w.setNumber(out, path, v)
	}
	if raw, ok := v.(json.RawMessage); ok {
		switch suffix {
		case "terminology":
			if c := coding(raw); c.system != "" {
				out.Set(path, w.terminologyID(c.system))
				return true
			}
		case "code":
			if c := coding(raw); c.code != "" {
				out.Set(path, c.code)
				return true
			}
		}
		return w.setString(out, path, firstString(raw, "text", "display", "value"))
	}
	if b, ok := v.(bool); ok {
		out.Set(path, b)
		return true
	}
	if suffix == "terminology" {
		if s, ok := stringOf(v); ok {
			out.Set(path, w.terminologyID(s))
			return true
		}
	}
	return w.setString(out, path, v)
}

func (w *writer) terminologyID(system string) string {
	if system == "" {
		return "local"
	}
	return w.terms.OpenEHR(system)
}

func (w *writer) setString(out composition.Flat, key string, v any) bool {
	s, ok := stringOf(v)
	if !ok {
		return false
	}
	out.Set(key, s)
	return true
}

func (w *writer) setNumber(out composition.Flat, key string, v any) bool {
	n, ok := floatOf(v)
	if !ok {
		return false
	}
	out.Set(key, n)
	return true
}

// stringOf renders a primitive FHIRPath result.
func stringOf(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case decimal.Decimal:
		return x.String(), true
	case json.RawMessage:
		var s string
		if json.Unmarshal(x, &s) == nil {
			return s, s != ""
		}
		return "", false
	}
	s := fmt.Sprint(v)
	return s, s != ""
}

func floatOf(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case decimal.Decimal:
		return x.InexactFloat64(), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}

// number reads a JSON number at keys.
func number(raw []byte, keys ...string) (float64, bool) {
	n, err := jsonparser.GetFloat(raw, keys...)
	if err != nil {
		return 0, false
	}
	return n, true
}

// firstString returns the first non-empty string member among names.
func firstString(raw []byte, names ...string) string {
	for _, name := range names {
		if s, err := jsonparser.GetString(raw, name); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func textOf(raw []byte, member string) string {
	s, _ := jsonparser.GetString(raw, member, "text")
	return s
}

type codingValue struct {
	system, code, display string
}

// coding reads a Coding, or the first coding of a CodeableConcept.
func coding(raw []byte) codingValue {
	if c := codingAt(raw); c.code != "" {
		return c
	}
	return readCoding(raw)
}

// codingAt reads the first coding below the member path.
func codingAt(raw []byte, member ...string) codingValue {
	keys := append(append([]string{}, member...), "coding", "[0]")
	el, _, _, err := jsonparser.Get(raw, keys...)
	if err != nil {
		return codingValue{}
	}
	return readCoding(el)
}

func readCoding(raw []byte) codingValue {
	return codingValue{
		system:  firstString(raw, "system"),
		code:    firstString(raw, "code"),
		display: firstString(raw, "display"),
	}
}

// duration renders a Duration or time Quantity as an ISO 8601 duration.
func duration(raw []byte) (string, bool) {
	n, ok := number(raw, "value")
	if !ok {
		return "", false
	}
	designator, ok := ucumDurations[firstString(raw, "code", "unit")]
	if !ok {
		return "", false
	}
	value := decimal.NewFromFloat(n).String()
	switch designator {
	case "H", "S":
		return "PT" + value + designator, true
	case "M":
		if firstString(raw, "code", "unit") == "min" {
			return "PT" + value + designator, true
		}
	}
	return "P" + value + designator, true
}
