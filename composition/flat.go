// Package composition converts openEHR compositions between the flat
// path/value form and canonical JSON, guided by a web template.
//
// A flat composition maps keys such as
//
//	blood_pressure/blood_pressure:0/any_event:0/systolic|magnitude
//
// onto scalar values. Canonical JSON is the hierarchical RM serialization
// with "_type" discriminators. Unflatten and Flatten are inverse for every
// key whose node exists in the template.
package composition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
)

// ContextPrefix starts the keys of composition-level settings such as
// ctx/language, which are not part of the template tree.
const ContextPrefix = "ctx/"

// Flat is a flat composition. Values are strings, float64 numbers or
// booleans.
type Flat map[string]any

// ParseFlat decodes a flat composition. Every value must be a scalar;
// nested objects or arrays are rejected, null values are dropped.
func ParseFlat(data []byte) (Flat, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode flat composition: %w", err)
	}
	out := make(Flat, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case nil:
		case string, float64, bool:
			out[k] = v
		default:
			return nil, fmt.Errorf("decode flat composition: key %q holds a %T, not a scalar", k, v)
		}
	}
	return out, nil
}

// Keys returns the keys of f in lexical order.
func (f Flat) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TemplateKeys returns the sorted keys of f without composition settings.
func (f Flat) TemplateKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		if !strings.HasPrefix(k, ContextPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set stores v at key. Nil values and empty strings are ignored.
func (f Flat) Set(key string, v any) {
	switch x := v.(type) {
	case nil:
		return
	case string:
		if x == "" {
			return
		}
	}
	f[key] = v
}

// String returns the value at key in string form.
func (f Flat) String(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return decimal.NewFromFloat(x).String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	}
	return fmt.Sprint(v), true
}

// Number returns the value at key as a decimal. Numeric strings are
// accepted.
func (f Flat) Number(key string) (decimal.Decimal, bool) {
	switch x := f[key].(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	}
	return decimal.Zero, false
}

// TemplateID returns the normalized first segment of the first template
// key, which by convention is the template id.
func (f Flat) TemplateID() string {
	keys := f.TemplateKeys()
	if len(keys) == 0 {
		return ""
	}
	return openfhir.NormalizeTemplateID(paths.FirstSegment(keys[0]))
}

// Marshal renders f as JSON with sorted keys.
func (f Flat) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(f)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Format is the serialization of an openEHR payload.
type Format int

const (
	FormatUnknown Format = iota
	FormatFlat
	FormatCanonical
)

func (f Format) String() string {
	switch f {
	case FormatFlat:
		return "flat"
	case FormatCanonical:
		return "canonical"
	}
	return "unknown"
}

// Sniff detects the format of an openEHR payload and the normalized
// template id it carries, without decoding it fully.
func Sniff(data []byte) (Format, string) {
	if tid, err := jsonparser.GetString(data, "archetype_details", "template_id", "value"); err == nil {
		return FormatCanonical, openfhir.NormalizeTemplateID(tid)
	}
	if typ, err := jsonparser.GetString(data, "_type"); err == nil && typ == "COMPOSITION" {
		return FormatCanonical, ""
	}

	format := FormatUnknown
	var templateID string
	errStop := errors.New("stop")
	err := jsonparser.ObjectEach(data, func(key, _ []byte, _ jsonparser.ValueType, _ int) error {
		format = FormatFlat
		k := string(key)
		if strings.HasPrefix(k, ContextPrefix) {
			return nil
		}
		templateID = openfhir.NormalizeTemplateID(paths.FirstSegment(k))
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return FormatUnknown, ""
	}
	return format, templateID
}
