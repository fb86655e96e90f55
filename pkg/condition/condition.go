// Package condition evaluates mapping conditions against FHIR resources and
// flat openEHR compositions.
//
// A condition names a target root, one or more target attributes below it,
// an operator and, for "one of" and "not of", a bracketed criteria list:
//
//	targetRoot: $fhirRoot.component
//	targetAttribute: code.coding.code
//	operator: one of
//	criteria: [$loinc.8480-6]
//
// Evaluation is tri-state. A nil condition is NotApplicable, which callers
// treat the same as Matched.
package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/service"
)

// Result is the outcome of evaluating a condition.
type Result int

const (
	NotApplicable Result = iota
	Matched
	NotMatched
)

func (r Result) String() string {
	switch r {
	case Matched:
		return "matched"
	case NotMatched:
		return "not-matched"
	}
	return "not-applicable"
}

// Include reports whether the guarded data should be processed.
func (r Result) Include() bool {
	return r != NotMatched
}

func of(b bool) Result {
	if b {
		return Matched
	}
	return NotMatched
}

// Operator returns the normalized operator of c.
func Operator(c *mapping.Condition) string {
	if c == nil {
		return ""
	}
	op := strings.ToLower(strings.TrimSpace(c.Operator))
	if op == "" {
		return paths.OpOneOf
	}
	return op
}

// Decide applies the operator of c to the values found at its target.
// Only present values count: empty strings and false booleans do not.
func Decide(c *mapping.Condition, values []any) Result {
	if c == nil {
		return NotApplicable
	}
	var present []string
	for _, v := range values {
		if s, ok := StringOf(v); ok {
			present = append(present, s)
		}
	}
	criteria := paths.ParseCriteria(c.Criteria)

	switch Operator(c) {
	case paths.OpEmpty:
		return of(len(present) == 0)
	case paths.OpNotOf:
		return of(!anyIn(present, criteria))
	default:
		return of(anyIn(present, criteria))
	}
}

func anyIn(values, criteria []string) bool {
	for _, v := range values {
		for _, c := range criteria {
			if v == c {
				return true
			}
		}
	}
	return false
}

// StringOf returns the string form of an evaluated value and whether the
// value counts as present.
func StringOf(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case bool:
		return "true", x
	case int64:
		return fmt.Sprint(x), true
	case float64:
		return decimal.NewFromFloat(x).String(), true
	case decimal.Decimal:
		return x.String(), true
	case json.RawMessage:
		s := strings.TrimSpace(string(x))
		if s == "" || s == "null" || s == "{}" || s == "[]" {
			return "", false
		}
		var str string
		if json.Unmarshal(x, &str) == nil {
			return StringOf(str)
		}
		return s, true
	}
	s := fmt.Sprint(v)
	return s, s != ""
}

// TargetExpressions returns the FHIRPath expressions c reads, one per
// target attribute, relative to the resource of type resourceType. stem
// replaces the target root when it is not empty.
func TargetExpressions(c *mapping.Condition, resourceType, stem string) []string {
	if c == nil {
		return nil
	}
	if stem == "" {
		stem = paths.RelativeFHIRPath(resourceType, paths.RewriteCasts(c.TargetRoot))
	}
	attrs := c.Attributes()
	if len(attrs) == 0 {
		return []string{stem}
	}
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		switch {
		case stem == "":
			out = append(out, a)
		case a == "":
			out = append(out, stem)
		default:
			out = append(out, stem+"."+a)
		}
	}
	return out
}

// TargetsResource reports whether c reads nothing but the resource of type
// resourceType itself. Such a condition holds for every resource of that
// type.
func TargetsResource(c *mapping.Condition, resourceType string) bool {
	attrs := TargetExpressions(c, resourceType, "")
	return len(attrs) == 1 && attrs[0] == ""
}

// EvaluateFHIR evaluates c against a FHIR resource or element. stem is the
// expression of the target root relative to input; when empty the target
// root of c, made relative to resourceType, is used.
func EvaluateFHIR(ctx context.Context, eval service.FHIRPathEvaluator, c *mapping.Condition, input []byte, resourceType, stem string) (Result, error) {
	if c == nil {
		return NotApplicable, nil
	}
	var values []any
	for _, expr := range TargetExpressions(c, resourceType, stem) {
		got, err := eval.Evaluate(ctx, expr, input)
		if err != nil {
			return NotMatched, fmt.Errorf("evaluate condition on %q: %w", expr, err)
		}
		values = append(values, got...)
	}
	return Decide(c, values), nil
}

// AttributePath appends a target attribute to a flat path. RM attributes
// become a |suffix, anything else a child segment.
func AttributePath(root, attr string) string {
	attr = strings.Trim(attr, "/|")
	if attr == "" {
		return root
	}
	if rmtype.Attributes[attr] {
		return root + "|" + attr
	}
	return root + "/" + attr
}

// FlatValues returns the values of flat stored at path. path may carry
// occurrence markers, which match any index, and a |suffix.
func FlatValues(flat map[string]any, path string) []any {
	p, suffix := paths.SplitSuffix(path)
	re := paths.FlatPattern(p)
	var out []any
	for k, v := range flat {
		loc := re.FindStringIndex(k)
		if loc == nil {
			continue
		}
		end := loc[1]
		switch {
		case suffix == "" && end == len(k) && !strings.HasSuffix(k, "/") && !strings.HasSuffix(k, "|"):
			out = append(out, v)
		case suffix != "" && end > 0 && k[end-1] == '|' && k[end:] == suffix:
			out = append(out, v)
		}
	}
	return out
}

// HasKeysBelow reports whether any key of flat lies at or below path.
func HasKeysBelow(flat map[string]any, path string) bool {
	p, _ := paths.SplitSuffix(path)
	re := paths.FlatPattern(p)
	for k := range flat {
		if re.MatchString(k) {
			return true
		}
	}
	return false
}

// EvaluateFlat evaluates c against a flat composition. root is the flat
// path of the target root, usually with the indexes of the occurrence
// being checked already filled in.
func EvaluateFlat(c *mapping.Condition, flat map[string]any, root string) Result {
	if c == nil {
		return NotApplicable
	}
	attrs := c.Attributes()
	if len(attrs) == 0 {
		attrs = []string{""}
	}
	var values []any
	for _, a := range attrs {
		values = append(values, FlatValues(flat, AttributePath(root, a))...)
	}
	return Decide(c, values)
}

// FilterOccurrences keeps the occurrence groups that satisfy c. root is the
// resolved flat path of the target root; each group's indexes are inherited
// onto it before evaluation. When no group has any data below the target
// root the condition cannot discriminate and all groups are kept.
func FilterOccurrences(c *mapping.Condition, flat map[string]any, groups []paths.Group, root string) []paths.Group {
	if c == nil || len(groups) == 0 {
		return groups
	}
	carried := false
	for _, g := range groups {
		if HasKeysBelow(flat, paths.InheritIndexes(root, g.Path)) {
			carried = true
			break
		}
	}
	if !carried {
		return groups
	}
	out := make([]paths.Group, 0, len(groups))
	for _, g := range groups {
		if EvaluateFlat(c, flat, paths.InheritIndexes(root, g.Path)).Include() {
			out = append(out, g)
		}
	}
	return out
}
