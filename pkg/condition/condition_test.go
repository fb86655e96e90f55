package condition

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/paths"
	"github.com/vitagroupag/openFHIR-sub001/service"
)

func oneOf(criteria string) *mapping.Condition {
	return &mapping.Condition{TargetRoot: "$resource", TargetAttribute: "status", Operator: "one of", Criteria: criteria}
}

func TestDecide_OneOf(t *testing.T) {
	c := oneOf("[a,b]")
	assert.Equal(t, Matched, Decide(c, []any{"a"}))
	assert.Equal(t, NotMatched, Decide(c, []any{"c"}))
	assert.Equal(t, NotMatched, Decide(c, nil))
	assert.Equal(t, NotMatched, Decide(c, []any{""}))
	assert.Equal(t, NotMatched, Decide(oneOf("[]"), nil))
	assert.Equal(t, NotApplicable, Decide(nil, []any{"a"}))
}

func TestDecide_Operators(t *testing.T) {
	empty := &mapping.Condition{Operator: "empty"}
	assert.Equal(t, Matched, Decide(empty, nil))
	assert.Equal(t, NotMatched, Decide(empty, []any{"x"}))
	assert.Equal(t, Matched, Decide(empty, []any{false}), "a false boolean is not a value")

	notOf := &mapping.Condition{Operator: "not of", Criteria: "[a]"}
	assert.Equal(t, Matched, Decide(notOf, []any{"b"}))
	assert.Equal(t, NotMatched, Decide(notOf, []any{"a", "b"}))

	flag := &mapping.Condition{Operator: "one of", Criteria: "[true]"}
	assert.Equal(t, Matched, Decide(flag, []any{true}))
	assert.Equal(t, NotMatched, Decide(flag, []any{false}))

	num := &mapping.Condition{Operator: "one of", Criteria: "[120]"}
	assert.Equal(t, Matched, Decide(num, []any{decimal.NewFromInt(120)}))
	assert.Equal(t, Matched, Decide(num, []any{int64(120)}))
}

func TestResult(t *testing.T) {
	assert.True(t, NotApplicable.Include())
	assert.True(t, Matched.Include())
	assert.False(t, NotMatched.Include())
	assert.Equal(t, "not-matched", NotMatched.String())
}

const observation = `{
  "resourceType": "Observation",
  "status": "final",
  "code": {"coding": [{"system": "http://loinc.org", "code": "85354-9"}]},
  "component": [
    {"code": {"coding": [{"code": "8480-6"}]}, "valueQuantity": {"value": 120}},
    {"code": {"coding": [{"code": "8462-4"}]}, "valueQuantity": {"value": 80}}
  ]
}`

func TestEvaluateFHIR(t *testing.T) {
	eval := service.NewFHIRPathAdapter(0)
	ctx := context.Background()

	c := &mapping.Condition{TargetRoot: "$resource.code.coding", TargetAttribute: "code", Operator: "one of", Criteria: "[$loinc.85354-9]"}
	r, err := EvaluateFHIR(ctx, eval, c, []byte(observation), "Observation", "")
	require.NoError(t, err)
	assert.Equal(t, Matched, r)

	c.Criteria = "[$loinc.29463-7]"
	r, err = EvaluateFHIR(ctx, eval, c, []byte(observation), "Observation", "")
	require.NoError(t, err)
	assert.Equal(t, NotMatched, r)

	absent := &mapping.Condition{TargetRoot: "$fhirRoot", TargetAttribute: "effective", Operator: "empty"}
	r, err = EvaluateFHIR(ctx, eval, absent, []byte(observation), "Observation", "")
	require.NoError(t, err)
	assert.Equal(t, Matched, r)

	r, err = EvaluateFHIR(ctx, eval, nil, []byte(observation), "Observation", "")
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, r)
}

func TestTargetExpressions(t *testing.T) {
	c := &mapping.Condition{TargetRoot: "Observation.component", TargetAttributes: []string{"code.coding.code", "code.text"}}
	assert.Equal(t, []string{"component.code.coding.code", "component.code.text"}, TargetExpressions(c, "Observation", ""))
	assert.Equal(t, []string{"x.code.coding.code", "x.code.text"}, TargetExpressions(c, "Observation", "x"))

	root := &mapping.Condition{TargetRoot: "$resource", TargetAttribute: "status"}
	assert.Equal(t, []string{"status"}, TargetExpressions(root, "Observation", ""))
}

func TestTargetsResource(t *testing.T) {
	assert.True(t, TargetsResource(&mapping.Condition{TargetRoot: "$resource", Operator: "one of", Criteria: "[Observation]"}, "Observation"))
	assert.True(t, TargetsResource(&mapping.Condition{TargetRoot: "Observation"}, "Observation"))
	assert.False(t, TargetsResource(oneOf("[final]"), "Observation"))
	assert.False(t, TargetsResource(nil, "Observation"))
}

func TestEvaluateFlat(t *testing.T) {
	flat := map[string]any{
		"p/obs:0/any_event:0/method|code":  "a",
		"p/obs:0/any_event:1/method|code":  "c",
		"p/obs:0/any_event:1/comment":      "hi",
		"p/obs:0/any_event:2/weight|value": 1.0,
	}
	c := &mapping.Condition{TargetAttribute: "code", Operator: "one of", Criteria: "[a,b]"}

	assert.Equal(t, Matched, EvaluateFlat(c, flat, "p/obs:0/any_event:0/method"))
	assert.Equal(t, NotMatched, EvaluateFlat(c, flat, "p/obs:0/any_event:1/method"))
	assert.Equal(t, NotMatched, EvaluateFlat(c, flat, "p/obs:0/any_event:2/method"))
	assert.Equal(t, Matched, EvaluateFlat(c, flat, "p/obs[n]/any_event[n]/method"))

	text := &mapping.Condition{Operator: "one of", Criteria: "[hi]"}
	assert.Equal(t, Matched, EvaluateFlat(text, flat, "p/obs:0/any_event:1/comment"))
}

func TestFilterOccurrences(t *testing.T) {
	flat := map[string]any{
		"p/e:0/v|magnitude": 1.0,
		"p/e:0/kind|code":   "a",
		"p/e:1/v|magnitude": 2.0,
		"p/e:1/kind|code":   "c",
		"p/e:2/v|magnitude": 3.0,
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	groups := paths.GroupKeys(keys, "p/e[n]")
	require.Len(t, groups, 3)

	oneOfA := &mapping.Condition{TargetAttribute: "code", Operator: "one of", Criteria: "[a]"}
	kept := FilterOccurrences(oneOfA, flat, groups, "p/e[n]/kind")
	require.Len(t, kept, 1)
	assert.Equal(t, "p/e:0", kept[0].Path)

	empty := &mapping.Condition{TargetAttribute: "code", Operator: "empty"}
	kept = FilterOccurrences(empty, flat, groups, "p/e[n]/kind")
	require.Len(t, kept, 1)
	assert.Equal(t, "p/e:2", kept[0].Path)

	absent := &mapping.Condition{TargetAttribute: "code", Operator: "one of", Criteria: "[a]"}
	assert.Len(t, FilterOccurrences(absent, flat, groups, "p/e[n]/other"), 3)
	assert.Len(t, FilterOccurrences(nil, flat, groups, "p/e[n]/kind"), 3)
}
