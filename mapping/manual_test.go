package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandManual(t *testing.T) {
	cond := &Condition{TargetRoot: "$fhirRoot", TargetAttribute: "status", Operator: OperatorOneOf, Criteria: "[final]"}
	list := []*Mapping{{
		Name:          "status",
		With:          &With{FHIR: "$fhirRoot.status", OpenEHR: "$openEhrArchetype.status"},
		FHIRCondition: cond,
		Manual: []*Manual{{
			Name:    "final-status",
			OpenEHR: []*ManualEntry{{Path: "value", Value: "Final"}, {Path: "|code", Value: "at0010"}},
			FHIR:    []*ManualEntry{{Path: "extension.url", Value: "http://example.org/status"}},
		}},
	}}

	out := ExpandManual(list)
	require.Len(t, out, 4)
	assert.Nil(t, out[0].Manual)

	assert.Equal(t, "$openEhrArchetype.status/value", out[1].OpenEHR())
	assert.Equal(t, "Final", out[1].Value())
	assert.Empty(t, out[1].FHIR())
	require.NotNil(t, out[1].FHIRCondition)
	assert.Equal(t, cond, out[1].FHIRCondition)
	assert.NotSame(t, cond, out[1].FHIRCondition)

	assert.Equal(t, "$openEhrArchetype.status|code", out[2].OpenEHR())

	assert.Equal(t, "$fhirRoot.status.extension.url", out[3].FHIR())
	assert.Empty(t, out[3].OpenEHR())
	assert.Nil(t, out[3].OpenEHRCondition)
}

func TestExpandManual_Recursive(t *testing.T) {
	list := []*Mapping{{
		Name: "parent",
		With: &With{FHIR: "$fhirRoot.component", OpenEHR: "$openEhrArchetype.any_event"},
		FollowedBy: &FollowedBy{Mappings: []*Mapping{{
			Name:   "child",
			With:   &With{FHIR: "code", OpenEHR: "code"},
			Manual: []*Manual{{Name: "m", FHIR: []*ManualEntry{{Path: "text", Value: "x"}}}},
		}}},
	}}
	out := ExpandManual(list)
	require.Len(t, out, 1)
	children := out[0].Children()
	require.Len(t, children, 2)
	assert.Equal(t, "code.text", children[1].FHIR())
}
