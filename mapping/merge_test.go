package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseMappings() []*Mapping {
	return []*Mapping{
		{
			Name: "medication",
			With: &With{FHIR: "$fhirRoot.medication", OpenEHR: "$openEhrArchetype.medication_item"},
			FollowedBy: &FollowedBy{Mappings: []*Mapping{
				{Name: "code", With: &With{FHIR: "code", OpenEHR: "$openEhrArchetype.medication_item", Type: "CODEABLECONCEPT"}},
			}},
		},
		{
			Name: "dosage",
			With: &With{FHIR: "$fhirRoot.dosageInstruction", OpenEHR: "$openEhrArchetype.order"},
		},
	}
}

func TestMerge_EmptyExtensionListIsIdentity(t *testing.T) {
	base := &Model{Metadata: Metadata{Name: "medication-order"}, Mappings: baseMappings()}
	merged, diags := MergeModel(base)
	assert.Empty(t, diags)
	assert.Equal(t, base.Mappings, merged.Mappings)
	assert.NotSame(t, base.Mappings[0], merged.Mappings[0])
}

func TestMerge_Add(t *testing.T) {
	out, ok := Merge(baseMappings(), &Mapping{Name: "note", Extension: "add", With: &With{FHIR: "$fhirRoot.note.text"}})
	require.True(t, ok)
	require.Len(t, out, 3)
	assert.Equal(t, "note", out[2].Name)
	assert.Empty(t, out[2].Extension)
}

func TestMerge_AppendResolvesDottedPath(t *testing.T) {
	base := baseMappings()
	ext := &Mapping{
		Name:     "strength",
		Extension: ExtensionAppend,
		AppendTo: "medication.code",
		FHIRCondition: &Condition{TargetRoot: "$fhirRoot", TargetAttribute: "status", Operator: OperatorOneOf, Criteria: "[active]"},
		FollowedBy: &FollowedBy{Mappings: []*Mapping{
			{Name: "strength-text", With: &With{FHIR: "text", OpenEHR: "strength"}},
		}},
	}
	out, ok := Merge(base, ext)
	require.True(t, ok)
	target := Find(out, "medication.code")
	require.NotNil(t, target)
	require.Len(t, target.Children(), 1)
	assert.Equal(t, "strength-text", target.Children()[0].Name)
	require.NotNil(t, target.FHIRCondition)
	assert.Equal(t, "status", target.FHIRCondition.TargetAttribute)
}

func TestMerge_UnmatchedAppendLeavesBaseUnchanged(t *testing.T) {
	base := &Model{Metadata: Metadata{Name: "medication-order"}, Mappings: baseMappings()}
	before, err := MarshalModel(base)
	require.NoError(t, err)

	ext := &Model{
		Metadata: Metadata{Name: "ext"},
		Spec:     Spec{ExtensionOf: "medication-order"},
		Mappings: []*Mapping{{
			Name:       "x",
			Extension:  ExtensionAppend,
			AppendTo:   "medication.nope",
			FollowedBy: &FollowedBy{Mappings: []*Mapping{{Name: "y"}}},
		}},
	}
	merged, diags := MergeModel(base, ext)
	require.Len(t, diags, 1)
	assert.Equal(t, DiagUnmatchedAppend, diags[0].Code)

	after, err := MarshalModel(merged)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	// direct merge on the live list must not touch it either
	list := baseMappings()
	snapshot := CloneAll(list)
	out, ok := Merge(list, ext.Mappings[0])
	assert.False(t, ok)
	assert.Equal(t, snapshot, out)
}

func TestMerge_OverwriteKeepsName(t *testing.T) {
	out, ok := Merge(baseMappings(), &Mapping{
		Name:      "dosage",
		Extension: ExtensionOverwrite,
		With:      &With{FHIR: "$fhirRoot.dosageInstruction.text", OpenEHR: "$openEhrArchetype.order.dose"},
	})
	require.True(t, ok)
	d := Find(out, "dosage")
	require.NotNil(t, d)
	assert.Equal(t, "dosage", d.Name)
	assert.Equal(t, "$fhirRoot.dosageInstruction.text", d.FHIR())
	assert.Nil(t, d.FollowedBy)
}

func TestMerge_AddKeepsCallerArray(t *testing.T) {
	base := make([]*Mapping, 2, 8)
	copy(base, baseMappings())
	spare := base[:3]

	out, ok := Merge(base, &Mapping{Name: "note", Extension: "add"})
	require.True(t, ok)
	require.Len(t, out, 3)
	assert.Nil(t, spare[2], "caller's spare capacity was written")
}

func TestMerge_OverwriteNestedByBareName(t *testing.T) {
	out, ok := Merge(baseMappings(), &Mapping{
		Name:      "code",
		Extension: ExtensionOverwrite,
		With:      &With{FHIR: "code.text", OpenEHR: "$openEhrArchetype.medication_item"},
	})
	require.True(t, ok)
	code := Find(out, "medication.code")
	require.NotNil(t, code)
	assert.Equal(t, "code.text", code.FHIR())

	_, ok = Merge(baseMappings(), &Mapping{Name: "nope", Extension: ExtensionOverwrite})
	assert.False(t, ok)
}

func TestFind(t *testing.T) {
	list := baseMappings()
	assert.Equal(t, "code", Find(list, "medication.code").Name)
	assert.Nil(t, Find(list, "medication.code.deeper"))
	assert.Nil(t, Find(list, ""))

	list = append(list, &Mapping{Name: "a.b"})
	assert.Equal(t, "a.b", Find(list, "a.b").Name)
}

func TestMergeModel_ExtensionReplacesFHIRConfig(t *testing.T) {
	base := &Model{Metadata: Metadata{Name: "b"}, Spec: Spec{FHIRConfig: &FHIRConfig{StructureDefinition: "Observation"}}}
	ext := &Model{Metadata: Metadata{Name: "e"}, Spec: Spec{ExtensionOf: "b", FHIRConfig: &FHIRConfig{StructureDefinition: "http://hl7.org/fhir/StructureDefinition/Condition"}}}
	merged, _ := MergeModel(base, ext)
	assert.Equal(t, "Condition", merged.ResourceType())
	assert.Equal(t, "Observation", base.ResourceType())
}
