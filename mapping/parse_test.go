package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelYAML = `grammar: FHIRConnect/v0.0.1
type: model
metadata:
  name: blood-pressure
spec:
  system: FHIR
  version: R4
  fhirConfig:
    structureDefinition: http://hl7.org/fhir/StructureDefinition/Observation
    condition:
      - targetRoot: $fhirRoot.code.coding
        targetAttribute: code
        operator: one of
        criteria: "[$loinc.85354-9]"
  openEhrConfig:
    archetype: openEHR-EHR-OBSERVATION.blood_pressure.v2
mappings:
  - name: systolic
    with:
      fhir: $fhirRoot.component.value
      openehr: $openEhrArchetype.any_event.systolic
      type: QUANTITY
    fhirCondition:
      targetRoot: $fhirRoot.component
      targetAttribute: code.coding.code
      operator: one of
      criteria: "[$loinc.8480-6]"
`

const contextYAML = `grammar: FHIRConnect/v0.0.1
type: context
metadata:
  name: blood-pressure-context
context:
  profile:
    url: http://hl7.org/fhir/StructureDefinition/Observation
  template:
    id: Blood Pressure
  archetypes:
    - openEHR-EHR-OBSERVATION.blood_pressure.v2
`

func TestParseModel(t *testing.T) {
	m, err := ParseModel([]byte(modelYAML))
	require.NoError(t, err)
	assert.Equal(t, "blood-pressure", m.Name())
	assert.Equal(t, "openEHR-EHR-OBSERVATION.blood_pressure.v2", m.Archetype())
	assert.Equal(t, "Observation", m.ResourceType())
	require.Len(t, m.Conditions(), 1)
	assert.Equal(t, "[$loinc.85354-9]", m.Conditions()[0].Criteria)
	require.Len(t, m.Mappings, 1)
	assert.Equal(t, "QUANTITY", m.Mappings[0].TypeHint())
	assert.Equal(t, OperatorOneOf, m.Mappings[0].FHIRCondition.Operator)
}

func TestParseContext(t *testing.T) {
	c, err := ParseContext([]byte(contextYAML))
	require.NoError(t, err)
	assert.Equal(t, "Blood Pressure", c.TemplateID())
	assert.Equal(t, "Observation", c.ResourceType())
	assert.Equal(t, []string{"openEHR-EHR-OBSERVATION.blood_pressure.v2"}, c.Spec.Archetypes)
}

func TestParse_Errors(t *testing.T) {
	_, err := ParseModel([]byte("metadata:\n  name: x\n"))
	assert.Error(t, err)
	_, err = ParseContext([]byte(""))
	assert.Error(t, err)
	_, err = ParseModel([]byte("mappings: [unclosed"))
	assert.Error(t, err)
}

func TestSniff(t *testing.T) {
	k, err := Sniff([]byte(contextYAML))
	require.NoError(t, err)
	assert.Equal(t, KindContext, k)

	k, err = Sniff([]byte(modelYAML))
	require.NoError(t, err)
	assert.Equal(t, KindModel, k)
}

func TestModelClone_IsDeep(t *testing.T) {
	m, err := ParseModel([]byte(modelYAML))
	require.NoError(t, err)
	c := m.Clone()
	c.Mappings[0].With.FHIR = "changed"
	c.Spec.FHIRConfig.Conditions[0].Criteria = "[x]"
	assert.Equal(t, "$fhirRoot.component.value", m.Mappings[0].With.FHIR)
	assert.Equal(t, "[$loinc.85354-9]", m.Conditions()[0].Criteria)
}

func TestResourceTypeOf(t *testing.T) {
	assert.Equal(t, "Observation", ResourceTypeOf("http://hl7.org/fhir/StructureDefinition/Observation"))
	assert.Equal(t, "Patient", ResourceTypeOf("http://hl7.org/fhir/StructureDefinition/Patient|4.0.1"))
	assert.Equal(t, "Condition", ResourceTypeOf("Condition"))
}

func TestCondition_Attributes(t *testing.T) {
	c := &Condition{TargetAttribute: "code", TargetAttributes: []string{"code", "system"}}
	assert.Equal(t, []string{"code", "system"}, c.Attributes())
	assert.Nil(t, (*Condition)(nil).Attributes())
}
