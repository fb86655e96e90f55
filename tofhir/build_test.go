package tofhir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitagroupag/openFHIR-sub001/pkg/fhirschema"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
)

func fixedIDs() func() string {
	ids := []string{"id-1", "id-2", "id-3", "id-4"}
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func text(s string) shaper {
	return func(el *fhirschema.Element) (any, bool) { return coerce(s, el) }
}

func TestBuilder_SharedPrefix(t *testing.T) {
	b := newBuilder()
	b.newID = fixedIDs()
	obs, err := b.resource("Observation")
	require.NoError(t, err)

	expr := "component.where((code.coding.code contains '8480-6')).value"
	quantity := func(el *fhirschema.Element) (any, bool) {
		return map[string]any{"value": 120.0, "unit": "mm[Hg]"}, true
	}
	ok, err := b.assign(obs, expr, "any_event:0", rmtype.HintQuantity, "http://loinc.org", quantity)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = b.assign(obs, "component.where((code.coding.code contains '8480-6')).interpretation.text", "any_event:0", rmtype.HintString, "", text("high"))
	require.NoError(t, err)
	_, err = b.assign(obs, "component.where((code.coding.code contains '8462-4')).value", "any_event:0", rmtype.HintQuantity, "http://loinc.org", quantity)
	require.NoError(t, err)

	out := obs.JSON()
	components := out["component"].([]any)
	require.Len(t, components, 2)

	systolic := components[0].(map[string]any)
	assert.Equal(t, map[string]any{"value": 120.0, "unit": "mm[Hg]"}, systolic["valueQuantity"])
	coding := systolic["code"].(map[string]any)["coding"].([]any)[0].(map[string]any)
	assert.Equal(t, "8480-6", coding["code"])
	assert.Equal(t, "http://loinc.org", coding["system"])
	assert.Len(t, systolic["interpretation"], 1)

	diastolic := components[1].(map[string]any)
	assert.Equal(t, "8462-4", diastolic["code"].(map[string]any)["coding"].([]any)[0].(map[string]any)["code"])
	assert.Equal(t, "id-1", out["id"])
}

func TestBuilder_Occurrences(t *testing.T) {
	b := newBuilder()
	obs, err := b.resource("Observation")
	require.NoError(t, err)

	for _, occ := range []string{"any_event:0", "any_event:1", "any_event:0"} {
		_, err := b.assign(obs, "note.text", occ, rmtype.HintString, "", text(occ))
		require.NoError(t, err)
	}
	notes := obs.JSON()["note"].([]any)
	require.Len(t, notes, 2)
	assert.Equal(t, "any_event:0", notes[0].(map[string]any)["text"])
	assert.Equal(t, "any_event:1", notes[1].(map[string]any)["text"])
}

func TestBuilder_Resolve(t *testing.T) {
	b := newBuilder()
	b.newID = fixedIDs()
	obs, err := b.resource("Observation")
	require.NoError(t, err)

	_, err = b.assign(obs, "subject.resolve().ofType(Patient).name.text", "", rmtype.HintString, "", text("Jane Doe"))
	require.NoError(t, err)
	_, err = b.assign(obs, "subject.resolve().ofType(Patient).gender", "", rmtype.HintString, "", text("female"))
	require.NoError(t, err)

	require.Len(t, b.created, 1)
	patient := b.created[0].JSON()
	assert.Equal(t, "Patient", patient["resourceType"])
	assert.Equal(t, "id-2", patient["id"])
	assert.Equal(t, "female", patient["gender"])
	assert.Equal(t, "Jane Doe", patient["name"].([]any)[0].(map[string]any)["text"])
	assert.Equal(t, "urn:uuid:id-2", obs.JSON()["subject"].(map[string]any)["reference"])

	_, err = b.assign(obs, "subject.resolve().name.text", "x", rmtype.HintString, "", text("x"))
	assert.Error(t, err)
}

func TestBuilder_Errors(t *testing.T) {
	b := newBuilder()
	obs, err := b.resource("Observation")
	require.NoError(t, err)

	_, err = b.assign(obs, "nothing.here", "", rmtype.HintString, "", text("x"))
	assert.Error(t, err)
	_, err = b.assign(obs, "status.text", "", rmtype.HintString, "", text("x"))
	assert.Error(t, err)

	_, err = b.resource("NoSuchResource")
	assert.Error(t, err)
}

func TestHardcode(t *testing.T) {
	b := newBuilder()
	obs, err := b.resource("Observation")
	require.NoError(t, err)

	b.hardcode(obs, "(category.coding.code contains 'vital-signs') or (category.coding.code contains 'x')", "")
	b.hardcode(obs, "code.coding.code = '29463-7'", "http://loinc.org")
	b.hardcode(obs, "((status contains 'final')).not()", "")
	b.hardcode(obs, "method.empty()", "")

	out := obs.JSON()
	cat := out["category"].([]any)[0].(map[string]any)["coding"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"code": "vital-signs"}, cat)
	code := out["code"].(map[string]any)["coding"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"code": "29463-7", "system": "http://loinc.org"}, code)
	assert.NotContains(t, out, "status")
	assert.NotContains(t, out, "method")

	assert.True(t, has(obs, "code.coding.code"))
	assert.False(t, has(obs, "code.text"))
}
