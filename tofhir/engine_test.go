package tofhir

import (
	"context"
	"errors"
	"testing"

	"github.com/gofhir/fhir/r4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/loader"
	"github.com/vitagroupag/openFHIR-sub001/registry"
	"github.com/vitagroupag/openFHIR-sub001/specs"
)

func entry(t *testing.T, set specs.Set, templateID string) *registry.Entry {
	t.Helper()
	fsys, err := specs.FS(set)
	require.NoError(t, err)
	store := loader.NewStore()
	_, err = store.LoadFS(fsys)
	require.NoError(t, err)
	e, err := registry.New(store, store).Get(context.Background(), templateID)
	require.NoError(t, err)
	return e
}

func observations(t *testing.T, b *r4.Bundle) []*r4.Observation {
	t.Helper()
	var out []*r4.Observation
	for _, e := range b.Entry {
		obs, ok := e.Resource.(*r4.Observation)
		require.True(t, ok, "entry %T", e.Resource)
		out = append(out, obs)
	}
	return out
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func TestMap_BloodPressure(t *testing.T) {
	flat, err := composition.ParseFlat(specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json"))
	require.NoError(t, err)
	result := openfhir.NewResult()

	bundle, err := New().WithIDs(fixedIDs()).Map(context.Background(), Request{
		Entry: entry(t, specs.BloodPressure, "Blood Pressure"),
		Flat:  flat,
	}, result)
	require.NoError(t, err)
	assert.True(t, result.OK, "%v", result.Issues)
	assert.Equal(t, r4.BundleTypeCollection, *bundle.Type)
	require.Len(t, bundle.Entry, 1)
	assert.Equal(t, "urn:uuid:id-1", str(bundle.Entry[0].FullUrl))

	obs := observations(t, bundle)[0]
	require.Len(t, obs.Code.Coding, 1)
	assert.Equal(t, "85354-9", str(obs.Code.Coding[0].Code))
	assert.Equal(t, "http://loinc.org", str(obs.Code.Coding[0].System))
	assert.Equal(t, "2024-03-01T10:15:00Z", str(obs.EffectiveDateTime))

	require.Len(t, obs.Note, 1)
	assert.Equal(t, "after exercise", str(obs.Note[0].Text))

	require.NotNil(t, obs.BodySite)
	require.Len(t, obs.BodySite.Coding, 1)
	assert.Equal(t, "368209003", str(obs.BodySite.Coding[0].Code))
	assert.Equal(t, "http://snomed.info/sct", str(obs.BodySite.Coding[0].System))
	assert.Equal(t, "Right arm", str(obs.BodySite.Coding[0].Display))

	require.Len(t, obs.Component, 2)
	for i, want := range []struct {
		code  string
		value float64
	}{{"8480-6", 120}, {"8462-4", 80}} {
		c := obs.Component[i]
		require.Len(t, c.Code.Coding, 1)
		assert.Equal(t, want.code, str(c.Code.Coding[0].Code))
		assert.Equal(t, "http://loinc.org", str(c.Code.Coding[0].System))
		require.NotNil(t, c.ValueQuantity)
		require.NotNil(t, c.ValueQuantity.Value)
		assert.Equal(t, want.value, *c.ValueQuantity.Value)
		assert.Equal(t, "mm[Hg]", str(c.ValueQuantity.Unit))
	}
	assert.Nil(t, obs.Interpretation)
	assert.Equal(t, []string{"openEHR-EHR-OBSERVATION.blood_pressure.v2"}, result.Archetypes)
}

func TestMap_GrowthChart(t *testing.T) {
	flat := composition.Flat{}
	for k, v := range map[string]any{
		"growth_chart/body_weight/any_event:0/weight|magnitude": 65.0,
		"growth_chart/body_weight/any_event:0/weight|unit":      "kg",
		"growth_chart/body_weight/any_event:0/time":             "2024-01-10T08:00:00Z",
		"growth_chart/body_weight/any_event:0/comment":          "before breakfast",
		"growth_chart/body_weight/any_event:1/weight|magnitude": 66.0,
		"growth_chart/body_weight/any_event:1/weight|unit":      "kg",
		"growth_chart/body_weight/any_event:1/time":             "2024-02-10T08:00:00Z",
		"growth_chart/body_weight/any_event:2/weight|magnitude": 68.0,
		"growth_chart/body_weight/any_event:2/weight|unit":      "kg",
		"ctx/language":                                          "en",
	} {
		flat.Set(k, v)
	}
	result := openfhir.NewResult()

	bundle, err := New().Map(context.Background(), Request{
		Entry: entry(t, specs.GrowthChart, "Growth chart"),
		Flat:  flat,
	}, result)
	require.NoError(t, err)

	obs := observations(t, bundle)
	require.Len(t, obs, 3)
	for i, want := range []float64{65, 66, 68} {
		o := obs[i]
		require.NotNil(t, o.Status)
		assert.Equal(t, "final", string(*o.Status))
		assert.Equal(t, "29463-7", str(o.Code.Coding[0].Code))
		require.NotNil(t, o.ValueQuantity)
		assert.Equal(t, want, *o.ValueQuantity.Value)
		assert.Equal(t, "kg", str(o.ValueQuantity.Unit))
		assert.NotEmpty(t, str(o.Id))
	}
	assert.Equal(t, "2024-01-10T08:00:00Z", str(obs[0].EffectiveDateTime))
	assert.Nil(t, obs[2].EffectiveDateTime)
	require.Len(t, obs[0].Note, 1)
	assert.Empty(t, obs[1].Note)
	assert.NotEqual(t, str(obs[0].Id), str(obs[1].Id))
	assert.Equal(t, []string{"openEHR-EHR-OBSERVATION.body_weight.v2"}, result.Archetypes)
}

func TestMap_Empty(t *testing.T) {
	result := openfhir.NewResult()
	bundle, err := New().Map(context.Background(), Request{
		Entry: entry(t, specs.BloodPressure, "Blood Pressure"),
		Flat:  composition.Flat{"ctx/language": "en"},
	}, result)
	require.NoError(t, err)
	assert.Empty(t, bundle.Entry)
	assert.Len(t, result.ByCode(openfhir.CodeNoMapper), 1)

	_, err = New().Map(context.Background(), Request{Flat: composition.Flat{}}, openfhir.NewResult())
	assert.True(t, errors.Is(err, openfhir.ErrNoContext))
}

func TestIsoDuration(t *testing.T) {
	q, ok := isoDuration("P3D")
	require.True(t, ok)
	assert.Equal(t, 3.0, q["value"])
	assert.Equal(t, "d", q["unit"])

	q, ok = isoDuration("PT1.5H")
	require.True(t, ok)
	assert.Equal(t, 1.5, q["value"])
	assert.Equal(t, "h", q["unit"])

	for _, bad := range []string{"", "P", "3D", "P1DT2H"} {
		_, ok := isoDuration(bad)
		assert.False(t, ok, bad)
	}
}
