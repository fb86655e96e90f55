package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/gofhir/fhir/r4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/loader"
	"github.com/vitagroupag/openFHIR-sub001/specs"
	"github.com/vitagroupag/openFHIR-sub001/worker"
)

// newEngine loads every embedded mapping set.
func newEngine(t testing.TB, opts ...openfhir.Option) *Engine {
	t.Helper()
	store := loader.NewStore()
	for _, set := range specs.Sets() {
		fsys, err := specs.FS(set)
		require.NoError(t, err)
		_, err = store.LoadFS(fsys)
		require.NoError(t, err)
	}
	eng := New(store, store, opts...)
	eng.SetDefaults(composition.Defaults{
		Language:  "en",
		Territory: "DE",
		Composer:  "tester",
		Now:       func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return eng
}

func bpFlat(t testing.TB) composition.Flat {
	t.Helper()
	flat, err := composition.ParseFlat(specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json"))
	require.NoError(t, err)
	return flat
}

var (
	bpObservation = specs.MustReadFile(specs.BloodPressure, "blood_pressure.observation.json")
	growthBundle  = specs.MustReadFile(specs.GrowthChart, "growth_chart.bundle.json")
)

func TestToOpenEHR_Flat(t *testing.T) {
	eng := newEngine(t)

	data, result, err := eng.ToOpenEHR(context.Background(), bpObservation, "Blood Pressure", true)
	require.NoError(t, err)
	assert.True(t, result.OK, "%v", result.Issues)

	flat, err := composition.ParseFlat(data)
	require.NoError(t, err)
	assert.Equal(t, bpFlat(t), flat)
}

func TestToOpenEHR_Canonical(t *testing.T) {
	eng := newEngine(t)

	data, _, err := eng.ToOpenEHR(context.Background(), bpObservation, "blood_pressure", false)
	require.NoError(t, err)

	var comp map[string]any
	require.NoError(t, json.Unmarshal(data, &comp))
	assert.Equal(t, "COMPOSITION", comp["_type"])

	format, id := composition.Sniff(data)
	assert.Equal(t, composition.FormatCanonical, format)
	assert.Equal(t, "blood_pressure", id)
}

func TestToOpenEHR_ContextSelection(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	// the blood pressure context has a matching fhir condition
	data, result, err := eng.ToOpenEHR(ctx, bpObservation, "", true)
	require.NoError(t, err)
	assert.Equal(t, "blood_pressure", result.TemplateID)
	flat, err := composition.ParseFlat(data)
	require.NoError(t, err)
	assert.Equal(t, "blood_pressure", flat.TemplateID())

	// the growth chart context has no condition and is the fallback
	data, result, err = eng.ToOpenEHR(ctx, growthBundle, "", true)
	require.NoError(t, err)
	assert.Equal(t, "growth_chart", result.TemplateID)
	flat, err = composition.ParseFlat(data)
	require.NoError(t, err)
	assert.Equal(t, 65.0, flat["growth_chart/body_weight/any_event:0/weight|magnitude"])

	_, _, err = eng.ToOpenEHR(ctx, []byte(`{"resourceType":"Patient","id":"p"}`), "", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, openfhir.ErrNoContext))
	assert.True(t, openfhir.IsBadRequest(err))
}

func TestContextMatches_ResourceOnlyCondition(t *testing.T) {
	eng := newEngine(t)
	c := &mapping.Context{Spec: mapping.ContextSpec{
		Profile:       &mapping.Profile{URL: "http://hl7.org/fhir/StructureDefinition/Observation"},
		FHIRCondition: &mapping.Condition{TargetRoot: "$resource", Operator: "one of", Criteria: "[Observation]"},
	}}

	ok, unconditional := eng.contextMatches(context.Background(), c, [][]byte{bpObservation})
	assert.True(t, ok)
	assert.True(t, unconditional)

	ok, _ = eng.contextMatches(context.Background(), c, [][]byte{[]byte(`{"resourceType":"Patient"}`)})
	assert.False(t, ok)
}

func TestToOpenEHR_Errors(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	_, _, err := eng.ToOpenEHR(ctx, bpObservation, "unknown template", true)
	assert.True(t, errors.Is(err, openfhir.ErrNoContext))

	_, _, err = eng.ToOpenEHR(ctx, []byte(`{"id":"x"}`), "", true)
	assert.True(t, errors.Is(err, openfhir.ErrInvalidPayload))

	_, result, err := eng.ToOpenEHR(ctx, growthBundle, "Blood Pressure", true)
	assert.True(t, errors.Is(err, openfhir.ErrNoMapper))
	assert.Len(t, result.ByCode(openfhir.CodeNoMapper), 1)
}

func TestToFHIR(t *testing.T) {
	eng := newEngine(t)
	payload := specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json")

	data, result, err := eng.ToFHIR(context.Background(), payload, "")
	require.NoError(t, err)
	assert.True(t, result.OK, "%v", result.Issues)
	assert.Equal(t, "blood_pressure", result.TemplateID)

	var bundle r4.Bundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Entry, 1)
	obs, ok := bundle.Entry[0].Resource.(*r4.Observation)
	require.True(t, ok)
	assert.Len(t, obs.Component, 2)
	require.NotNil(t, obs.EffectiveDateTime)
	assert.Equal(t, "2024-03-01T10:15:00Z", *obs.EffectiveDateTime)
}

func TestToFHIR_Canonical(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	canonical, _, err := eng.ToOpenEHR(ctx, bpObservation, "Blood Pressure", false)
	require.NoError(t, err)

	data, _, err := eng.ToFHIR(ctx, canonical, "")
	require.NoError(t, err)
	var bundle r4.Bundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Entry, 1)
	obs := bundle.Entry[0].Resource.(*r4.Observation)
	require.Len(t, obs.Component, 2)
	assert.Equal(t, 120.0, *obs.Component[0].ValueQuantity.Value)
}

func TestToFHIR_Errors(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	_, _, err := eng.ToFHIR(ctx, []byte(`[1, 2]`), "")
	assert.True(t, errors.Is(err, openfhir.ErrUnmarshal))

	_, _, err = eng.ToFHIR(ctx, []byte(`{"nope/a":1}`), "")
	assert.True(t, errors.Is(err, openfhir.ErrNoContext))

	_, _, err = eng.ToFHIR(ctx, []byte(`{"ctx/language":"en"}`), "Blood Pressure")
	assert.True(t, errors.Is(err, openfhir.ErrUnmarshal))
}

func TestRoundTrip_BloodPressure(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	bundle, _, err := eng.ToFHIR(ctx, specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json"), "")
	require.NoError(t, err)

	data, result, err := eng.ToOpenEHR(ctx, bundle, "Blood Pressure", true)
	require.NoError(t, err)
	assert.True(t, result.OK, "%v", result.Issues)
	flat, err := composition.ParseFlat(data)
	require.NoError(t, err)
	assert.Equal(t, bpFlat(t), flat)
}

func TestRoundTrip_Occurrences(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	flat, _, err := eng.ToOpenEHR(ctx, growthBundle, "Growth chart", true)
	require.NoError(t, err)

	data, _, err := eng.ToFHIR(ctx, flat, "")
	require.NoError(t, err)
	var bundle r4.Bundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Entry, 3)

	for i, want := range []float64{65, 66, 68} {
		obs, ok := bundle.Entry[i].Resource.(*r4.Observation)
		require.True(t, ok, "entry %d", i)
		assert.Equal(t, want, *obs.ValueQuantity.Value, "entry %d", i)
		assert.Equal(t, "29463-7", *obs.Code.Coding[0].Code)
	}
}

func TestBatch(t *testing.T) {
	eng := newEngine(t, openfhir.WithWorkerCount(3))

	jobs := []worker.Job{
		{ID: "bp", Direction: openfhir.ToOpenEHR, Payload: bpObservation, Flat: true},
		{ID: "growth", Direction: openfhir.ToOpenEHR, Payload: growthBundle, TemplateID: "Growth chart", Flat: true},
		{ID: "back", Direction: openfhir.ToFHIR, Payload: specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json")},
		{ID: "bad", Direction: openfhir.ToFHIR, Payload: []byte(`not json`)},
	}
	for i := 0; i < 4; i++ {
		jobs = append(jobs, worker.Job{ID: "bp-" + strconv.Itoa(i), Direction: openfhir.ToOpenEHR, Payload: bpObservation, Flat: true})
	}

	br := eng.Batch(context.Background(), jobs)
	require.Len(t, br.Results, len(jobs))
	assert.Equal(t, len(jobs), br.CompletedJobs)
	assert.Equal(t, 1, br.FailedJobs)
	for i, r := range br.Results {
		assert.Equal(t, jobs[i].ID, r.ID)
	}
	assert.True(t, errors.Is(br.Results[3].Error, openfhir.ErrUnmarshal))
	assert.NotEmpty(t, br.Results[2].Output)

	assert.Equal(t, uint64(len(jobs)-1), eng.Metrics().TranslationsTotal())
}

func TestTranslate_UnknownDirection(t *testing.T) {
	_, _, err := newEngine(t).Translate(context.Background(), worker.Job{Direction: "sideways"})
	assert.Error(t, err)
}

func TestRegistry_Cached(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := eng.ToOpenEHR(ctx, bpObservation, "Blood Pressure", true)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), eng.Registry().Stats().Misses)
	assert.InDelta(t, 2.0/3.0, eng.Metrics().CacheHitRate(), 0.001)
}

func TestPooledResults(t *testing.T) {
	eng := newEngine(t, openfhir.WithPooling(true))

	for i := 0; i < 3; i++ {
		_, result, err := eng.ToOpenEHR(context.Background(), bpObservation, "Blood Pressure", true)
		require.NoError(t, err)
		assert.True(t, result.OK)
		assert.Equal(t, []string{"openEHR-EHR-OBSERVATION.blood_pressure.v2"}, result.Archetypes)
		result.Release()
	}
}
