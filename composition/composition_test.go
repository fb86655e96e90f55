package composition

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/specs"
	"github.com/vitagroupag/openFHIR-sub001/template"
)

func bpTemplate(t *testing.T) *template.WebTemplate {
	t.Helper()
	wt, err := template.Parse(specs.MustReadFile(specs.BloodPressure, "blood_pressure.wt.json"))
	require.NoError(t, err)
	return wt
}

func bpFlat(t *testing.T) Flat {
	t.Helper()
	flat, err := ParseFlat(specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json"))
	require.NoError(t, err)
	return flat
}

var fixedDefaults = Defaults{
	Language:  "en",
	Territory: "DE",
	Composer:  "tester",
	Now:       func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
}

func TestRoundTrip(t *testing.T) {
	wt := bpTemplate(t)
	flat := bpFlat(t)
	flat["blood_pressure/unknown|x"] = "dropped"
	flat["ctx/language"] = "de"

	comp, dropped := Unflatten(wt, flat, fixedDefaults)
	assert.Equal(t, []string{"blood_pressure/unknown|x"}, dropped)

	data, err := json.Marshal(comp)
	require.NoError(t, err)
	back, err := Flatten(wt, data)
	require.NoError(t, err)

	for _, k := range bpFlat(t).TemplateKeys() {
		assert.Equal(t, flat[k], back[k], "key %s", k)
	}
	for k := range back {
		if _, ok := flat[k]; ok {
			continue
		}
		n := wt.Find(k)
		require.NotNil(t, n, "unexpected key %s", k)
		assert.True(t, n.InContext, "key %s is neither input nor a context default", k)
	}
	assert.Equal(t, "de", back["blood_pressure/blood_pressure:0/language|code"])
	assert.Equal(t, "2024-03-01T12:00:00Z", back["blood_pressure/context/start_time"])
}

func TestUnflatten_Structure(t *testing.T) {
	wt := bpTemplate(t)
	comp, _ := Unflatten(wt, bpFlat(t), fixedDefaults)

	assert.Equal(t, "COMPOSITION", comp["_type"])
	details := comp["archetype_details"].(map[string]any)
	assert.Equal(t, "Blood Pressure", details["template_id"].(map[string]any)["value"])

	content := comp["content"].([]any)
	require.Len(t, content, 1)
	obs := content[0].(map[string]any)
	assert.Equal(t, "openEHR-EHR-OBSERVATION.blood_pressure.v2", obs["archetype_node_id"])

	history := obs["data"].(map[string]any)
	assert.Equal(t, "HISTORY", history["_type"])
	events := history["events"].([]any)
	require.Len(t, events, 1)
	items := events[0].(map[string]any)["data"].(map[string]any)["items"].([]any)

	var systolic map[string]any
	for _, it := range items {
		if m := it.(map[string]any); m["archetype_node_id"] == "at0004" {
			systolic = m
		}
	}
	require.NotNil(t, systolic)
	value := systolic["value"].(map[string]any)
	assert.Equal(t, "DV_QUANTITY", value["_type"])
	assert.Equal(t, 120.0, value["magnitude"])
	assert.Equal(t, "mm[Hg]", value["units"])

	location := obs["protocol"].(map[string]any)["items"].([]any)[0].(map[string]any)
	coded := location["value"].(map[string]any)
	assert.Equal(t, "Right arm", coded["value"])
	assert.Equal(t, "368209003", coded["defining_code"].(map[string]any)["code_string"])
}

func TestSniff(t *testing.T) {
	f, id := Sniff(specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json"))
	assert.Equal(t, FormatFlat, f)
	assert.Equal(t, "blood_pressure", id)

	f, id = Sniff([]byte(`{"ctx/language":"en","growth_chart/body_weight/any_event:0/weight|unit":"kg"}`))
	assert.Equal(t, FormatFlat, f)
	assert.Equal(t, "growth_chart", id)

	f, id = Sniff([]byte(`{"_type":"COMPOSITION","archetype_details":{"template_id":{"value":"Blood Pressure"}}}`))
	assert.Equal(t, FormatCanonical, f)
	assert.Equal(t, "blood_pressure", id)

	f, _ = Sniff([]byte(`[1,2]`))
	assert.Equal(t, FormatUnknown, f)
}

func TestDecode(t *testing.T) {
	wt := bpTemplate(t)

	flat, format, err := Decode(wt, specs.MustReadFile(specs.BloodPressure, "blood_pressure.flat.json"))
	require.NoError(t, err)
	assert.Equal(t, FormatFlat, format)
	assert.Len(t, flat, 9)

	comp, _ := Unflatten(wt, flat, fixedDefaults)
	data, err := json.Marshal(comp)
	require.NoError(t, err)
	back, format, err := Decode(wt, data)
	require.NoError(t, err)
	assert.Equal(t, FormatCanonical, format)
	assert.Equal(t, 120.0, back["blood_pressure/blood_pressure:0/any_event:0/systolic|magnitude"])

	for _, bad := range []string{`{}`, `not json`, `{"a": {"b": 1}}`} {
		_, _, err := Decode(wt, []byte(bad))
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, openfhir.ErrUnmarshal), bad)
	}
}

func TestFlat(t *testing.T) {
	flat := Flat{}
	flat.Set("a/b|magnitude", 65.5)
	flat.Set("a/b|unit", "kg")
	flat.Set("a/empty", "")
	flat.Set("a/nil", nil)
	flat.Set("a/n", "12.25")

	assert.Equal(t, []string{"a/b|magnitude", "a/b|unit", "a/n"}, flat.Keys())
	s, ok := flat.String("a/b|magnitude")
	assert.True(t, ok)
	assert.Equal(t, "65.5", s)
	d, ok := flat.Number("a/n")
	assert.True(t, ok)
	assert.Equal(t, "12.25", d.String())
	_, ok = flat.Number("a/b|unit")
	assert.False(t, ok)
	assert.Equal(t, "a", flat.TemplateID())

	data, err := flat.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a/b|magnitude":65.5,"a/b|unit":"kg","a/n":"12.25"}`, string(data))

	_, err = ParseFlat([]byte(`{"a": [1]}`))
	assert.Error(t, err)
}
