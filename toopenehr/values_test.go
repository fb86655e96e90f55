package toopenehr

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vitagroupag/openFHIR-sub001/composition"
	"github.com/vitagroupag/openFHIR-sub001/pkg/rmtype"
	"github.com/vitagroupag/openFHIR-sub001/pkg/terminology"
)

func TestPopulate(t *testing.T) {
	w := &writer{terms: terminology.Default()}
	raw := func(s string) json.RawMessage { return json.RawMessage(s) }

	tests := []struct {
		name string
		typ  rmtype.Type
		path string
		v    any
		want composition.Flat
	}{
		{"quantity", rmtype.DvQuantity, "p", raw(`{"value":65.5,"unit":"kilogram","code":"kg"}`),
			composition.Flat{"p|magnitude": 65.5, "p|unit": "kg"}},
		{"quantity from number", rmtype.DvQuantity, "p", decimal.RequireFromString("1.5"),
			composition.Flat{"p|magnitude": 1.5}},
		{"count", rmtype.DvCount, "p", int64(3), composition.Flat{"p": 3.0}},
		{"ratio", rmtype.DvProportion, "p", raw(`{"numerator":{"value":1},"denominator":{"value":4}}`),
			composition.Flat{"p|numerator": 1.0, "p|denominator": 4.0, "p|type": 0.0}},
		{"percent", rmtype.DvProportion, "p", raw(`{"value":42,"code":"%"}`),
			composition.Flat{"p|numerator": 42.0, "p|denominator": 100.0, "p|type": 2.0}},
		{"ordinal", rmtype.DvOrdinal, "p", raw(`{"coding":[{"system":"http://loinc.org","code":"LA6111-4","display":"One"}]}`),
			composition.Flat{"p|code": "LA6111-4", "p|value": "One", "p|terminology": "LOINC"}},
		{"period start", rmtype.DvDateTime, "p", raw(`{"start":"2024-01-01"}`), composition.Flat{"p": "2024-01-01"}},
		{"date", rmtype.DvDate, "p", "2024-01-01", composition.Flat{"p": "2024-01-01"}},
		{"duration", rmtype.DvDuration, "p", raw(`{"value":3,"code":"h"}`), composition.Flat{"p": "PT3H"}},
		{"duration days", rmtype.DvDuration, "p", raw(`{"value":2,"code":"d"}`), composition.Flat{"p": "P2D"}},
		{"coded text", rmtype.DvCodedText, "p", raw(`{"coding":[{"system":"http://snomed.info/sct","code":"1","display":"x"}],"text":"y"}`),
			composition.Flat{"p|code": "1", "p|value": "x", "p|terminology": "SNOMED-CT"}},
		{"coded text from string", rmtype.DvCodedText, "p", "final",
			composition.Flat{"p|code": "final", "p|value": "final", "p|terminology": "local"}},
		{"text only concept", rmtype.DvCodedText, "p", raw(`{"text":"free"}`), composition.Flat{"p|value": "free"}},
		{"code phrase", rmtype.CodePhrase, "p", raw(`{"system":"urn:ietf:bcp:47","code":"de"}`),
			composition.Flat{"p|code": "de", "p|terminology": "ISO_639-1"}},
		{"text", rmtype.DvText, "p", "hello", composition.Flat{"p": "hello"}},
		{"text from concept", rmtype.DvText, "p", raw(`{"coding":[{"display":"shown"}]}`), composition.Flat{"p": "shown"}},
		{"identifier", rmtype.DvIdentifier, "p", raw(`{"system":"urn:sys","value":"42","assigner":{"display":"Clinic"}}`),
			composition.Flat{"p|id": "42", "p|issuer": "urn:sys", "p|assigner": "Clinic"}},
		{"boolean", rmtype.DvBoolean, "p", true, composition.Flat{"p": true}},
		{"multimedia", rmtype.DvMultimedia, "p", raw(`{"url":"http://x/y.png","contentType":"image/png","size":10,"title":"y"}`),
			composition.Flat{"p|url": "http://x/y.png", "p|mediatype": "image/png", "p|size": 10.0, "p|alternatetext": "y"}},
		{"parsable", rmtype.DvParsable, "p", "a=b", composition.Flat{"p": "a=b", "p|formalism": "text/plain"}},
		{"suffix magnitude", rmtype.DvQuantity, "p|magnitude", raw(`{"value":7}`), composition.Flat{"p|magnitude": 7.0}},
		{"suffix unit", rmtype.DvQuantity, "p|unit", "kg", composition.Flat{"p|unit": "kg"}},
		{"cluster", rmtype.Cluster, "p", "ignored", composition.Flat{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := composition.Flat{}
			w.populate(out, tt.path, tt.typ, tt.v)
			assert.Equal(t, tt.want, out)
		})
	}
}
