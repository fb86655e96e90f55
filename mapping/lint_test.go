package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLint(t *testing.T) {
	base := &Model{Metadata: Metadata{Name: "base"}, Mappings: []*Mapping{
		{Name: "ok", With: &With{FHIR: "$fhirRoot.status", OpenEHR: "$openEhrArchetype.status"}},
		{Name: "empty"},
	}}
	ext := &Model{
		Metadata: Metadata{Name: "ext"},
		Spec:     Spec{ExtensionOf: "base"},
		Mappings: []*Mapping{{Name: "a", Extension: ExtensionAppend, AppendTo: "missing"}},
	}
	orphan := &Model{Metadata: Metadata{Name: "orphan"}, Spec: Spec{ExtensionOf: "nope"}}

	diags := Lint([]*Model{base, ext, orphan})
	codes := make(map[DiagnosticCode]int)
	for _, d := range diags {
		codes[d.Code]++
	}
	assert.Equal(t, 1, codes[DiagInvalidMapping])
	assert.Equal(t, 1, codes[DiagUnmatchedAppend])
	assert.Equal(t, 1, codes[DiagUnknownBase])
}
