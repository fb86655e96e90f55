package rmtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, DvQuantity, Parse("DV_QUANTITY"))
	assert.Equal(t, DvCodedText, Parse(" dv_coded_text "))
	assert.Equal(t, DvBoolean, Parse("BOOLEAN"))
	assert.Equal(t, DvMultimedia, Parse("MULTIMEDIA"))
	assert.Equal(t, Unknown, Parse("HISTORY"))
}

func TestString_RoundTrip(t *testing.T) {
	for ty := None; ty <= DvParsable; ty++ {
		assert.Equal(t, ty, Parse(ty.String()), "type %d", ty)
	}
	assert.Equal(t, "UNKNOWN", Type(250).String())
}

func TestPossibleTypes(t *testing.T) {
	assert.Equal(t, []Type{DvQuantity, DvOrdinal, DvProportion, DvCount}, PossibleTypes(HintQuantity))
	assert.Equal(t, []Type{DvCodedText, CodePhrase}, PossibleTypes(ParseHint("codeableconcept")))
	assert.Equal(t, []Type{DvText}, PossibleTypes(ParseHint("DV_TEXT")))
	assert.Nil(t, PossibleTypes(""))
}

func TestHintFor(t *testing.T) {
	assert.Equal(t, HintQuantity, HintFor(DvQuantity))
	assert.Equal(t, HintCodeableConcept, HintFor(DvCodedText))
	assert.Equal(t, HintString, HintFor(DvText))
	assert.Equal(t, HintNone, HintFor(Cluster))
}

func TestIsDataValue(t *testing.T) {
	assert.False(t, Element.IsDataValue())
	assert.False(t, None.IsDataValue())
	assert.True(t, DvDateTime.IsDataValue())
}
