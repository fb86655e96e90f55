// Package rmtype enumerates the openEHR reference model types the mapping
// engines know how to read and write, and the FHIR data type hints that
// mapping documents use in with.type.
package rmtype

import (
	"strings"
)

// Type is an openEHR reference model type.
type Type uint8

// Supported RM types. Unknown covers every structural or unsupported type.
const (
	Unknown Type = iota
	None
	Cluster
	Element
	DvText
	DvCodedText
	CodePhrase
	DvQuantity
	DvOrdinal
	DvProportion
	DvCount
	DvDateTime
	DvDate
	DvTime
	DvDuration
	DvBoolean
	DvIdentifier
	DvMultimedia
	DvURI
	DvParsable
)

var names = [...]string{
	Unknown:      "UNKNOWN",
	None:         "NONE",
	Cluster:      "CLUSTER",
	Element:      "ELEMENT",
	DvText:       "DV_TEXT",
	DvCodedText:  "DV_CODED_TEXT",
	CodePhrase:   "CODE_PHRASE",
	DvQuantity:   "DV_QUANTITY",
	DvOrdinal:    "DV_ORDINAL",
	DvProportion: "DV_PROPORTION",
	DvCount:      "DV_COUNT",
	DvDateTime:   "DV_DATE_TIME",
	DvDate:       "DV_DATE",
	DvTime:       "DV_TIME",
	DvDuration:   "DV_DURATION",
	DvBoolean:    "DV_BOOLEAN",
	DvIdentifier: "DV_IDENTIFIER",
	DvMultimedia: "DV_MULTIMEDIA",
	DvURI:        "DV_URI",
	DvParsable:   "DV_PARSABLE",
}

// String returns the openEHR name of t.
func (t Type) String() string {
	if int(t) < len(names) {
		return names[t]
	}
	return names[Unknown]
}

// Parse maps an openEHR type name onto a Type. Aliases used in mapping
// documents (BOOLEAN, IDENTIFIER, MULTIMEDIA) are accepted.
func Parse(name string) Type {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch n {
	case "BOOLEAN":
		return DvBoolean
	case "IDENTIFIER":
		return DvIdentifier
	case "MULTIMEDIA":
		return DvMultimedia
	case "DV_EHR_URI":
		return DvURI
	}
	for i, s := range names {
		if s == n {
			return Type(i)
		}
	}
	return Unknown
}

// IsDataValue reports whether t carries a value of its own.
func (t Type) IsDataValue() bool {
	switch t {
	case Unknown, None, Cluster, Element:
		return false
	}
	return true
}

// Hint is a FHIR data type hint as written in with.type of a mapping.
type Hint string

// Hints understood by the engines.
const (
	HintNone            Hint = "NONE"
	HintString          Hint = "STRING"
	HintQuantity        Hint = "QUANTITY"
	HintProportion      Hint = "PROPORTION"
	HintDateTime        Hint = "DATETIME"
	HintDate            Hint = "DATE"
	HintTime            Hint = "TIME"
	HintBoolean         Hint = "BOOL"
	HintCodeableConcept Hint = "CODEABLECONCEPT"
	HintCoding          Hint = "CODING"
	HintIdentifier      Hint = "IDENTIFIER"
	HintMedia           Hint = "MEDIA"
	HintInteger         Hint = "INTEGER"
)

// ParseHint normalizes a with.type value. An empty input yields "".
func ParseHint(s string) Hint {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "":
		return ""
	case "BOOLEAN":
		return HintBoolean
	case "CODEABLE_CONCEPT":
		return HintCodeableConcept
	case "DOUBLE", "DECIMAL":
		return HintQuantity
	case "INT", "COUNT":
		return HintInteger
	case "MULTIMEDIA", "ATTACHMENT":
		return HintMedia
	}
	return Hint(s)
}

// PossibleTypes returns the RM types a FHIR data type hint may be written
// to. A nil result means the template decides.
func PossibleTypes(h Hint) []Type {
	switch h {
	case HintQuantity:
		return []Type{DvQuantity, DvOrdinal, DvProportion, DvCount}
	case HintProportion:
		return []Type{DvProportion}
	case HintDateTime:
		return []Type{DvDateTime, DvDate, DvTime}
	case HintDate:
		return []Type{DvDate}
	case HintTime:
		return []Type{DvTime}
	case HintBoolean:
		return []Type{DvBoolean}
	case HintCodeableConcept, HintCoding:
		return []Type{DvCodedText, CodePhrase}
	case HintIdentifier:
		return []Type{DvIdentifier}
	case HintMedia:
		return []Type{DvMultimedia}
	case HintInteger:
		return []Type{DvCount}
	case HintString:
		return []Type{DvText, DvCodedText}
	case HintNone:
		return []Type{None}
	}
	// with.type may name an RM type directly
	if t := Parse(string(h)); t != Unknown {
		return []Type{t}
	}
	return nil
}

// HintFor returns the FHIR data type hint matching an RM type.
func HintFor(t Type) Hint {
	switch t {
	case DvQuantity, DvOrdinal:
		return HintQuantity
	case DvProportion:
		return HintProportion
	case DvCount:
		return HintInteger
	case DvDateTime:
		return HintDateTime
	case DvDate:
		return HintDate
	case DvTime:
		return HintTime
	case DvBoolean:
		return HintBoolean
	case DvCodedText:
		return HintCodeableConcept
	case CodePhrase:
		return HintCoding
	case DvIdentifier:
		return HintIdentifier
	case DvMultimedia:
		return HintMedia
	case None, Cluster:
		return HintNone
	}
	return HintString
}

// Attributes are RM attribute names that may terminate a symbolic path
// and are then written as a |suffix.
var Attributes = map[string]bool{
	"magnitude":     true,
	"unit":          true,
	"units":         true,
	"code":          true,
	"value":         true,
	"terminology":   true,
	"ordinal":       true,
	"numerator":     true,
	"denominator":   true,
	"id":            true,
	"issuer":        true,
	"assigner":      true,
	"type":          true,
	"mediatype":     true,
	"size":          true,
	"url":           true,
	"precision":     true,
	"normal_status": true,
}
