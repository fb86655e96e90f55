package openfhir

import (
	"errors"
	"strings"
)

// Sentinel errors returned (wrapped) by the engines.
var (
	// ErrNoContext is returned when no context mapping exists for a template
	// or none matches an inbound resource.
	ErrNoContext = errors.New("no context mapping")

	// ErrNoTemplate is returned when no template is available for a template id.
	ErrNoTemplate = errors.New("no operational template")

	// ErrTemplateUnusable is returned when a template exists but cannot be
	// turned into a queryable tree.
	ErrTemplateUnusable = errors.New("template cannot be used")

	// ErrUnmarshal is returned when an openEHR payload is neither valid flat
	// JSON nor a non-empty canonical composition.
	ErrUnmarshal = errors.New("could not unmarshal composition")

	// ErrInvalidPayload is returned for payloads that are not JSON objects.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNoMapper is returned when no model mapping applies to the input.
	ErrNoMapper = errors.New("no model mapping applies")

	// ErrMappingLoad is returned when a mapping set cannot be prepared.
	ErrMappingLoad = errors.New("mapping set cannot be loaded")
)

// IsBadRequest reports whether err was caused by the caller's input or
// configuration rather than by a server side failure.
func IsBadRequest(err error) bool {
	switch {
	case errors.Is(err, ErrTemplateUnusable):
		return false
	case errors.Is(err, ErrNoContext),
		errors.Is(err, ErrNoTemplate),
		errors.Is(err, ErrUnmarshal),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrNoMapper):
		return true
	}
	return false
}

// NormalizeTemplateID returns the cache key form of a template id:
// lower-case with spaces replaced by underscores.
func NormalizeTemplateID(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), " ", "_")
}
