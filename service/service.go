// Package service defines small, composable interfaces for the collaborators
// the mapping engines consume: FHIRPath evaluation, reference resolution and
// the stores that supply mapping definitions and web templates.
package service

import (
	"context"

	"github.com/vitagroupag/openFHIR-sub001/mapping"
)

// FHIRPathEvaluator evaluates FHIRPath expressions over JSON input.
//
// Evaluate returns the result collection as Go values: json.RawMessage for
// complex elements and resources, string, bool, int64 and decimal.Decimal for
// primitives. Date and time literals are returned in their string form.
type FHIRPathEvaluator interface {
	Evaluate(ctx context.Context, expression string, input []byte) ([]any, error)
	// EvaluateBool applies FHIRPath truthiness to the result.
	EvaluateBool(ctx context.Context, expression string, input []byte) (bool, error)
}

// Resolver resolves a FHIR reference string to the referenced resource.
type Resolver interface {
	Resolve(reference string) ([]byte, bool)
}

// ContextStore finds the context mapper for a template.
type ContextStore interface {
	Context(ctx context.Context, templateID string) (*mapping.Context, error)
}

// MappingStore supplies parsed mapping definitions.
type MappingStore interface {
	ContextStore
	// Contexts returns every known context mapper.
	Contexts(ctx context.Context) ([]*mapping.Context, error)
	// Models returns every known model mapper, base models and extensions alike.
	Models(ctx context.Context) ([]*mapping.Model, error)
}

// TemplateStore supplies web templates as raw JSON.
type TemplateStore interface {
	WebTemplate(ctx context.Context, templateID string) ([]byte, error)
}
