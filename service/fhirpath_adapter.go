package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"

	"github.com/vitagroupag/openFHIR-sub001/cache"
)

// DefaultExpressionCacheSize bounds the compiled expression cache.
const DefaultExpressionCacheSize = 2000

// FHIRPathAdapter adapts the fhirpath package to the FHIRPathEvaluator
// interface. Compiled expressions are kept in an LRU cache shared by all
// goroutines using the adapter.
type FHIRPathAdapter struct {
	cache *cache.Cache[string, *fhirpath.Expression]
}

// NewFHIRPathAdapter creates a new FHIRPath adapter. A non-positive size
// selects DefaultExpressionCacheSize.
func NewFHIRPathAdapter(size int) *FHIRPathAdapter {
	if size <= 0 {
		size = DefaultExpressionCacheSize
	}
	return &FHIRPathAdapter{
		cache: cache.New[string, *fhirpath.Expression](size),
	}
}

// Evaluate evaluates expression against input and converts the collection
// into Go values.
func (a *FHIRPathAdapter) Evaluate(ctx context.Context, expression string, input []byte) ([]any, error) {
	result, err := a.evaluate(ctx, expression, input)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(result))
	for _, v := range result {
		if gv := toGo(v); gv != nil {
			out = append(out, gv)
		}
	}
	return out, nil
}

// EvaluateBool evaluates expression and applies FHIRPath truthiness:
// an empty collection is false, a single boolean is its value and any other
// non-empty collection is true.
func (a *FHIRPathAdapter) EvaluateBool(ctx context.Context, expression string, input []byte) (bool, error) {
	result, err := a.evaluate(ctx, expression, input)
	if err != nil {
		return false, err
	}
	if len(result) == 0 {
		return false, nil
	}
	if len(result) == 1 {
		if b, ok := result[0].(types.Boolean); ok {
			return b.Bool(), nil
		}
	}
	return true, nil
}

func (a *FHIRPathAdapter) evaluate(ctx context.Context, expression string, input []byte) (types.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, _, err := a.cache.GetOrLoad(expression, func() (*fhirpath.Expression, error) {
		return fhirpath.Compile(expression)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile FHIRPath expression '%s': %w", expression, err)
	}
	result, err := compiled.Evaluate(input)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate FHIRPath expression '%s': %w", expression, err)
	}
	return result, nil
}

func toGo(v types.Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *types.ObjectValue:
		return json.RawMessage(t.Data())
	case types.String:
		return t.Value()
	case types.Boolean:
		return t.Bool()
	case types.Integer:
		return t.Value()
	case types.Decimal:
		return t.Value()
	default:
		return v.String()
	}
}

// ClearCache clears the expression cache.
func (a *FHIRPathAdapter) ClearCache() {
	a.cache.Clear()
}

// CacheStats returns statistics of the expression cache.
func (a *FHIRPathAdapter) CacheStats() cache.Stats {
	return a.cache.Stats()
}

var _ FHIRPathEvaluator = (*FHIRPathAdapter)(nil)
