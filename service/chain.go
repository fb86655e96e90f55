package service

import (
	"context"
	"errors"
)

// ResolverChain implements Resolver by trying multiple resolvers in order.
type ResolverChain struct {
	resolvers []Resolver
}

// NewResolverChain creates a new resolver chain. Nil resolvers are skipped.
func NewResolverChain(resolvers ...Resolver) *ResolverChain {
	c := &ResolverChain{}
	for _, r := range resolvers {
		c.Add(r)
	}
	return c
}

// Resolve tries each resolver until one succeeds.
func (c *ResolverChain) Resolve(reference string) ([]byte, bool) {
	for _, r := range c.resolvers {
		if res, ok := r.Resolve(reference); ok {
			return res, true
		}
	}
	return nil, false
}

// Add appends a resolver to the chain.
func (c *ResolverChain) Add(r Resolver) {
	if r != nil {
		c.resolvers = append(c.resolvers, r)
	}
}

// NullResolver resolves nothing.
type NullResolver struct{}

// Resolve implements Resolver.
func (NullResolver) Resolve(string) ([]byte, bool) { return nil, false }

// TemplateChain implements TemplateStore by asking multiple stores in
// order. The first web template found wins.
type TemplateChain struct {
	stores []TemplateStore
}

// NewTemplateChain creates a template chain. Nil stores are skipped.
func NewTemplateChain(stores ...TemplateStore) *TemplateChain {
	c := &TemplateChain{}
	for _, s := range stores {
		if s != nil {
			c.stores = append(c.stores, s)
		}
	}
	return c
}

// WebTemplate returns the template of the first store that has it. When
// none has, the errors of all stores are joined.
func (c *TemplateChain) WebTemplate(ctx context.Context, templateID string) ([]byte, error) {
	var errs []error
	for _, s := range c.stores {
		data, err := s.WebTemplate(ctx, templateID)
		if err == nil {
			return data, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no template store configured")
	}
	return nil, errors.Join(errs...)
}

var (
	_ Resolver      = (*ResolverChain)(nil)
	_ Resolver      = NullResolver{}
	_ TemplateStore = (*TemplateChain)(nil)
)
