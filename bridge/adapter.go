package bridge

import (
	"context"

	"github.com/oneiric/oneiric/lifecycle"
	"github.com/oneiric/oneiric/registry"
)

// AdapterBridge specializes Bridge for registry.DomainAdapter, where the
// caller thinks in terms of "category" (cache, queue, blob-store, ...)
// rather than the generic "key" (§4.5 "the adapter domain is a
// specialization that uses category as the key synonym").
type AdapterBridge struct {
	*Bridge
}

// NewAdapterBridge constructs an AdapterBridge over reg/lc, fixing the
// domain to registry.DomainAdapter.
func NewAdapterBridge(reg *registry.Registry, lc *lifecycle.Manager, settings lifecycle.SettingsProvider, opts ...Option) *AdapterBridge {
	return &AdapterBridge{Bridge: New(reg, lc, settings, registry.DomainAdapter, opts...)}
}

// UseCategory is Use with category as the key synonym.
func (a *AdapterBridge) UseCategory(ctx context.Context, category string, opts UseOptions) (lifecycle.Handle, error) {
	return a.Use(ctx, category, opts)
}

// UseMany resolves several categories at once, stopping at the first
// failure and reporting which category caused it (§4.5 "convenience for
// multi-category selections").
func (a *AdapterBridge) UseMany(ctx context.Context, categories []string, opts UseOptions) (map[string]lifecycle.Handle, error) {
	out := make(map[string]lifecycle.Handle, len(categories))
	for _, category := range categories {
		h, err := a.Use(ctx, category, opts)
		if err != nil {
			return out, err
		}
		out[category] = h
	}
	return out, nil
}
