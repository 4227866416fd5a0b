// Package bridge is the uniform façade a calling application actually talks
// to: use, pause, drain, and listing/explain operations for a single domain
// (§4.5). It composes the Resolver and Lifecycle Manager without exposing
// either directly, mirroring this codebase's service-façade idiom of
// delegating lookups to a narrower collaborator instead of re-implementing
// them.
package bridge

import (
	"context"
	"sync"

	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/telemetry"
	"github.com/oneiric/oneiric/lifecycle"
	"github.com/oneiric/oneiric/registry"
	"github.com/oneiric/oneiric/resolver"
)

// settingsKey identifies a cached settings value (§4.5 "per-provider
// settings cache").
type settingsKey struct {
	key      string
	provider string
}

// Bridge is a per-domain façade over the Resolver and Lifecycle Manager
// (§4.5). Constructed with four collaborators: a Registry (to read
// candidates/snapshots for listing and explain), the Lifecycle Manager, a
// settings provider, and the Domain it serves. It holds no Activity Store
// of its own; pause/drain flags are read and written through the Lifecycle
// Manager.
type Bridge struct {
	reg       *registry.Registry
	lifecycle *lifecycle.Manager
	settings  lifecycle.SettingsProvider
	domain    registry.Domain
	sink      telemetry.Sink
	log       *logging.Logger

	mu            sync.RWMutex
	settingsCache map[settingsKey]any
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

func WithSink(s telemetry.Sink) Option    { return func(b *Bridge) { b.sink = s } }
func WithLogger(l *logging.Logger) Option { return func(b *Bridge) { b.log = l } }

// New constructs a Bridge for domain, composing reg and lc. settings may be
// nil when no candidate in this domain declares settings_model.
func New(reg *registry.Registry, lc *lifecycle.Manager, settings lifecycle.SettingsProvider, domain registry.Domain, opts ...Option) *Bridge {
	b := &Bridge{
		reg:           reg,
		lifecycle:     lc,
		settings:      settings,
		domain:        domain,
		sink:          telemetry.NoopSink{},
		log:           logging.NewFromEnv("bridge"),
		settingsCache: make(map[settingsKey]any),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UseOptions carries the resolver inputs plus the refresh knob (§4.5 use).
type UseOptions struct {
	Refresh              bool
	Override             string
	RequiredCapabilities []string
	PrioritySource       resolver.PrioritySource
	LenientOverride      bool
	Force                bool // §4.4 swap: bypass rollback, clean up previous regardless
}

func (o UseOptions) activateOptions() lifecycle.ActivateOptions {
	return lifecycle.ActivateOptions{
		Override:             o.Override,
		RequiredCapabilities: o.RequiredCapabilities,
		PrioritySource:       o.PrioritySource,
		LenientOverride:      o.LenientOverride,
		Force:                o.Force,
	}
}

// Use returns a live Handle for key, reusing a current instance when one
// exists and opts.Refresh is false, otherwise activating (or swapping into)
// a fresh one (§4.5 use).
func (b *Bridge) Use(ctx context.Context, key string, opts UseOptions) (lifecycle.Handle, error) {
	if !opts.Refresh {
		if h, ok := b.lifecycle.Current(b.domain, key); ok {
			return h, nil
		}
	}

	var (
		handle lifecycle.Handle
		err    error
	)
	if _, ok := b.lifecycle.Current(b.domain, key); ok {
		handle, err = b.lifecycle.Swap(ctx, b.domain, key, opts.activateOptions())
	} else {
		handle, err = b.lifecycle.Activate(ctx, b.domain, key, opts.activateOptions())
	}
	if err != nil {
		return lifecycle.Handle{}, err
	}

	b.InvalidateSettings(key, "")
	return handle, nil
}

// Swap forces key onto provider regardless of the live instance, the
// operation the Config Watcher drives on a selection change (§4.8 "calling
// bridge.swap"). force bypasses rollback-on-failure, tearing down the
// previous instance regardless of whether the new one activates (§4.4,
// §6.4 `swap(domain, key, provider, force?)`).
func (b *Bridge) Swap(ctx context.Context, key, provider string, force bool) (lifecycle.Handle, error) {
	return b.Use(ctx, key, UseOptions{Refresh: true, Override: provider, Force: force})
}

// Settings returns the validated settings value for (key, provider),
// instantiating and caching it via the settings provider on first use
// (§4.5 "per-provider settings cache"). Returns (nil, nil) when no
// settings provider is configured.
func (b *Bridge) Settings(key, provider string) (any, error) {
	if b.settings == nil {
		return nil, nil
	}

	k := settingsKey{key: key, provider: provider}

	b.mu.RLock()
	if v, ok := b.settingsCache[k]; ok {
		b.mu.RUnlock()
		return v, nil
	}
	b.mu.RUnlock()

	v, err := b.settings(b.domain, key, provider)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.settingsCache[k] = v
	b.mu.Unlock()
	return v, nil
}

// InvalidateSettings drops cached settings for key. Passing an empty
// provider invalidates every provider cached under key (e.g. after a swap,
// when the caller doesn't yet know which provider lost). Called
// automatically, with an empty provider, after every Use that activates or
// swaps (a Use that returns the current live instance leaves the cache
// untouched), and exposed so a settings provider can signal an out-of-band
// change (§4.5).
func (b *Bridge) InvalidateSettings(key, provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if provider != "" {
		delete(b.settingsCache, settingsKey{key: key, provider: provider})
		return
	}
	for k := range b.settingsCache {
		if k.key == key {
			delete(b.settingsCache, k)
		}
	}
}

// ListActive resolves every key currently registered in this domain and
// returns the Resolver's ResolveResult for each, delegating to the Resolver
// (§4.5 list_active). Keys that fail to resolve are left out of the map.
func (b *Bridge) ListActive(opts UseOptions) (map[string]resolver.ResolveResult, error) {
	results := make(map[string]resolver.ResolveResult)
	for _, key := range b.keys() {
		result, err := b.explainOne(key, opts)
		if err != nil {
			continue
		}
		results[key] = result
	}
	return results, nil
}

// ListShadowed returns, for every key in this domain, the candidates the
// Resolver shadowed in favor of the current winner (§4.5 list_shadowed).
func (b *Bridge) ListShadowed(opts UseOptions) (map[string][]registry.Candidate, error) {
	out := make(map[string][]registry.Candidate)
	for _, key := range b.keys() {
		result, err := b.explainOne(key, opts)
		if err != nil {
			continue
		}
		if len(result.Shadowed) > 0 {
			out[key] = result.Shadowed
		}
	}
	return out, nil
}

// Explain returns the full ExplanationTrace for key, exactly as the
// Resolver produced it, regardless of whether resolution succeeded
// (§4.5 explain, §7).
func (b *Bridge) Explain(key string, opts UseOptions) (resolver.ExplanationTrace, error) {
	result, err := b.explainOne(key, opts)
	return result.Trace, err
}

func (b *Bridge) explainOne(key string, opts UseOptions) (resolver.ResolveResult, error) {
	return resolver.Resolve(b.reg.Snapshot(), b.domain, key, resolver.ResolveOptions{
		Override:             opts.Override,
		RequiredCapabilities: opts.RequiredCapabilities,
		PrioritySource:       opts.PrioritySource,
		LenientOverride:      opts.LenientOverride,
	})
}

func (b *Bridge) keys() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range b.reg.List(b.domain, "") {
		if !seen[c.Key] {
			seen[c.Key] = true
			out = append(out, c.Key)
		}
	}
	return out
}

// Pause, Drain, Resume, and Probe forward directly to the Lifecycle Manager
// (§4.5 lists pause/drain alongside use/listing as Bridge responsibilities).
func (b *Bridge) Pause(key, note string) error  { return b.lifecycle.Pause(b.domain, key, note) }
func (b *Bridge) Drain(key, note string) error  { return b.lifecycle.Drain(b.domain, key, note) }
func (b *Bridge) Resume(key string) error       { return b.lifecycle.Resume(b.domain, key) }
func (b *Bridge) ClearDrain(key string) error   { return b.lifecycle.ClearDrain(b.domain, key) }

func (b *Bridge) Probe(ctx context.Context, key string) (bool, error) {
	return b.lifecycle.Probe(ctx, b.domain, key)
}

// Activity reports the current pause/drain flags for key, read by the
// Config Watcher before attempting a swap (§4.8 skip-paused/defer-on-drain).
func (b *Bridge) Activity(key string) (paused, draining bool, note string) {
	return b.lifecycle.Activity(b.domain, key)
}

// Domain returns the domain this Bridge serves.
func (b *Bridge) Domain() registry.Domain { return b.domain }
