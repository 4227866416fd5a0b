// Package lifecycle turns a winning Candidate into a live, healthy instance
// and keeps it swap-safe (§4.4): activate, swap with rollback, pause/drain/
// resume, health probes, and atomic status snapshot persistence.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/oneiric/oneiric/activity"
	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/telemetry"
	"github.com/oneiric/oneiric/registry"
	"github.com/oneiric/oneiric/resolver"
)

// SettingsProvider supplies the validated settings value for a
// (domain,key,provider) slot when a Candidate declares settings_model. It is
// the narrow seam the Domain Bridge passes to the Manager, breaking the
// cyclic-observation concern between bridge and lifecycle manager (§9
// Design Note "Cyclic observation").
type SettingsProvider func(domain registry.Domain, key, provider string) (any, error)

// Timeouts holds the per-operation deadlines (§6.1 lifecycle.*, §4.4
// "Timeouts and cancellation").
type Timeouts struct {
	Activate time.Duration
	Health   time.Duration
	Hook     time.Duration
	Cleanup  time.Duration
}

// DefaultTimeouts mirrors the documented defaults (§4.4): activate ≤30s,
// health ≤5s, per-hook ≤5s, cleanup ≤10s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Activate: 30 * time.Second,
		Health:   5 * time.Second,
		Hook:     5 * time.Second,
		Cleanup:  10 * time.Second,
	}
}

// Manager is the Lifecycle Manager (§4.4).
type Manager struct {
	registry *registry.Registry
	guard    *factory.Guard
	activity *activity.Store
	settings SettingsProvider
	hooks     Hooks
	sink      telemetry.Sink
	log       *logging.Logger
	timeouts  Timeouts
	statusDir string

	bindings sync.Map // slotKey -> *binding
}

// Option configures a Manager at construction, following this codebase's
// functional-options idiom.
type Option func(*Manager)

func WithGuard(g *factory.Guard) Option          { return func(m *Manager) { m.guard = g } }
func WithActivityStore(s *activity.Store) Option { return func(m *Manager) { m.activity = s } }
func WithSettingsProvider(sp SettingsProvider) Option {
	return func(m *Manager) { m.settings = sp }
}
func WithHooks(h Hooks) Option            { return func(m *Manager) { m.hooks = h } }
func WithSink(s telemetry.Sink) Option    { return func(m *Manager) { m.sink = s } }
func WithLogger(l *logging.Logger) Option { return func(m *Manager) { m.log = l } }
func WithTimeouts(t Timeouts) Option      { return func(m *Manager) { m.timeouts = t } }
func WithStatusDir(dir string) Option     { return func(m *Manager) { m.statusDir = dir } }

// AddPreSwapHook, AddPostSwapHook and AddCleanupHook each append a single
// hook after construction.
func (m *Manager) AddPreSwapHook(h PreSwapHook)   { m.hooks.PreSwap = append(m.hooks.PreSwap, h) }
func (m *Manager) AddPostSwapHook(h PostSwapHook) { m.hooks.PostSwap = append(m.hooks.PostSwap, h) }
func (m *Manager) AddCleanupHook(h CleanupHook)   { m.hooks.OnCleanup = append(m.hooks.OnCleanup, h) }

// New creates a Manager composing Registry with the supplied options.
func New(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		guard:    factory.NewGuard(),
		sink:     telemetry.NoopSink{},
		log:      logging.NewFromEnv("lifecycle"),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type slotKey struct {
	domain registry.Domain
	key    string
}

func (m *Manager) bindingFor(domain registry.Domain, key string) *binding {
	k := slotKey{domain, key}
	if b, ok := m.bindings.Load(k); ok {
		return b.(*binding)
	}
	b := &binding{domain: domain, key: key, state: StateAbsent}
	if m.activity != nil {
		st := m.activity.Get(string(domain), key)
		b.paused, b.draining, b.note = st.Paused, st.Draining, st.Note
	}
	actual, _ := m.bindings.LoadOrStore(k, b)
	return actual.(*binding)
}

// ActivateOptions carries the resolver inputs plus lifecycle-specific knobs.
type ActivateOptions struct {
	Override             string
	RequiredCapabilities []string
	PrioritySource       resolver.PrioritySource
	LenientOverride      bool
	Force                bool // Swap only: skip rollback, clean up previous regardless
}

// Activate resolves, constructs, initializes, and health-checks a candidate
// for (domain,key), installing it as current (§4.4 activate).
func (m *Manager) Activate(ctx context.Context, domain registry.Domain, key string, opts ActivateOptions) (Handle, error) {
	b := m.bindingFor(domain, key)
	b.mu.Lock()
	defer b.mu.Unlock()

	return m.activateLocked(ctx, b, opts, false)
}

// Swap is identical to Activate except it retains the previous instance
// until post-activation cleanup, and rolls back on failure unless
// opts.Force is set (§4.4 swap).
func (m *Manager) Swap(ctx context.Context, domain registry.Domain, key string, opts ActivateOptions) (Handle, error) {
	b := m.bindingFor(domain, key)
	b.mu.Lock()
	defer b.mu.Unlock()

	return m.activateLocked(ctx, b, opts, true)
}

func (m *Manager) activateLocked(ctx context.Context, b *binding, opts ActivateOptions, isSwap bool) (Handle, error) {
	op := "activate"
	if isSwap {
		op = "swap"
	}
	start := time.Now()
	m.emit(op+"-start", b.domain, b.key, nil)

	actCtx, cancel := context.WithTimeout(ctx, m.timeouts.Activate)
	defer cancel()

	// Captured before any mutation: on a failed swap, current has not moved
	// yet, so "rollback" just means leaving it alone and reporting oldRef.
	oldRef := b.current

	result, err := resolver.Resolve(m.registry.Snapshot(), b.domain, b.key, resolver.ResolveOptions{
		Override:             opts.Override,
		RequiredCapabilities: opts.RequiredCapabilities,
		PrioritySource:       opts.PrioritySource,
		LenientOverride:      opts.LenientOverride,
	})
	if err != nil {
		return m.failLocked(b, op, err, start)
	}

	fn, err := m.guard.Resolve(result.Selected.Factory)
	if err != nil {
		return m.failLocked(b, op, err, start)
	}

	if isSwap {
		b.state = StateSwapping
		for _, hook := range m.hooks.PreSwap {
			if err := m.runHook(actCtx, func(ctx context.Context) error { return hook(ctx, string(b.domain), b.key) }); err != nil {
				return m.failLocked(b, op, errs.Wrap(errs.SwapFailed, string(b.domain), b.key, "pre_swap hook failed", err), start)
			}
		}
	} else {
		b.state = StateActivating
	}

	instance, initErr := m.constructAndInit(actCtx, b.domain, b.key, result.Selected, fn)
	if initErr != nil {
		if isSwap {
			return m.rollbackOrFail(ctx, b, oldRef, initErr, opts.Force, start)
		}
		return m.failLocked(b, op, errs.Wrap(errs.ActivateFailed, string(b.domain), b.key, "activation failed", initErr), start)
	}

	healthy, healthErr := m.runHealth(actCtx, result.Selected, instance)
	b.lastHealthAt = time.Now()
	b.lastHealthOK = healthy
	if healthErr != nil || !healthy {
		cleanupErr := m.cleanupBestEffort(b.domain, b.key, instance)
		combined := joinErrs(errs.Wrap(errs.HealthCheckFailed, string(b.domain), b.key, "health probe failed after activation", healthErr), cleanupErr)
		if isSwap {
			return m.rollbackOrFail(ctx, b, oldRef, combined, opts.Force, start)
		}
		return m.failLocked(b, op, errs.Wrap(errs.ActivateFailed, string(b.domain), b.key, "activation failed health check", combined), start)
	}

	newRef := &instanceRef{candidate: result.Selected, instance: instance, traceID: result.Trace.TraceID}
	b.prev = oldRef
	b.current = newRef
	b.state = StateReady
	b.lastActivatedAt = time.Now()
	b.lastError = ""

	handle := b.handleLocked()

	for _, hook := range m.hooks.PostSwap {
		if err := m.runHook(actCtx, func(ctx context.Context) error { return hook(ctx, string(b.domain), b.key, handle) }); err != nil {
			m.log.WithError(err).Warn("post_swap hook failed")
		}
	}

	if isSwap && oldRef != nil {
		// Cleanup is shielded from cancellation (§5 "cleanup pass is run
		// under a cancellation shield").
		cleanupErr := m.cleanupRef(context.WithoutCancel(ctx), b.domain, b.key, oldRef)
		if cleanupErr != nil {
			m.sink.Count("cleanup_errors_total", map[string]string{"domain": string(b.domain), "key": b.key}, 1)
			m.log.WithError(cleanupErr).Warn("best-effort cleanup of previous instance failed")
		}
		b.prev = nil
	}

	m.persist(b)
	m.emit(op+"-success", b.domain, b.key, map[string]any{"provider": result.Selected.Provider})
	m.sink.Observe(op, map[string]string{"domain": string(b.domain), "key": b.key}, time.Since(start))
	return handle, nil
}

// rollbackOrFail handles a failed swap attempt. Because current is only ever
// mutated on the success path in activateLocked, oldRef (captured before the
// attempt) is still exactly what b.current holds here — "rollback" is a
// no-op for b.current itself; it only needs to restore state/bookkeeping and
// report the right outcome.
//
// With force=true, the previous instance is torn down regardless of the
// failed swap and the binding is left without a current (§4.4 "if force is
// true, the previous is cleaned up regardless").
func (m *Manager) rollbackOrFail(ctx context.Context, b *binding, oldRef *instanceRef, cause error, force bool, start time.Time) (Handle, error) {
	if force {
		b.state = StateFailed
		b.current = nil
		b.lastError = cause.Error()
		m.persist(b)
		if oldRef != nil {
			if err := m.cleanupRef(context.WithoutCancel(ctx), b.domain, b.key, oldRef); err != nil {
				m.log.WithError(err).Warn("best-effort cleanup of previous instance failed after forced swap failure")
			}
		}
		m.emit("swap-failure", b.domain, b.key, map[string]any{"error": cause.Error(), "forced": true})
		return Handle{}, errs.Wrap(errs.SwapFailed, string(b.domain), b.key, "swap failed", cause)
	}

	if oldRef == nil {
		// Nothing to roll back to: this was a first-time activate-as-swap.
		b.state = StateFailed
		b.lastError = cause.Error()
		m.persist(b)
		m.emit("swap-failure", b.domain, b.key, map[string]any{"error": cause.Error()})
		return Handle{}, errs.Wrap(errs.SwapFailed, string(b.domain), b.key, "swap failed", cause)
	}

	// current was never moved off oldRef; its cleanup must NOT be invoked
	// (§8.7 S3).
	b.current = oldRef
	b.prev = nil
	b.state = StateReady
	b.lastError = cause.Error()
	m.persist(b)

	m.emit("rollback-success", b.domain, b.key, map[string]any{"error": cause.Error()})
	m.emit("swap-failure", b.domain, b.key, map[string]any{"error": cause.Error(), "rolled_back": true})
	m.sink.Observe("swap", map[string]string{"domain": string(b.domain), "key": b.key}, time.Since(start))

	rolledBack := &errs.Error{Kind: errs.SwapFailed, Domain: string(b.domain), Key: b.key, Message: "swap failed, rolled back", RolledBack: true, Cause: cause}
	return Handle{}, rolledBack
}

func (m *Manager) failLocked(b *binding, op string, cause error, start time.Time) (Handle, error) {
	b.state = StateFailed
	b.lastError = cause.Error()
	m.persist(b)
	m.emit(op+"-failure", b.domain, b.key, map[string]any{"error": cause.Error()})
	m.sink.Count("resolution_outcomes_total", map[string]string{"domain": string(b.domain), "outcome": "failure"}, 1)
	return Handle{}, cause
}

func (m *Manager) constructAndInit(ctx context.Context, domain registry.Domain, key string, c registry.Candidate, fn factory.Func) (instance any, err error) {
	var settings any
	if c.Metadata.SettingsModel != "" && m.settings != nil {
		settings, err = m.settings(domain, key, c.Provider)
		if err != nil {
			return nil, fmt.Errorf("loading settings for %s: %w", c.Provider, err)
		}
	}

	instance, err = fn(settings)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", c.Provider, err)
	}

	if initer, ok := instance.(Initializer); ok {
		if err := runWithContext(ctx, func(ctx context.Context) error { return initer.Init(ctx) }); err != nil {
			_ = m.cleanupBestEffort(domain, key, instance)
			return nil, fmt.Errorf("init %s: %w", c.Provider, err)
		}
	}
	return instance, nil
}

func (m *Manager) runHealth(ctx context.Context, c registry.Candidate, instance any) (bool, error) {
	healthCtx, cancel := context.WithTimeout(ctx, m.timeouts.Health)
	defer cancel()

	if c.Health != nil {
		ok, err := runHealthFunc(healthCtx, c.Health)
		m.emit("health-probe", c.Domain, c.Key, map[string]any{"provider": c.Provider, "ok": ok, "source": "candidate"})
		if err != nil || !ok {
			return ok, err
		}
	}

	ok, err := probeInstanceHealth(healthCtx, instance)
	m.emit("health-probe", c.Domain, c.Key, map[string]any{"provider": c.Provider, "ok": ok, "source": "instance"})
	return ok, err
}

// Probe runs the health probe against the current instance without
// swapping (§4.4 probe).
func (m *Manager) Probe(ctx context.Context, domain registry.Domain, key string) (bool, error) {
	b := m.bindingFor(domain, key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return false, errs.New(errs.NoCandidate, string(domain), key, "no active instance to probe")
	}
	ok, err := m.runHealth(ctx, b.current.candidate, b.current.instance)
	b.lastHealthAt = time.Now()
	b.lastHealthOK = ok
	m.persist(b)
	return ok, err
}

// Shutdown tears down every live binding, best-effort and shielded from
// cancellation, leaving each in the drained state with its status persisted.
// The Orchestrator calls this on Stop. Bindings are visited in no particular
// order, and shutdown keeps going past individual cleanup failures.
func (m *Manager) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	m.bindings.Range(func(_, v any) bool {
		b := v.(*binding)
		b.mu.Lock()
		if b.current != nil {
			if err := m.cleanupRef(context.WithoutCancel(ctx), b.domain, b.key, b.current); err != nil {
				m.log.WithError(err).Warn("shutdown cleanup failed")
				result = multierror.Append(result, err)
			}
			b.current = nil
			b.prev = nil
			b.state = StateDrained
			m.persist(b)
			m.emit("cleanup", b.domain, b.key, nil)
		}
		b.mu.Unlock()
		return true
	})
	if result == nil {
		return nil
	}
	return result
}

func (m *Manager) cleanupBestEffort(domain registry.Domain, key string, instance any) error {
	return m.cleanupRef(context.Background(), domain, key, &instanceRef{instance: instance})
}

func (m *Manager) cleanupRef(ctx context.Context, domain registry.Domain, key string, ref *instanceRef) error {
	cleanupCtx, cancel := context.WithTimeout(ctx, m.timeouts.Cleanup)
	defer cancel()

	var result *multierror.Error
	if err := cleanupInstance(cleanupCtx, ref.instance); err != nil {
		result = multierror.Append(result, err)
	}
	for _, hook := range m.hooks.OnCleanup {
		hookCtx, hookCancel := context.WithTimeout(ctx, m.timeouts.Hook)
		if err := hook(hookCtx, string(domain), key, ref.instance); err != nil {
			result = multierror.Append(result, err)
		}
		hookCancel()
	}
	if result == nil {
		return nil
	}
	return result
}

func (m *Manager) runHook(ctx context.Context, fn func(ctx context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, m.timeouts.Hook)
	defer cancel()
	return fn(hookCtx)
}

func (m *Manager) persist(b *binding) {
	snap := b.snapshotLocked()
	if err := writeStatus(m.statusDir, snap); err != nil {
		m.log.WithError(err).Warn("failed to persist status snapshot")
	}
}

func (m *Manager) emit(kind string, domain registry.Domain, key string, fields map[string]any) {
	m.sink.Event(telemetry.Event{Kind: kind, Domain: string(domain), Key: key, Fields: fields})
}

// runHealthFunc bounds a candidate-declared HealthFunc, which takes no
// context of its own, by the health timeout: a probe that blocks past the
// deadline is reported as failed rather than hanging the activation.
func runHealthFunc(ctx context.Context, fn registry.HealthFunc) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := fn()
		done <- result{ok: ok, err: err}
	}()
	select {
	case r := <-done:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func runWithContext(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinErrs(errsList ...error) error {
	var result *multierror.Error
	for _, e := range errsList {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	if result == nil {
		return nil
	}
	return result
}
