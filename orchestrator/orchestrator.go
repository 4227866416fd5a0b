// Package orchestrator is the composition root: it wires one Bridge per
// domain, the Remote Manifest Pipeline's refresh loop, the Config Watcher,
// and the Activity Store into a single supervised process (§4's "Runtime
// Orchestrator"). It follows this codebase's `New(opts ...Option)`
// composition-root idiom and supervises its long-running loops with
// golang.org/x/sync/errgroup, the task-group upgrade the design notes call
// for over raw goroutines with a manual WaitGroup.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/oneiric/oneiric/activity"
	"github.com/oneiric/oneiric/bridge"
	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/internal/config"
	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/resilience"
	"github.com/oneiric/oneiric/internal/telemetry"
	"github.com/oneiric/oneiric/lifecycle"
	"github.com/oneiric/oneiric/registry"
	"github.com/oneiric/oneiric/remote"
	"github.com/oneiric/oneiric/watcher"
)

// domains is the closed default domain set bridges are pre-built for
// (§3 ActiveBinding / registry.Domain).
var domains = []registry.Domain{
	registry.DomainAdapter,
	registry.DomainService,
	registry.DomainTask,
	registry.DomainEvent,
	registry.DomainWorkflow,
}

// Orchestrator composes the Registry, Lifecycle Manager, one Bridge per
// domain, the Remote Manifest Pipeline, the Config Watcher, and the
// Activity Store into a single runnable process.
type Orchestrator struct {
	cfg *config.Config

	reg      *registry.Registry
	lifecyc  *lifecycle.Manager
	activity *activity.Store
	bridges  map[registry.Domain]*bridge.Bridge
	pipeline *remote.Pipeline
	refresh  *remote.RefreshLoop
	watch    *watcher.ConfigWatcher

	sink telemetry.Sink
	log  *logging.Logger
}

// Option configures an Orchestrator at construction, mirroring the
// teacher's composition-root functional-options idiom.
type Option func(*Orchestrator)

func WithLogger(l *logging.Logger) Option        { return func(o *Orchestrator) { o.log = l } }
func WithSink(s telemetry.Sink) Option           { return func(o *Orchestrator) { o.sink = s } }
func WithRegistry(r *registry.Registry) Option   { return func(o *Orchestrator) { o.reg = r } }
func WithActivityStore(s *activity.Store) Option { return func(o *Orchestrator) { o.activity = s } }

// New assembles an Orchestrator from cfg. Collaborators not supplied via
// Option are built from cfg using this codebase's documented defaults.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:  cfg,
		sink: telemetry.NoopSink{},
		log:  logging.NewFromEnv("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.reg == nil {
		o.reg = registry.New()
	}
	if o.activity == nil {
		store, err := activity.Open(cfg.Activity.StorePath, o.sink)
		if err != nil {
			return nil, fmt.Errorf("opening activity store: %w", err)
		}
		o.activity = store
	}

	settingsProvider := func(domain registry.Domain, key, provider string) (any, error) {
		if cfg.ProviderSettings == nil {
			return nil, nil
		}
		return cfg.ProviderSettings[provider], nil
	}

	o.lifecyc = lifecycle.New(o.reg,
		lifecycle.WithGuard(factory.NewGuard(cfg.FactoryAllowlist...)),
		lifecycle.WithActivityStore(o.activity),
		lifecycle.WithSettingsProvider(settingsProvider),
		lifecycle.WithSink(o.sink),
		lifecycle.WithLogger(o.log.Named("lifecycle")),
		lifecycle.WithTimeouts(lifecycle.Timeouts{
			Activate: cfg.Lifecycle.InitTimeout,
			Health:   cfg.Lifecycle.HealthTimeout,
			Hook:     cfg.Lifecycle.HookTimeout,
			Cleanup:  cfg.Lifecycle.CleanupTimeout,
		}),
		lifecycle.WithStatusDir(filepath.Join(filepath.Dir(cfg.Activity.StorePath), "status")),
	)

	o.bridges = make(map[registry.Domain]*bridge.Bridge, len(domains))
	for _, d := range domains {
		o.bridges[d] = bridge.New(o.reg, o.lifecyc, settingsProvider, d, bridge.WithSink(o.sink), bridge.WithLogger(o.log.Named("bridge")))
	}

	if cfg.Remote.Enabled && cfg.Remote.ManifestURL != "" {
		pipeline, err := o.buildRemotePipeline(cfg)
		if err != nil {
			return nil, err
		}
		o.pipeline = pipeline
		breaker := o.newBreaker()
		if cfg.Remote.RefreshCron != "" {
			o.refresh, err = remote.NewRefreshLoopCron(pipeline, breaker, cfg.Remote.ManifestURL, cfg.Remote.RefreshCron, o.sink, o.log.Named("remote"))
			if err != nil {
				return nil, err
			}
		} else {
			o.refresh = remote.NewRefreshLoop(pipeline, breaker, cfg.Remote.ManifestURL, cfg.Remote.RefreshInterval, o.sink, o.log.Named("remote"))
		}
	}

	if cfg.Watchers.Enabled && cfg.Watchers.SelectionsFile != "" {
		wcfg := watcher.DefaultConfig(cfg.Watchers.SelectionsFile)
		wcfg.PollInterval = cfg.Watchers.PollInterval
		o.watch = watcher.New(wcfg, o.Bridge, watcher.WithSink(o.sink), watcher.WithLogger(o.log.Named("watcher")))
	}

	return o, nil
}

func (o *Orchestrator) buildRemotePipeline(cfg *config.Config) (*remote.Pipeline, error) {
	loader := remote.NewLoader(remote.LoaderConfig{
		HTTPTimeout:        cfg.Remote.HTTPTimeout,
		AllowPrivateIPs:    cfg.Remote.AllowPrivateIPs,
		RateLimitPerSecond: cfg.Remote.RateLimitPerSecond,
		RateLimitBurst:     cfg.Remote.RateLimitBurst,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Remote.MaxRetries,
			BaseDelay:   cfg.Remote.RetryBaseDelay,
			MaxDelay:    cfg.Remote.RetryMaxDelay,
			Factor:      2.0,
			Jitter:      cfg.Remote.RetryJitter,
		},
	})
	verifier, err := remote.NewVerifier(remote.VerifierConfig{
		VerifySignature:   cfg.Remote.VerifySignature,
		TrustedPublicKeys: cfg.Remote.TrustedPublicKeys,
		RequireSignedAt:   cfg.Remote.RequireSignedAt,
		MaxAge:            cfg.Remote.MaxAge,
		AllowedSkew:       cfg.Remote.AllowedSkew,
	})
	if err != nil {
		return nil, fmt.Errorf("building manifest verifier: %w", err)
	}
	artifacts, err := remote.NewArtifactManager(loader, cfg.Remote.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("building artifact manager: %w", err)
	}
	validator := remote.NewEntryValidator(domains...)
	return remote.NewPipeline(loader, verifier, artifacts, validator, o.reg, o.sink, o.log.Named("remote")), nil
}

func (o *Orchestrator) newBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: o.cfg.Remote.CircuitBreakerThreshold,
		ResetTimeout:     o.cfg.Remote.CircuitBreakerReset,
	})
}

// ensurePipeline returns the composed remote Pipeline, building one on demand
// so explicit CLI-driven syncs work even when remote.enabled is false.
func (o *Orchestrator) ensurePipeline() (*remote.Pipeline, error) {
	if o.pipeline != nil {
		return o.pipeline, nil
	}
	p, err := o.buildRemotePipeline(o.cfg)
	if err != nil {
		return nil, err
	}
	o.pipeline = p
	return p, nil
}

// RemoteSync performs a single manifest sync against urlOverride, or
// remote.manifest_url when urlOverride is empty (§6.4 `remote-sync once`).
func (o *Orchestrator) RemoteSync(ctx context.Context, urlOverride string) (remote.SyncResult, error) {
	pipeline, err := o.ensurePipeline()
	if err != nil {
		return remote.SyncResult{}, err
	}
	target := urlOverride
	if target == "" {
		target = o.cfg.Remote.ManifestURL
	}
	if target == "" {
		return remote.SyncResult{}, fmt.Errorf("remote sync: no manifest url configured")
	}
	return pipeline.Sync(ctx, target)
}

// RunRemoteWatch runs only the remote refresh loop until ctx is cancelled
// (§6.4 `remote-sync watch`), constructing one on demand when urlOverride is
// given or remote.enabled did not pre-build the configured loop.
func (o *Orchestrator) RunRemoteWatch(ctx context.Context, urlOverride string) error {
	loop := o.refresh
	if urlOverride != "" || loop == nil {
		pipeline, err := o.ensurePipeline()
		if err != nil {
			return err
		}
		target := urlOverride
		if target == "" {
			target = o.cfg.Remote.ManifestURL
		}
		if target == "" {
			return fmt.Errorf("remote sync: no manifest url configured")
		}
		loop = remote.NewRefreshLoop(pipeline, o.newBreaker(), target, o.cfg.Remote.RefreshInterval, o.sink, o.log.Named("remote"))
	}
	return loop.Run(ctx)
}

// Bridge returns the Bridge serving domain, if one was built.
func (o *Orchestrator) Bridge(domain registry.Domain) (*bridge.Bridge, bool) {
	b, ok := o.bridges[domain]
	return b, ok
}

// Registry exposes the composed Registry, e.g. for CLI `list`/`explain`.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Lifecycle exposes the composed Lifecycle Manager, e.g. for CLI `status`.
func (o *Orchestrator) Lifecycle() *lifecycle.Manager { return o.lifecyc }

// Run starts every configured long-running loop and blocks until ctx is
// cancelled or a supervised loop returns a fatal error (§4 Runtime
// Orchestrator). The `serverless` profile short-circuits to a one-shot
// remote sync and never starts the watcher or refresh-loop goroutines,
// keeping cold starts fast (§6.1).
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Profile == config.ProfileServerless {
		if o.refresh != nil {
			// A plain zero-interval loop syncs once and returns, even when
			// the configured loop is cron-scheduled.
			return remote.NewRefreshLoop(o.pipeline, o.newBreaker(), o.cfg.Remote.ManifestURL, 0, o.sink, o.log.Named("remote")).Run(ctx)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.refresh != nil {
		g.Go(func() error { return o.refresh.Run(gctx) })
	}
	if o.watch != nil {
		// Selections always name a local file, so the fsnotify-subscribed
		// path applies unconditionally here; RunFS falls back to polling on
		// its own if the watch cannot be established (§4.8).
		g.Go(func() error { return o.watch.RunFS(gctx) })
	}
	return g.Wait()
}

// Stop releases every live instance after Run's context has been cancelled.
// The supervised loops already treat cancellation as their shutdown signal;
// what remains is tearing down the Lifecycle Manager's bindings so in-flight
// connections are closed and final status snapshots are written.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.lifecyc.Shutdown(ctx)
}
