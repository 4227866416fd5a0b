// Package watcher detects changes in the operator's (domain,key) -> provider
// selection map and drives swaps through a Domain Bridge (§4.8). The
// polling loop is the default transport; when the selections source is a
// local file, an fsnotify-subscribed variant replaces the poll ticker with
// filesystem events, following (not copying) the pack's pattern of a
// dedicated file-watch component sitting in front of a reload callback.
package watcher

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oneiric/oneiric/bridge"
	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/telemetry"
	"github.com/oneiric/oneiric/registry"
)

// Selections is the `map<domain, map<key, provider>>` wire shape (§6.1
// selections).
type Selections map[string]map[string]string

// BridgeLookup resolves a Bridge for a domain name; the Orchestrator
// supplies one backed by its per-domain Bridge set.
type BridgeLookup func(domain registry.Domain) (*bridge.Bridge, bool)

// Config configures a ConfigWatcher (§6.1 watchers.*).
type Config struct {
	SelectionsPath string
	PollInterval   time.Duration
	SwapTimeout    time.Duration
	DrainRetry     time.Duration
	DrainMaxWait   time.Duration
}

// DefaultConfig mirrors §6.1's documented default poll interval.
func DefaultConfig(path string) Config {
	return Config{
		SelectionsPath: path,
		PollInterval:   5 * time.Second,
		SwapTimeout:    30 * time.Second,
		DrainRetry:     2 * time.Second,
		DrainMaxWait:   30 * time.Second,
	}
}

// ConfigWatcher polls (or, via RunFS, subscribes to) a selections file and
// calls bridge.Swap for every changed (domain,key) (§4.8).
type ConfigWatcher struct {
	cfg    Config
	lookup BridgeLookup
	sink   telemetry.Sink
	log    *logging.Logger

	last Selections
}

// Option configures a ConfigWatcher at construction.
type Option func(*ConfigWatcher)

func WithSink(s telemetry.Sink) Option    { return func(w *ConfigWatcher) { w.sink = s } }
func WithLogger(l *logging.Logger) Option { return func(w *ConfigWatcher) { w.log = l } }

// New constructs a ConfigWatcher. lookup resolves the Bridge responsible for
// a given domain name found in the selections file.
func New(cfg Config, lookup BridgeLookup, opts ...Option) *ConfigWatcher {
	w := &ConfigWatcher{
		cfg:    cfg,
		lookup: lookup,
		sink:   telemetry.NoopSink{},
		log:    logging.NewFromEnv("watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the selections file every cfg.PollInterval until ctx is
// cancelled, applying every change it detects (§4.8 "Polls (default 5s)").
func (w *ConfigWatcher) Run(ctx context.Context) error {
	w.reconcile(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *ConfigWatcher) reconcile(ctx context.Context) {
	current, err := loadSelections(w.cfg.SelectionsPath)
	if err != nil {
		w.log.WithError(err).Warn("failed to load selections file")
		return
	}

	changes := diff(w.last, current)
	w.last = current
	for _, ch := range changes {
		w.applyChange(ctx, ch)
	}
}

type change struct {
	domain   registry.Domain
	key      string
	provider string
}

// diff reports every (domain,key) whose provider differs between prev and
// next, including newly-added entries.
func diff(prev, next Selections) []change {
	var out []change
	for domain, keys := range next {
		for key, provider := range keys {
			if prev == nil || prev[domain][key] != provider {
				out = append(out, change{domain: registry.Domain(domain), key: key, provider: provider})
			}
		}
	}
	return out
}

func (w *ConfigWatcher) applyChange(ctx context.Context, ch change) {
	b, ok := w.lookup(ch.domain)
	if !ok {
		w.log.Warn("no bridge registered for domain " + string(ch.domain))
		return
	}

	paused, draining, _ := b.Activity(ch.key)
	if paused {
		w.emit("watcher-trigger", ch, "skipped", "paused")
		return
	}
	if draining {
		if !w.waitForDrainToClear(ctx, b, ch) {
			w.emit("watcher-trigger", ch, "deferred", "draining")
			// Forget the key so the next reconcile (the next poll, or the
			// next file event under RunFS) sees the change again.
			delete(w.last[string(ch.domain)], ch.key)
			return
		}
	}

	swapCtx, cancel := context.WithTimeout(ctx, w.cfg.SwapTimeout)
	defer cancel()

	if _, err := b.Swap(swapCtx, ch.key, ch.provider, false); err != nil {
		w.log.WithError(err).Warn("watcher-triggered swap failed")
		w.emit("watcher-trigger", ch, "failed", err.Error())
		return
	}
	w.emit("watcher-trigger", ch, "applied", "")
}

// waitForDrainToClear retries until DrainMaxWait elapses or the draining
// flag clears (§4.8 "defer and retry after a bounded delay or until the
// flag clears").
func (w *ConfigWatcher) waitForDrainToClear(ctx context.Context, b *bridge.Bridge, ch change) bool {
	deadline := time.Now().Add(w.cfg.DrainMaxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.cfg.DrainRetry):
		}
		_, draining, _ := b.Activity(ch.key)
		if !draining {
			return true
		}
	}
	return false
}

func (w *ConfigWatcher) emit(kind string, ch change, outcome, reason string) {
	w.sink.Event(telemetry.Event{
		Kind:   kind,
		Domain: string(ch.domain),
		Key:    ch.key,
		Fields: map[string]any{"provider": ch.provider, "outcome": outcome, "reason": reason},
	})
	w.sink.Count("watcher_triggers_total", map[string]string{"domain": string(ch.domain), "outcome": outcome}, 1)
}

func loadSelections(path string) (Selections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Selections Selections `yaml:"selections"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Selections != nil {
		return doc.Selections, nil
	}

	var bare Selections
	if err := yaml.Unmarshal(data, &bare); err != nil {
		return nil, err
	}
	return bare, nil
}
