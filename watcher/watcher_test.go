package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneiric/oneiric/bridge"
	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/lifecycle"
	"github.com/oneiric/oneiric/registry"
)

func writeSelections(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func registerProvider(t *testing.T, reg *registry.Registry, domain registry.Domain, key, provider string, stackLevel int) {
	t.Helper()
	_, err := reg.Register(registry.Candidate{
		Domain:     domain,
		Key:        key,
		Provider:   provider,
		StackLevel: stackLevel,
		Factory: factory.NewCallable(func(settings any) (any, error) {
			return struct{}{}, nil
		}),
	})
	require.NoError(t, err)
}

// S6: pause prevents swap — the watcher must observe a selections change
// but skip the swap while the (domain,key) binding is paused.
func TestWatcherSkipsSwapWhenPaused(t *testing.T) {
	reg := registry.New()
	registerProvider(t, reg, registry.DomainService, "payment", "stripe", 10)
	registerProvider(t, reg, registry.DomainService, "payment", "adyen", 10)
	lc := lifecycle.New(reg)
	b := bridge.New(reg, lc, nil, registry.DomainService)

	_, err := b.Use(context.Background(), "payment", bridge.UseOptions{Override: "stripe"})
	require.NoError(t, err)
	require.NoError(t, b.Pause("payment", "investigating"))

	dir := t.TempDir()
	path := filepath.Join(dir, "selections.yaml")
	writeSelections(t, path, "selections:\n  service:\n    payment: adyen\n")

	cfg := DefaultConfig(path)
	cfg.PollInterval = 10 * time.Millisecond
	w := New(cfg, func(domain registry.Domain) (*bridge.Bridge, bool) {
		if domain == registry.DomainService {
			return b, true
		}
		return nil, false
	})

	w.reconcile(context.Background())

	handle, ok := lc.Current(registry.DomainService, "payment")
	require.True(t, ok)
	require.Equal(t, "stripe", handle.Provider, "a paused binding must not be swapped by the watcher")
}

func TestWatcherAppliesChangeWhenNotPaused(t *testing.T) {
	reg := registry.New()
	registerProvider(t, reg, registry.DomainService, "payment", "stripe", 10)
	registerProvider(t, reg, registry.DomainService, "payment", "adyen", 10)
	lc := lifecycle.New(reg)
	b := bridge.New(reg, lc, nil, registry.DomainService)

	_, err := b.Use(context.Background(), "payment", bridge.UseOptions{Override: "stripe"})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "selections.yaml")
	writeSelections(t, path, "selections:\n  service:\n    payment: adyen\n")

	cfg := DefaultConfig(path)
	w := New(cfg, func(domain registry.Domain) (*bridge.Bridge, bool) {
		return b, true
	})

	w.reconcile(context.Background())

	handle, ok := lc.Current(registry.DomainService, "payment")
	require.True(t, ok)
	require.Equal(t, "adyen", handle.Provider)
}

func TestDiffDetectsChangedAndNewEntries(t *testing.T) {
	prev := Selections{"service": {"payment": "stripe"}}
	next := Selections{"service": {"payment": "adyen", "shipping": "ups"}}

	changes := diff(prev, next)
	require.Len(t, changes, 2)
}
