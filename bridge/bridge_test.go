package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/lifecycle"
	"github.com/oneiric/oneiric/registry"
)

type fakeInstance struct{ healthy bool }

func (f *fakeInstance) Health(ctx context.Context) (bool, error) { return f.healthy, nil }

func registerCandidate(t *testing.T, reg *registry.Registry, domain registry.Domain, key, provider string, stackLevel int) {
	t.Helper()
	_, err := reg.Register(registry.Candidate{
		Domain:     domain,
		Key:        key,
		Provider:   provider,
		StackLevel: stackLevel,
		Factory: factory.NewCallable(func(settings any) (any, error) {
			return &fakeInstance{healthy: true}, nil
		}),
	})
	require.NoError(t, err)
}

func TestUseReusesCurrentWithoutRefresh(t *testing.T) {
	reg := registry.New()
	registerCandidate(t, reg, registry.DomainAdapter, "cache", "redis", 10)
	lc := lifecycle.New(reg)
	b := New(reg, lc, nil, registry.DomainAdapter)

	h1, err := b.Use(context.Background(), "cache", UseOptions{})
	require.NoError(t, err)
	require.Equal(t, "redis", h1.Provider)

	registerCandidate(t, reg, registry.DomainAdapter, "cache", "memcached", 20)
	h2, err := b.Use(context.Background(), "cache", UseOptions{})
	require.NoError(t, err)
	require.Equal(t, "redis", h2.Provider, "without Refresh, Use must keep serving the live instance")
}

func TestUseRefreshSwapsToHigherStackLevel(t *testing.T) {
	reg := registry.New()
	registerCandidate(t, reg, registry.DomainAdapter, "cache", "redis", 10)
	lc := lifecycle.New(reg)
	b := New(reg, lc, nil, registry.DomainAdapter)

	_, err := b.Use(context.Background(), "cache", UseOptions{})
	require.NoError(t, err)

	registerCandidate(t, reg, registry.DomainAdapter, "cache", "memcached", 20)
	h, err := b.Use(context.Background(), "cache", UseOptions{Refresh: true})
	require.NoError(t, err)
	require.Equal(t, "memcached", h.Provider)
}

func TestSettingsCacheServesSameValueUntilInvalidated(t *testing.T) {
	reg := registry.New()
	calls := 0
	settings := func(domain registry.Domain, key, provider string) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}
	lc := lifecycle.New(reg)
	b := New(reg, lc, settings, registry.DomainAdapter)

	v1, err := b.Settings("cache", "redis")
	require.NoError(t, err)
	v2, err := b.Settings("cache", "redis")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, calls)

	b.InvalidateSettings("cache", "redis")
	_, err = b.Settings("cache", "redis")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestListActiveAndListShadowed(t *testing.T) {
	reg := registry.New()
	registerCandidate(t, reg, registry.DomainAdapter, "cache", "redis", 20)
	registerCandidate(t, reg, registry.DomainAdapter, "cache", "memcached", 10)
	lc := lifecycle.New(reg)
	b := New(reg, lc, nil, registry.DomainAdapter)

	active, err := b.ListActive(UseOptions{})
	require.NoError(t, err)
	require.Equal(t, "redis", active["cache"].Selected.Provider)

	shadowed, err := b.ListShadowed(UseOptions{})
	require.NoError(t, err)
	require.Len(t, shadowed["cache"], 1)
	require.Equal(t, "memcached", shadowed["cache"][0].Provider)
}

func TestAdapterBridgeUseMany(t *testing.T) {
	reg := registry.New()
	registerCandidate(t, reg, registry.DomainAdapter, "cache", "redis", 10)
	registerCandidate(t, reg, registry.DomainAdapter, "queue", "rabbitmq", 10)
	lc := lifecycle.New(reg)
	ab := NewAdapterBridge(reg, lc, nil)

	handles, err := ab.UseMany(context.Background(), []string{"cache", "queue"}, UseOptions{})
	require.NoError(t, err)
	require.Equal(t, "redis", handles["cache"].Provider)
	require.Equal(t, "rabbitmq", handles["queue"].Provider)
}
