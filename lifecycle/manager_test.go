package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/registry"
)

type fakeInstance struct {
	name       string
	initErr    error
	healthy    bool
	healthErr  error
	cleanedUp  bool
	cleanupErr error
}

func (f *fakeInstance) Init(ctx context.Context) error { return f.initErr }
func (f *fakeInstance) Health(ctx context.Context) (bool, error) {
	return f.healthy, f.healthErr
}
func (f *fakeInstance) Cleanup(ctx context.Context) error {
	f.cleanedUp = true
	return f.cleanupErr
}

func registerFakeCandidate(t *testing.T, reg *registry.Registry, provider string, stackLevel int, mk func() *fakeInstance) {
	t.Helper()
	_, err := reg.Register(registry.Candidate{
		Domain:     registry.DomainAdapter,
		Key:        "cache",
		Provider:   provider,
		StackLevel: stackLevel,
		Factory: factory.NewCallable(func(settings any) (any, error) {
			return mk(), nil
		}),
	})
	require.NoError(t, err)
}

func TestActivateSucceeds(t *testing.T) {
	reg := registry.New()
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance {
		return &fakeInstance{name: "redis", healthy: true}
	})
	mgr := New(reg)

	handle, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.NoError(t, err)
	require.Equal(t, "redis", handle.Provider)
}

func TestActivateFailsWhenInitErrors(t *testing.T) {
	reg := registry.New()
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance {
		return &fakeInstance{name: "redis", initErr: errors.New("boom")}
	})
	mgr := New(reg)

	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.ActivateFailed, kind)
}

// S3: swap with rollback — the new candidate's Init fails, so current must
// remain the prior instance, its cleanup must not run, and SwapFailed must
// be returned with RolledBack=true.
func TestSwapRollsBackOnFailure(t *testing.T) {
	reg := registry.New()
	oldInstance := &fakeInstance{name: "redis", healthy: true}
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance { return oldInstance })
	mgr := New(reg)

	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.NoError(t, err)

	registerFakeCandidate(t, reg, "memcached", 5, func() *fakeInstance {
		return &fakeInstance{name: "memcached", initErr: errors.New("init failure")}
	})

	_, err = mgr.Swap(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{Override: "memcached"})
	require.Error(t, err)

	var asErr *errs.Error
	require.True(t, errors.As(err, &asErr))
	require.Equal(t, errs.SwapFailed, asErr.Kind)
	require.True(t, asErr.RolledBack)

	require.False(t, oldInstance.cleanedUp, "rollback must not clean up the preserved previous instance")

	handle, ok := mgr.Current(registry.DomainAdapter, "cache")
	require.True(t, ok)
	require.Equal(t, "redis", handle.Provider)
}

func TestSwapForceSkipsRollback(t *testing.T) {
	reg := registry.New()
	oldInstance := &fakeInstance{name: "redis", healthy: true}
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance { return oldInstance })
	mgr := New(reg)
	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.NoError(t, err)

	registerFakeCandidate(t, reg, "memcached", 5, func() *fakeInstance {
		return &fakeInstance{name: "memcached", initErr: errors.New("init failure")}
	})

	_, err = mgr.Swap(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{Override: "memcached", Force: true})
	require.Error(t, err)

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.SwapFailed, kind)

	// With force, binding stays failed and does not silently keep redis.
	_, ok = mgr.Current(registry.DomainAdapter, "cache")
	require.False(t, ok)
}

func TestSwapSucceedsAndCleansUpPrevious(t *testing.T) {
	reg := registry.New()
	oldInstance := &fakeInstance{name: "redis", healthy: true}
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance { return oldInstance })
	mgr := New(reg)
	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.NoError(t, err)

	registerFakeCandidate(t, reg, "memcached", 5, func() *fakeInstance {
		return &fakeInstance{name: "memcached", healthy: true}
	})

	handle, err := mgr.Swap(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{Override: "memcached"})
	require.NoError(t, err)
	require.Equal(t, "memcached", handle.Provider)
	require.True(t, oldInstance.cleanedUp)
}

func TestPauseIsIdempotentAndResumeIsNoOp(t *testing.T) {
	reg := registry.New()
	mgr := New(reg)

	require.NoError(t, mgr.Pause(registry.DomainService, "payment", "investigating"))
	require.NoError(t, mgr.Pause(registry.DomainService, "payment", ""))
	paused, _, _ := mgr.Activity(registry.DomainService, "payment")
	require.True(t, paused)

	require.NoError(t, mgr.Resume(registry.DomainService, "payment"))
	paused, _, _ = mgr.Activity(registry.DomainService, "payment")
	require.False(t, paused)
	require.NoError(t, mgr.Resume(registry.DomainService, "payment"))
}

func TestProbeRunsHealthAgainstCurrent(t *testing.T) {
	reg := registry.New()
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance {
		return &fakeInstance{name: "redis", healthy: true}
	})
	mgr := New(reg)
	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.NoError(t, err)

	ok, err := mgr.Probe(context.Background(), registry.DomainAdapter, "cache")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestActivateBoundsBlockingCandidateHealthProbe(t *testing.T) {
	reg := registry.New()
	block := make(chan struct{})
	defer close(block)
	_, err := reg.Register(registry.Candidate{
		Domain:   registry.DomainAdapter,
		Key:      "cache",
		Provider: "redis",
		Factory: factory.NewCallable(func(settings any) (any, error) {
			return &fakeInstance{name: "redis", healthy: true}, nil
		}),
		Health: func() (bool, error) {
			<-block
			return true, nil
		},
	})
	require.NoError(t, err)

	timeouts := DefaultTimeouts()
	timeouts.Health = 50 * time.Millisecond
	mgr := New(reg, WithTimeouts(timeouts))

	start := time.Now()
	_, err = mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second, "a blocking health probe must fail at the health timeout, not hang")

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.ActivateFailed, kind)
}

func TestShutdownCleansUpLiveBindings(t *testing.T) {
	reg := registry.New()
	instance := &fakeInstance{name: "redis", healthy: true}
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance { return instance })
	mgr := New(reg)

	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.NoError(t, err)

	require.NoError(t, mgr.Shutdown(context.Background()))
	require.True(t, instance.cleanedUp)

	_, ok := mgr.Current(registry.DomainAdapter, "cache")
	require.False(t, ok)
}

func TestActivateFailsWhenUnhealthy(t *testing.T) {
	reg := registry.New()
	registerFakeCandidate(t, reg, "redis", 10, func() *fakeInstance {
		return &fakeInstance{name: "redis", healthy: false}
	})
	mgr := New(reg)

	_, err := mgr.Activate(context.Background(), registry.DomainAdapter, "cache", ActivateOptions{})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.ActivateFailed, kind)
}
