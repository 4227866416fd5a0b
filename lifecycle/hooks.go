package lifecycle

import "context"

// PreSwapHook runs before the new instance is constructed during a swap
// (§4.4). Hooks are passed at Manager construction or via AddPreSwapHook /
// AddPostSwapHook / AddCleanupHook — no
// attribute/decorator magic (§9 Design Note "Decorators → explicit hook
// arrays").
type PreSwapHook func(ctx context.Context, domain, key string) error

// PostSwapHook runs after the new instance is bound and before old-instance
// cleanup (§4.4).
type PostSwapHook func(ctx context.Context, domain, key string, handle Handle) error

// CleanupHook runs, best-effort, alongside an instance's own
// cleanup/close/shutdown method during teardown (§4.4 Cleanup semantics).
type CleanupHook func(ctx context.Context, domain, key string, instance any) error

// Hooks groups the three explicit hook slices a Manager is constructed with.
type Hooks struct {
	PreSwap   []PreSwapHook
	PostSwap  []PostSwapHook
	OnCleanup []CleanupHook
}

// Initializer is implemented by provider instances that need setup work
// beyond construction (§4.4 step 4).
type Initializer interface {
	Init(ctx context.Context) error
}

// The following four interfaces are probed in order, matching the
// documented duck-typed health method list (§4.4 step 5, §9 Design Note
// "Duck-typed health methods → capability probe"): health, check_health,
// ready, is_healthy.
type healthInterface interface {
	Health(ctx context.Context) (bool, error)
}
type checkHealthInterface interface {
	CheckHealth(ctx context.Context) (bool, error)
}
type readyInterface interface {
	Ready(ctx context.Context) (bool, error)
}
type isHealthyInterface interface {
	IsHealthy(ctx context.Context) (bool, error)
}

// probeInstanceHealth dispatches to the first matching method in the
// documented order. An instance implementing none of them is considered
// healthy by default (no health surface declared).
func probeInstanceHealth(ctx context.Context, instance any) (bool, error) {
	switch v := instance.(type) {
	case healthInterface:
		return v.Health(ctx)
	case checkHealthInterface:
		return v.CheckHealth(ctx)
	case readyInterface:
		return v.Ready(ctx)
	case isHealthyInterface:
		return v.IsHealthy(ctx)
	default:
		return true, nil
	}
}

// cleanupInterface is implemented by instances with a dedicated teardown
// method, probed in order: cleanup, close, shutdown (§4.4 Cleanup
// semantics).
type cleanupInterface interface {
	Cleanup(ctx context.Context) error
}
type closerInterface interface {
	Close(ctx context.Context) error
}
type shutdownInterface interface {
	Shutdown(ctx context.Context) error
}

func cleanupInstance(ctx context.Context, instance any) error {
	switch v := instance.(type) {
	case cleanupInterface:
		return v.Cleanup(ctx)
	case closerInterface:
		return v.Close(ctx)
	case shutdownInterface:
		return v.Shutdown(ctx)
	default:
		return nil
	}
}
