package factory

import (
	"testing"

	"github.com/oneiric/oneiric/internal/errs"
)

func TestGuardResolvesCallable(t *testing.T) {
	g := NewGuard("myapp.")
	called := false
	d := NewCallable(func(settings any) (any, error) {
		called = true
		return "instance", nil
	})

	fn, err := g.Resolve(d)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := fn(nil); err != nil {
		t.Fatalf("fn() error = %v", err)
	}
	if !called {
		t.Fatal("callable was not invoked")
	}
}

func TestGuardResolvesAllowedSymbol(t *testing.T) {
	g := NewGuard("myapp.providers")
	g.RegisterSymbol("myapp.providers.cache:NewRedis", func(settings any) (any, error) {
		return "redis-instance", nil
	})

	fn, err := g.Resolve(NewSymbolic("myapp.providers.cache:NewRedis"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	inst, err := fn(nil)
	if err != nil || inst != "redis-instance" {
		t.Fatalf("fn() = %v, %v", inst, err)
	}
}

func TestGuardRejectsUnlistedModule(t *testing.T) {
	g := NewGuard("myapp.providers")
	g.RegisterSymbol("other.module:NewThing", func(settings any) (any, error) { return nil, nil })

	_, err := g.Resolve(NewSymbolic("other.module:NewThing"))
	if kind, ok := errs.KindOf(err); !ok || kind != errs.FactoryNotAllowed {
		t.Fatalf("expected FactoryNotAllowed, got %v", err)
	}
}

func TestGuardRejectsBlockedPrefix(t *testing.T) {
	g := NewGuard("os/exec") // even if explicitly allow-listed, still blocked
	_, err := g.Resolve(NewSymbolic("os/exec:Command"))
	if kind, ok := errs.KindOf(err); !ok || kind != errs.FactoryNotAllowed {
		t.Fatalf("expected FactoryNotAllowed, got %v", err)
	}
}

func TestGuardRejectsMalformedSymbol(t *testing.T) {
	g := NewGuard("myapp")
	_, err := g.Resolve(NewSymbolic("no-colon-here"))
	if kind, ok := errs.KindOf(err); !ok || kind != errs.FactoryNotAllowed {
		t.Fatalf("expected FactoryNotAllowed, got %v", err)
	}
}

func TestGuardCachesSymbolicResolution(t *testing.T) {
	g := NewGuard("myapp")
	calls := 0
	g.RegisterSymbol("myapp:New", func(settings any) (any, error) {
		calls++
		return calls, nil
	})

	d := NewSymbolic("myapp:New")
	if _, err := g.Resolve(d); err != nil {
		t.Fatal(err)
	}
	// Re-registering the symbol after the first resolution must not change
	// what Resolve returns: later calls are served from the cache instead of
	// re-reading the symbol table.
	g.RegisterSymbol("myapp:New", func(settings any) (any, error) {
		return "replaced", nil
	})
	if _, err := g.Resolve(d); err != nil {
		t.Fatal(err)
	}
	fn, _ := g.Resolve(d)
	inst, err := fn(nil)
	if err != nil {
		t.Fatal(err)
	}
	if inst != 1 || calls != 1 {
		t.Fatalf("fn(nil) = %v (calls=%d), want the cached original factory", inst, calls)
	}
}
