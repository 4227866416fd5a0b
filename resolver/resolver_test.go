package resolver

import (
	"testing"

	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/registry"
)

func buildSnapshot(t *testing.T, candidates ...registry.Candidate) registry.Snapshot {
	t.Helper()
	r := registry.New()
	for _, c := range candidates {
		if _, err := r.Register(c); err != nil {
			t.Fatalf("Register(%+v) error = %v", c, err)
		}
	}
	return r.Snapshot()
}

func cand(provider string, stackLevel int) registry.Candidate {
	return registry.Candidate{
		Domain:     registry.DomainAdapter,
		Key:        "cache",
		Provider:   provider,
		Factory:    factory.NewSymbolic("myapp:" + provider),
		StackLevel: stackLevel,
	}
}

// S1: precedence by stack_level when priority is unset and there's no override.
func TestResolvePrecedenceByStackLevel(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10), cand("memcached", 5))

	result, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Selected.Provider != "redis" {
		t.Fatalf("selected = %s, want redis", result.Selected.Provider)
	}
	if len(result.Shadowed) != 1 || result.Shadowed[0].Provider != "memcached" {
		t.Fatalf("shadowed = %+v, want [memcached]", result.Shadowed)
	}
}

// S2: explicit override flips the winner.
func TestResolveOverrideFlips(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10), cand("memcached", 5))

	result, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{Override: "memcached"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Selected.Provider != "memcached" {
		t.Fatalf("selected = %s, want memcached", result.Selected.Provider)
	}
	for _, c := range result.Trace.Considered {
		if c.Provider == "memcached" && c.Score.OverrideMatch != 1 {
			t.Fatalf("memcached override_match = %d, want 1", c.Score.OverrideMatch)
		}
		if c.Provider == "redis" && c.Score.OverrideMatch != 0 {
			t.Fatalf("redis override_match = %d, want 0", c.Score.OverrideMatch)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10), cand("memcached", 5))

	r1, err1 := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{})
	r2, err2 := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{})
	if err1 != nil || err2 != nil {
		t.Fatalf("errors: %v, %v", err1, err2)
	}
	if r1.Selected.Provider != r2.Selected.Provider {
		t.Fatalf("nondeterministic selection: %s vs %s", r1.Selected.Provider, r2.Selected.Provider)
	}
}

func TestResolveNoCandidate(t *testing.T) {
	snap := buildSnapshot(t)
	_, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{})
	if kind, ok := errs.KindOf(err); !ok || kind != errs.NoCandidate {
		t.Fatalf("expected NoCandidate, got %v", err)
	}
}

func TestResolveStrictUnknownOverride(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10))
	_, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{Override: "nonexistent"})
	if kind, ok := errs.KindOf(err); !ok || kind != errs.UnknownProviderOverride {
		t.Fatalf("expected UnknownProviderOverride, got %v", err)
	}
}

func TestResolveLenientOverrideIgnoresUnmatched(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10))
	result, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{Override: "nonexistent", LenientOverride: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Selected.Provider != "redis" {
		t.Fatalf("selected = %s, want redis", result.Selected.Provider)
	}
}

func TestResolveCapabilityFiltering(t *testing.T) {
	withCap := cand("redis", 0)
	withCap.Metadata.Capabilities = []string{"ttl"}
	withoutCap := cand("memcached", 100) // higher stack level but lacks capability
	snap := buildSnapshot(t, withCap, withoutCap)

	result, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{RequiredCapabilities: []string{"ttl"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Selected.Provider != "redis" {
		t.Fatalf("selected = %s, want redis (only capable candidate)", result.Selected.Provider)
	}
}

func TestResolveNoCapableCandidate(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10))
	_, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{RequiredCapabilities: []string{"ttl"}})
	if kind, ok := errs.KindOf(err); !ok || kind != errs.NoCapableCandidate {
		t.Fatalf("expected NoCapableCandidate, got %v", err)
	}
}

func TestResolvePrioritySourceBeatsStackLevel(t *testing.T) {
	snap := buildSnapshot(t, cand("redis", 10), cand("memcached", 5))
	src := func(provider string) (int, bool) {
		if provider == "memcached" {
			return 500, true
		}
		return 0, false
	}
	result, err := Resolve(snap, registry.DomainAdapter, "cache", ResolveOptions{PrioritySource: src})
	if err != nil {
		t.Fatal(err)
	}
	if result.Selected.Provider != "memcached" {
		t.Fatalf("selected = %s, want memcached (priority source should outrank stack level)", result.Selected.Provider)
	}
}
