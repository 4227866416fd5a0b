// Package registry holds the set of known Candidates (§3, §4.1): providers
// registered for a (domain, key) slot, grouped and ordered for the Resolver.
package registry

import (
	"regexp"

	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/internal/errs"
)

// Domain is a closed set of slot categories, extensible at construction time
// via Registry.RegisterDomain (§9 Design Notes: close dynamic typing to a
// named, validated set while keeping the set open for embedders).
type Domain string

const (
	DomainAdapter  Domain = "adapter"
	DomainService  Domain = "service"
	DomainTask     Domain = "task"
	DomainEvent    Domain = "event"
	DomainWorkflow Domain = "workflow"
)

// Source is the provenance tag for a Candidate (§3).
type Source string

const (
	SourceLocal      Source = "local"
	SourceEntryPoint Source = "entry_point"
	SourceRemote     Source = "remote"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// Metadata is the closed sub-schema carried on a Candidate (§3). Every field
// besides Capabilities is opaque to the core.
type Metadata struct {
	Capabilities     []string
	Owner            string
	Version          string
	SettingsModel    string
	RequiresSecrets  bool
	SideEffectFree   bool
	TimeoutSeconds   int
	RetryPolicy      string
	Requires         []string
	ConflictsWith    []string
	OSPlatform       string
	License          string
	DocumentationURL string
}

// HealthFunc is a candidate-declared health probe (§3 `health`).
type HealthFunc func() (bool, error)

// Candidate is a registered provider for a single (domain, key) slot (§3).
type Candidate struct {
	Domain     Domain
	Key        string
	Provider   string
	Factory    factory.Descriptor
	Priority   *int // nil means unset; resolver falls back to PrioritySource
	StackLevel int
	Sequence   uint64 // assigned by the registry; read-only to callers
	Source     Source
	Metadata   Metadata
	Health     HealthFunc
	Digest     string // hex SHA-256, set when installed from a remote artifact
}

const (
	minPriority = -1000
	maxPriority = 1000
	minStack    = -100
	maxStack    = 100
)

// Validate checks the invariants from §3 that must hold before a Candidate
// may be registered. It does not assign Sequence; the Registry does that.
func (c *Candidate) Validate() error {
	if c.Domain == "" {
		return errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "domain is required")
	}
	if !keyPattern.MatchString(c.Key) {
		return errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "key must match ^[a-zA-Z0-9_.-]{1,128}$")
	}
	if !keyPattern.MatchString(c.Provider) {
		return errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "provider must match ^[a-zA-Z0-9_.-]{1,128}$")
	}
	if c.Factory.Kind == "" {
		return errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "factory descriptor is required")
	}
	if c.Priority != nil && (*c.Priority < minPriority || *c.Priority > maxPriority) {
		return errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "priority out of [-1000,1000]")
	}
	if c.StackLevel < minStack || c.StackLevel > maxStack {
		return errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "stack_level out of [-100,100]")
	}
	return nil
}

// HasCapability reports whether the candidate declares the given capability.
func (c Candidate) HasCapability(cap string) bool {
	for _, have := range c.Metadata.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}
