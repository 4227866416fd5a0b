package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oneiric/oneiric/registry"
)

// BindingState is one of the states an ActiveBinding may be in (§3).
type BindingState string

const (
	StateAbsent     BindingState = "absent"
	StateActivating BindingState = "activating"
	StateReady      BindingState = "ready"
	StateSwapping   BindingState = "swapping"
	StateFailed     BindingState = "failed"
	StateDrained    BindingState = "drained"
)

// instanceRef pairs a live instance with the Candidate that produced it and
// the resolution trace id that selected it, threaded into log fields and
// returned Handles for correlation.
type instanceRef struct {
	candidate registry.Candidate
	instance  any
	traceID   uuid.UUID
}

// binding is the per-(domain,key) runtime state owned by the Manager (§3
// ActiveBinding). Each binding has its own mutex so operations on distinct
// (domain,key) pairs never serialize on each other (§5).
type binding struct {
	mu sync.Mutex

	domain registry.Domain
	key    string

	state   BindingState
	current *instanceRef
	prev    *instanceRef

	lastActivatedAt time.Time
	lastError       string
	lastHealthAt    time.Time
	lastHealthOK    bool

	paused   bool
	draining bool
	note     string
}

// Handle is a short-lived reference to a live instance returned by a Domain
// Bridge's use() call (§4.5 Glossary). Callers must not retain it past a
// swap.
type Handle struct {
	Domain   registry.Domain
	Key      string
	Provider string
	Instance any
	Metadata registry.Metadata
	TraceID  uuid.UUID // resolution trace that selected this instance
}

func (b *binding) handleLocked() Handle {
	if b.current == nil {
		return Handle{Domain: b.domain, Key: b.key}
	}
	return Handle{
		Domain:   b.domain,
		Key:      b.key,
		Provider: b.current.candidate.Provider,
		Instance: b.current.instance,
		Metadata: b.current.candidate.Metadata,
		TraceID:  b.current.traceID,
	}
}
