package registry

import (
	"sort"
	"sync"

	"github.com/oneiric/oneiric/internal/errs"
)

type slotKey struct {
	domain Domain
	key    string
}

// WatchEvent is pushed on a Registry.Watch channel whenever the candidate
// set for (domain,key) changes, so the Config Watcher and Remote Pipeline
// don't need to poll the Registry for structural changes (§4.1 supplement,
// additive — it does not replace List/Snapshot).
type WatchEvent struct {
	Domain Domain
	Key    string
}

// Registry holds the set of known Candidates (§4.1), grouped by (domain,key)
// and ordered by Sequence. All mutating operations serialize on a single
// exclusive lock; no operation may suspend while holding it.
type Registry struct {
	mu         sync.RWMutex
	candidates map[slotKey][]Candidate
	sequence   uint64
	domains    map[Domain]bool
	watchers   []chan WatchEvent
}

// New creates an empty Registry with the closed default Domain set plus any
// extra domains an embedding application wants to validate against.
func New(extraDomains ...Domain) *Registry {
	r := &Registry{
		candidates: make(map[slotKey][]Candidate),
		domains: map[Domain]bool{
			DomainAdapter:  true,
			DomainService:  true,
			DomainTask:     true,
			DomainEvent:    true,
			DomainWorkflow: true,
		},
	}
	for _, d := range extraDomains {
		r.domains[d] = true
	}
	return r
}

// RegisterDomain extends the closed domain set (§3: "extensible set").
func (r *Registry) RegisterDomain(d Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[d] = true
}

// Register validates candidate, deduplicates on (domain,key,provider) with
// replace semantics, assigns Sequence, and returns it (§4.1).
func (r *Registry) Register(c Candidate) (uint64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.domains[c.Domain] {
		return 0, errs.New(errs.InvalidCandidate, string(c.Domain), c.Key, "unknown domain (call RegisterDomain first)")
	}

	r.sequence++
	c.Sequence = r.sequence

	slot := slotKey{c.Domain, c.Key}
	list := r.candidates[slot]
	replaced := false
	for i := range list {
		if list[i].Provider == c.Provider {
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, c)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	r.candidates[slot] = list

	r.notifyLocked(c.Domain, c.Key)
	return c.Sequence, nil
}

// Unregister removes the candidate for (domain,key,provider), if present.
// It is idempotent: removing an absent candidate returns false, not an
// error.
func (r *Registry) Unregister(domain Domain, key, provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := slotKey{domain, key}
	list := r.candidates[slot]
	for i := range list {
		if list[i].Provider == provider {
			r.candidates[slot] = append(list[:i:i], list[i+1:]...)
			r.notifyLocked(domain, key)
			return true
		}
	}
	return false
}

// List returns the candidates for (domain,key) ordered by Sequence. Passing
// an empty key lists every candidate registered for the domain.
func (r *Registry) List(domain Domain, key string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if key != "" {
		return cloneList(r.candidates[slotKey{domain, key}])
	}

	var out []Candidate
	for slot, list := range r.candidates {
		if slot.domain == domain {
			out = append(out, list...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Snapshot is a structurally-cloned, immutable view of the whole Registry,
// safe to hand to the Resolver (§4.1, §4.2: resolution must not share
// mutable state with the Registry).
type Snapshot struct {
	byDomainKey map[slotKey][]Candidate
}

// CandidatesFor returns the candidates registered for (domain,key) in the
// snapshot.
func (s Snapshot) CandidatesFor(domain Domain, key string) []Candidate {
	return cloneList(s.byDomainKey[slotKey{domain, key}])
}

// Snapshot returns a structurally-cloned view of the registry's current
// state, safe for concurrent readers and Resolver purity.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := make(map[slotKey][]Candidate, len(r.candidates))
	for slot, list := range r.candidates {
		clone[slot] = cloneList(list)
	}
	return Snapshot{byDomainKey: clone}
}

// Watch returns a channel that receives a WatchEvent after every Register or
// Unregister touching (domain,key). The caller owns the channel and must
// keep draining it; a slow reader does not block registry mutations because
// sends are delivered asynchronously with a bounded buffer and dropped (with
// a best-effort attempt) if full.
func (r *Registry) Watch() <-chan WatchEvent {
	ch := make(chan WatchEvent, 32)
	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) notifyLocked(domain Domain, key string) {
	evt := WatchEvent{Domain: domain, Key: key}
	for _, ch := range r.watchers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func cloneList(list []Candidate) []Candidate {
	if list == nil {
		return nil
	}
	out := make([]Candidate, len(list))
	copy(out, list)
	return out
}
