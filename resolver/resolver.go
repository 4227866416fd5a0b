// Package resolver answers "which candidate wins for (domain,key)?" and
// explains why (§4.2). Resolve takes an immutable registry.Snapshot, never a
// live Registry, so the determinism of its selection, shadowed set and
// scores (§8.1) is mechanical rather than merely documented. Each trace
// also carries a fresh random TraceID, which differs from call to call.
package resolver

import (
	"sort"

	"github.com/google/uuid"

	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/registry"
)

// PrioritySource returns the effective priority an operator's stack_order
// configuration assigns to a provider label, and whether one was configured
// at all (§4.2 step 3).
type PrioritySource func(provider string) (priority int, ok bool)

// PrioritySourceKind records which source actually supplied the effective
// priority, echoed into the trace (§3 ExplanationTrace).
type PrioritySourceKind string

const (
	PriorityExplicit PrioritySourceKind = "explicit"
	PriorityEnv      PrioritySourceKind = "env"
	PriorityDefault  PrioritySourceKind = "default"
)

const defaultPriority = 0

// ResolveOptions carries the inputs to Resolve (§4.2).
type ResolveOptions struct {
	Override             string // explicit provider override, "" for none
	RequiredCapabilities []string
	PrioritySource       PrioritySource
	LenientOverride      bool // Open Question 3: default false (strict)
}

// score is the 5-tuple precedence key (§4.2). Candidates compare
// lexicographically; sequence is unique so ties are impossible in practice,
// but less still defines a total order defensively (§8.2).
type score struct {
	overrideMatch     int
	capabilityMatch   int
	effectivePriority int
	stackLevel        int
	sequence          uint64
}

func (s score) less(o score) bool {
	if s.overrideMatch != o.overrideMatch {
		return s.overrideMatch < o.overrideMatch
	}
	if s.capabilityMatch != o.capabilityMatch {
		return s.capabilityMatch < o.capabilityMatch
	}
	if s.effectivePriority != o.effectivePriority {
		return s.effectivePriority < o.effectivePriority
	}
	if s.stackLevel != o.stackLevel {
		return s.stackLevel < o.stackLevel
	}
	return s.sequence < o.sequence
}

// Considered is one line of the ExplanationTrace: a candidate that was
// evaluated, whether it was shadowed, and why.
type Considered struct {
	Provider     string
	Score        ScoreComponents
	Shadowed     bool
	ShadowReason string
	Selected     bool
}

// ScoreComponents exposes the score tuple for the trace (§3).
type ScoreComponents struct {
	OverrideMatch   int
	CapabilityMatch int
	Priority        int
	StackLevel      int
	Sequence        uint64
}

// ExplanationTrace is the pure value Resolve always returns alongside a
// ResolveResult, even on failure (§7: "every failure is accompanied by an
// ExplanationTrace").
type ExplanationTrace struct {
	TraceID              uuid.UUID
	Domain               string
	Key                  string
	RequestedOverride    string
	RequiredCapabilities []string
	EffectivePrioritySrc PrioritySourceKind
	Considered           []Considered
}

// ResolveResult is the outcome of a successful Resolve.
type ResolveResult struct {
	Selected registry.Candidate
	Shadowed []registry.Candidate
	Trace    ExplanationTrace
}

// Resolve selects a Candidate for (domain,key) and explains why (§4.2).
// It never instantiates, imports, or performs I/O.
func Resolve(snap registry.Snapshot, domain registry.Domain, key string, opts ResolveOptions) (ResolveResult, error) {
	trace := ExplanationTrace{
		TraceID:              uuid.New(),
		Domain:               string(domain),
		Key:                  key,
		RequestedOverride:    opts.Override,
		RequiredCapabilities: append([]string{}, opts.RequiredCapabilities...),
		EffectivePrioritySrc: PriorityDefault,
	}

	candidates := snap.CandidatesFor(domain, key)
	if len(candidates) == 0 {
		return ResolveResult{Trace: trace}, errs.New(errs.NoCandidate, string(domain), key, "no candidate registered")
	}

	if opts.Override != "" && !opts.LenientOverride {
		found := false
		for _, c := range candidates {
			if c.Provider == opts.Override {
				found = true
				break
			}
		}
		if !found {
			return ResolveResult{Trace: trace}, errs.New(errs.UnknownProviderOverride, string(domain), key, "override does not match any registered provider: "+opts.Override)
		}
	}

	type scored struct {
		candidate registry.Candidate
		score     score
		capOK     bool
	}
	scoredList := make([]scored, 0, len(candidates))

	for _, c := range candidates {
		capMatch, capOK := matchCapabilities(c, opts.RequiredCapabilities)
		effPriority, src := effectivePriority(c, opts.PrioritySource)
		if src != PriorityDefault {
			trace.EffectivePrioritySrc = src
		}

		s := score{
			overrideMatch:     boolToInt(opts.Override != "" && c.Provider == opts.Override),
			capabilityMatch:   capMatch,
			effectivePriority: effPriority,
			stackLevel:        c.StackLevel,
			sequence:          c.Sequence,
		}
		scoredList = append(scoredList, scored{candidate: c, score: s, capOK: capOK})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[j].score.less(scoredList[i].score) // descending
	})

	var selectedIdx = -1
	for i, sc := range scoredList {
		if sc.capOK {
			selectedIdx = i
			break
		}
	}

	result := ResolveResult{}
	for i, sc := range scoredList {
		considered := Considered{
			Provider: sc.candidate.Provider,
			Score: ScoreComponents{
				OverrideMatch:   sc.score.overrideMatch,
				CapabilityMatch: sc.score.capabilityMatch,
				Priority:        sc.score.effectivePriority,
				StackLevel:      sc.score.stackLevel,
				Sequence:        sc.score.sequence,
			},
		}
		switch {
		case !sc.capOK:
			considered.Shadowed = true
			considered.ShadowReason = "missing required capability"
			result.Shadowed = append(result.Shadowed, sc.candidate)
		case i == selectedIdx:
			considered.Selected = true
			result.Selected = sc.candidate
		default:
			considered.Shadowed = true
			considered.ShadowReason = shadowReason(sc.score, scoredList[selectedIdx].score)
			result.Shadowed = append(result.Shadowed, sc.candidate)
		}
		trace.Considered = append(trace.Considered, considered)
	}
	result.Trace = trace

	if selectedIdx == -1 {
		if len(opts.RequiredCapabilities) > 0 {
			return result, errs.New(errs.NoCapableCandidate, string(domain), key, "no candidate satisfies required capabilities")
		}
		return result, errs.New(errs.NoCandidate, string(domain), key, "no eligible candidate")
	}

	return result, nil
}

func shadowReason(lost, won score) string {
	switch {
	case lost.overrideMatch != won.overrideMatch:
		return "override_match lost"
	case lost.capabilityMatch != won.capabilityMatch:
		return "capability_match lower"
	case lost.effectivePriority != won.effectivePriority:
		return "priority lower"
	case lost.stackLevel != won.stackLevel:
		return "stack_level lower"
	default:
		return "earlier sequence"
	}
}

func matchCapabilities(c registry.Candidate, required []string) (match int, ok bool) {
	if len(required) == 0 {
		return 0, true
	}
	count := 0
	for _, cap := range required {
		if c.HasCapability(cap) {
			count++
		}
	}
	return count, count == len(required)
}

func effectivePriority(c registry.Candidate, src PrioritySource) (int, PrioritySourceKind) {
	if c.Priority != nil {
		return clampPriority(*c.Priority), PriorityExplicit
	}
	if src != nil {
		if p, ok := src(c.Provider); ok {
			return clampPriority(p), PriorityEnv
		}
	}
	return defaultPriority, PriorityDefault
}

func clampPriority(p int) int {
	if p < -1000 {
		return -1000
	}
	if p > 1000 {
		return 1000
	}
	return p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
