package resolver

import "encoding/json"

// MarshalJSON renders the trace for operator/CLI consumption (§6.4 explain).
func (t ExplanationTrace) MarshalJSON() ([]byte, error) {
	type considered struct {
		Provider        string `json:"provider"`
		OverrideMatch   int    `json:"override_match"`
		CapabilityMatch int    `json:"capability_match"`
		Priority        int    `json:"priority"`
		StackLevel      int    `json:"stack_level"`
		Sequence        uint64 `json:"sequence"`
		Shadowed        bool   `json:"shadowed"`
		ShadowReason    string `json:"shadow_reason,omitempty"`
		Selected        bool   `json:"selected"`
	}
	out := struct {
		TraceID              string       `json:"trace_id"`
		Domain               string       `json:"domain"`
		Key                  string       `json:"key"`
		RequestedOverride    string       `json:"requested_override,omitempty"`
		RequiredCapabilities []string     `json:"required_capabilities,omitempty"`
		EffectivePrioritySrc string       `json:"effective_priority_source"`
		Considered           []considered `json:"considered"`
	}{
		TraceID:              t.TraceID.String(),
		Domain:               t.Domain,
		Key:                  t.Key,
		RequestedOverride:    t.RequestedOverride,
		RequiredCapabilities: t.RequiredCapabilities,
		EffectivePrioritySrc: string(t.EffectivePrioritySrc),
	}
	for _, c := range t.Considered {
		out.Considered = append(out.Considered, considered{
			Provider:        c.Provider,
			OverrideMatch:   c.Score.OverrideMatch,
			CapabilityMatch: c.Score.CapabilityMatch,
			Priority:        c.Score.Priority,
			StackLevel:      c.Score.StackLevel,
			Sequence:        c.Score.Sequence,
			Shadowed:        c.Shadowed,
			ShadowReason:    c.ShadowReason,
			Selected:        c.Selected,
		})
	}
	return json.Marshal(out)
}
