// Package telemetry defines the Observability Seam (§4.10): a thin Sink
// interface the core emits structured events and counters into, with a
// no-op default and a Prometheus-backed implementation.
package telemetry

import "time"

// Event is a single structured record emitted at a well-defined program
// point. Kind is one of the names listed in §4.10, e.g. "activate-success",
// "remote-sync-failure", "watcher-trigger".
type Event struct {
	Kind   string
	Domain string
	Key    string
	Fields map[string]any
}

// Sink receives structured events and counters from every core component.
// Implementations must not block the caller for long; a slow sink should
// buffer or drop rather than stall a lifecycle transition.
type Sink interface {
	Event(e Event)
	Count(name string, labels map[string]string, delta float64)
	Observe(name string, labels map[string]string, value time.Duration)
}

// NoopSink discards everything. It is the default when no Sink is supplied.
type NoopSink struct{}

func (NoopSink) Event(Event)                                      {}
func (NoopSink) Count(string, map[string]string, float64)         {}
func (NoopSink) Observe(string, map[string]string, time.Duration) {}

var _ Sink = NoopSink{}
