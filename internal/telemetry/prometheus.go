package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oneiric/oneiric/internal/logging"
)

// PrometheusSink registers the counters and histograms §4.10 requires
// (resolution outcomes, swap durations, remote sync results, digest/signature
// checks, pause/drain transitions) against a Prometheus registerer and logs
// every Event at debug level through the supplied Logger.
type PrometheusSink struct {
	log *logging.Logger

	events      *prometheus.CounterVec
	swapLatency *prometheus.HistogramVec
	counters    *prometheus.CounterVec
}

// NewPrometheusSink creates a PrometheusSink and registers its collectors
// against registerer (pass prometheus.DefaultRegisterer in most programs).
func NewPrometheusSink(log *logging.Logger, registerer prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		log: log,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oneiric_events_total",
			Help: "Total structured events emitted by the core, labeled by kind.",
		}, []string{"kind", "domain"}),
		swapLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oneiric_swap_duration_seconds",
			Help:    "Duration of lifecycle activate/swap operations.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"domain", "key", "op"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oneiric_counters_total",
			Help: "Named counters (resolution outcomes, digest/signature checks, pause/drain transitions).",
		}, []string{"name", "label"}),
	}
	registerer.MustRegister(s.events, s.swapLatency, s.counters)
	return s
}

func (s *PrometheusSink) Event(e Event) {
	s.events.WithLabelValues(e.Kind, e.Domain).Inc()
	if s.log != nil {
		fields := map[string]any{"kind": e.Kind, "domain": e.Domain, "key": e.Key}
		for k, v := range e.Fields {
			fields[k] = v
		}
		s.log.WithFields(fields).Debug("oneiric event")
	}
}

func (s *PrometheusSink) Count(name string, labels map[string]string, delta float64) {
	s.counters.WithLabelValues(name, firstLabel(labels)).Add(delta)
}

func (s *PrometheusSink) Observe(name string, labels map[string]string, value time.Duration) {
	s.swapLatency.WithLabelValues(firstLabel(labels), secondLabel(labels), name).Observe(value.Seconds())
}

func firstLabel(labels map[string]string) string {
	if v, ok := labels["domain"]; ok {
		return v
	}
	return ""
}

func secondLabel(labels map[string]string) string {
	if v, ok := labels["key"]; ok {
		return v
	}
	return ""
}

var _ Sink = (*PrometheusSink)(nil)
