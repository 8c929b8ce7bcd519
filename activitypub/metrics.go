package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts ingestion outcomes and actor resolutions.
type Metrics struct {
	IngestOutcomes *prometheus.CounterVec
	ActorResolves  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedimerge_ingest_total",
				Help: "Ingested activities by verb and outcome",
			},
			[]string{"verb", "outcome"},
		),
		ActorResolves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedimerge_actor_resolves_total",
				Help: "Actor resolutions by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.IngestOutcomes, m.ActorResolves)
	}
	return m
}

func (m *Metrics) ingested(verb string, outcome Outcome) {
	if m == nil {
		return
	}
	m.IngestOutcomes.WithLabelValues(verb, outcome.String()).Inc()
}

func (m *Metrics) resolved(result string) {
	if m == nil {
		return
	}
	m.ActorResolves.WithLabelValues(result).Inc()
}
