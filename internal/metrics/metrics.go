// Package metrics exposes Prometheus counters for fetch outcomes and bucket
// lifecycle events. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors registered for one gateway instance.
type Metrics struct {
	fetchEvents      *prometheus.CounterVec
	assetPopulation  *prometheus.CounterVec
	bucketsReclaimed prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegate_fetch_events_total",
				Help: "Intercepted fetch events by strategy, response source and outcome",
			},
			[]string{"strategy", "source", "outcome"},
		),
		assetPopulation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegate_asset_population_total",
				Help: "Manifest entries fetched during install, by result",
			},
			[]string{"result"},
		),
		bucketsReclaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cachegate_buckets_reclaimed_total",
				Help: "Stale-generation buckets deleted during activation",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.fetchEvents, m.assetPopulation, m.bucketsReclaimed)
	}
	return m
}

// ObserveFetch counts one intercepted request.
func (m *Metrics) ObserveFetch(strategy, source, outcome string) {
	if m == nil {
		return
	}
	m.fetchEvents.WithLabelValues(strategy, source, outcome).Inc()
}

// ObserveAsset counts one manifest entry; stored=false means the fetch or write failed.
func (m *Metrics) ObserveAsset(stored bool) {
	if m == nil {
		return
	}
	result := "stored"
	if !stored {
		result = "failed"
	}
	m.assetPopulation.WithLabelValues(result).Inc()
}

// ObserveReclaim adds n deleted buckets.
func (m *Metrics) ObserveReclaim(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bucketsReclaimed.Add(float64(n))
}
