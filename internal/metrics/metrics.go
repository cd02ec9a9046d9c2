// Package metrics exposes prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	RebalanceDuration   prometheus.Histogram
	RebalanceTargets    prometheus.Gauge
	ProtectionDecisions *prometheus.CounterVec
	ProtectionDenials   *prometheus.CounterVec
	EventsDropped       prometheus.Counter
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RebalanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "helmsman",
			Name:      "rebalance_duration_seconds",
			Help:      "Wall time of one full rebalance.",
			Buckets:   prometheus.DefBuckets,
		}),
		RebalanceTargets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "helmsman",
			Name:      "rebalance_targets",
			Help:      "Number of targets produced by the last rebalance.",
		}),
		ProtectionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helmsman",
			Name:      "protection_decisions_total",
			Help:      "Protection orchestrator decisions by action and outcome.",
		}, []string{"action", "approved"}),
		ProtectionDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helmsman",
			Name:      "protection_denials_total",
			Help:      "Protection denials by blocking system.",
		}, []string{"system"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "helmsman",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a sink buffer was full.",
		}),
	}
}
