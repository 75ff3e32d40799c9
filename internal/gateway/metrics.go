package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/porter/internal/model"
)

var (
	startsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_gateway_starts_total",
			Help: "Total gateway start attempt resolutions by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	startupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "porter_gateway_startup_seconds",
			Help:    "Duration from gateway spawn to reachable, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(startsTotal)
	prometheus.MustRegister(startupDuration)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, trigger := range []string{model.TriggerEnsure, model.TriggerRestart} {
		for _, outcome := range []string{model.OutcomeReady, model.OutcomeReused, model.OutcomeStarting, model.OutcomeFailed} {
			startsTotal.WithLabelValues(trigger, outcome)
		}
	}
}
