package storage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/porter/internal/model"
)

var (
	syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_sync_runs_total",
			Help: "Total backup sync runs by outcome.",
		},
		[]string{"outcome"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "porter_sync_duration_seconds",
			Help:    "Duration of completed backup sync runs, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(syncRunsTotal)
	prometheus.MustRegister(syncDuration)

	for _, outcome := range []string{model.OutcomeCompleted, model.OutcomeFailed, model.OutcomeSkipped, model.OutcomeTimeout} {
		syncRunsTotal.WithLabelValues(outcome)
	}
}
