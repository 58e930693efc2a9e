package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the ranked pipeline's Prometheus collectors.
type Metrics struct {
	Submissions     *prometheus.CounterVec
	Resolutions     *prometheus.CounterVec
	Cancellations   prometheus.Counter
	BanRolls        *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
}

// NewMetrics registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ranked",
			Name:      "submissions_total",
			Help:      "Score submissions by outcome.",
		}, []string{"outcome"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ranked",
			Name:      "tournaments_resolved_total",
			Help:      "Resolved tournaments by trigger.",
		}, []string{"reason"}),
		Cancellations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ranked",
			Name:      "queues_cancelled_total",
			Help:      "Queues cancelled after timing out below quorum.",
		}),
		BanRolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ranked",
			Name:      "ban_rolls_total",
			Help:      "Ban mitigation rolls by result.",
		}, []string{"result"}),
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ranked",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving one tournament.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
