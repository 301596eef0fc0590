package solver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service's operational counters.
type Metrics struct {
	Submitted prometheus.Counter
	Solved    prometheus.Counter
	Failed    *prometheus.CounterVec
	Rejected  prometheus.Counter
	InFlight  prometheus.Gauge
	Duration  prometheus.Histogram
}

// NewMetrics registers the solver metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "solver",
			Name:      "tasks_submitted_total",
			Help:      "Challenge tasks accepted for solving.",
		}),
		Solved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "solver",
			Name:      "tasks_solved_total",
			Help:      "Challenge tasks that produced a token.",
		}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solver",
			Name:      "tasks_failed_total",
			Help:      "Challenge tasks that ended without a token.",
		}, []string{"reason"}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "solver",
			Name:      "tasks_rejected_total",
			Help:      "Submissions rejected at capacity.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "solver",
			Name:      "tasks_in_flight",
			Help:      "Tasks currently occupying a worker slot.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "solver",
			Name:      "solve_duration_seconds",
			Help:      "Wall time of successful solves.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}
