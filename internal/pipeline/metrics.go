package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics contains pipeline metrics.
type Metrics struct {
	outcomesTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates pipeline metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "outcomes_total",
				Help:      "Total number of requests by terminal pipeline state",
			},
			[]string{"state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Time spent in the authentication pipeline in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"state"},
		),
	}
	registerer.MustRegister(m.outcomesTotal, m.duration)

	for _, s := range []State{StateDispatched, StateRejectedNoCert, StateRejectedInvalidToken, StateRejectedForbidden} {
		m.outcomesTotal.WithLabelValues(s.String())
	}
	return m
}

// RecordOutcome records a terminal state.
func (m *Metrics) RecordOutcome(state State, duration time.Duration) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(state.String()).Inc()
	m.duration.WithLabelValues(state.String()).Observe(duration.Seconds())
}
