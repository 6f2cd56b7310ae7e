package authz

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics contains role gate metrics.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
}

// NewMetrics creates gate metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Total number of role gate decisions",
			},
			[]string{"allowed", "reason"},
		),
		decisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decision_duration_seconds",
				Help:      "Role gate evaluation duration in seconds",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
		),
	}
	registerer.MustRegister(m.decisionsTotal, m.decisionDuration)
	return m
}

// RecordDecision records one gate decision.
func (m *Metrics) RecordDecision(d Decision, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(strconv.FormatBool(d.Allowed), d.Reason).Inc()
	m.decisionDuration.Observe(duration.Seconds())
}
