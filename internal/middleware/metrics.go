package middleware

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics holds Prometheus metrics for middleware operations.
type Metrics struct {
	panicsRecovered   prometheus.Counter
	bodyLimitRejected prometheus.Counter
}

// NewMetrics creates middleware metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		panicsRecovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered",
			},
		),
		bodyLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "body_limit_rejected_total",
				Help:      "Total number of requests rejected due to body size limit",
			},
		),
	}
	registerer.MustRegister(m.panicsRecovered, m.bodyLimitRejected)
	return m
}

func (m *Metrics) recordPanic() {
	if m != nil {
		m.panicsRecovered.Inc()
	}
}

func (m *Metrics) recordBodyLimit() {
	if m != nil {
		m.bodyLimitRejected.Inc()
	}
}
