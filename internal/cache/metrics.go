package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics holds Prometheus metrics for cache operations. A nil *Metrics
// records nothing.
type Metrics struct {
	hitsTotal   *prometheus.CounterVec
	missesTotal *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

// NewMetrics creates cache metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		hitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}, []string{"backend"}),
		missesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}, []string{"backend"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of cache backend errors",
		}, []string{"backend", "operation"}),
	}

	registerer.MustRegister(m.hitsTotal, m.missesTotal, m.errorsTotal)
	return m
}

func (m *Metrics) recordHit(backend string) {
	if m != nil {
		m.hitsTotal.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) recordMiss(backend string) {
	if m != nil {
		m.missesTotal.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) recordError(backend, op string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(backend, op).Inc()
	}
}
