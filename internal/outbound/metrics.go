package outbound

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics contains outbound client metrics.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
}

// NewMetrics creates outbound metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbound",
				Name:      "requests_total",
				Help:      "Total number of outbound requests by result",
			},
			[]string{"result", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "outbound",
				Name:      "request_duration_seconds",
				Help:      "Outbound request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbound",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of upstream circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
	}
	registerer.MustRegister(m.requestsTotal, m.requestDuration, m.breakerTransitions)
	return m
}

// RecordRequest records one outbound round trip.
func (m *Metrics) RecordRequest(resp *http.Response, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result, status := "success", "none"
	if err != nil {
		result = "error"
	} else {
		status = strconv.Itoa(resp.StatusCode)
	}
	m.requestsTotal.WithLabelValues(result, status).Inc()
	m.requestDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordBreakerState records a breaker transition.
func (m *Metrics) RecordBreakerState(name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
}
