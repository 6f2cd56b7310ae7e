package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for health checks.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	checkStatus   *prometheus.GaugeVec
	ready         prometheus.Gauge
}

// NewMetrics creates health metrics and registers them with registerer.
// A nil registerer keeps the metrics in a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of health checks performed",
			},
			[]string{"check", "result"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Duration of individual health checks",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"check"},
		),
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Last health check status (1=healthy, 0=failing)",
			},
			[]string{"check"},
		),
		ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "ready",
				Help:      "Whether the last readiness run passed (1=ready, 0=not ready)",
			},
		),
	}

	registerer.MustRegister(m.checksTotal, m.checkDuration, m.checkStatus, m.ready)
	return m
}

func (m *Metrics) recordCheck(name string, healthy bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result, status := "success", 1.0
	if !healthy {
		result, status = "failure", 0
	}
	m.checksTotal.WithLabelValues(name, result).Inc()
	m.checkDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	m.checkStatus.WithLabelValues(name).Set(status)
}

func (m *Metrics) recordReadiness(status Status) {
	if m == nil {
		return
	}
	if status == StatusUnhealthy {
		m.ready.Set(0)
		return
	}
	m.ready.Set(1)
}
