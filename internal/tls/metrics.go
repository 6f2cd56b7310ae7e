package tls

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics contains certificate reload metrics.
type Metrics struct {
	reloadsTotal *prometheus.CounterVec
	certExpiry   prometheus.Gauge
}

// NewMetrics creates TLS metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "certificate_reloads_total",
				Help:      "Total number of server certificate reloads by result",
			},
			[]string{"result"},
		),
		certExpiry: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tls",
				Name:      "certificate_expiry_timestamp_seconds",
				Help:      "Expiry of the server certificate in unix seconds",
			},
		),
	}
	registerer.MustRegister(m.reloadsTotal, m.certExpiry)
	return m
}

func (m *Metrics) recordReload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) setExpiry(notAfter time.Time) {
	if m == nil {
		return
	}
	m.certExpiry.Set(float64(notAfter.Unix()))
}
