package mtls

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

const (
	resultExtracted     = "extracted"
	resultNoCertificate = "no_certificate"
	resultMalformed     = "malformed"
	resultNoCommonName  = "no_common_name"
)

// Metrics holds Prometheus metrics for certificate identity extraction.
type Metrics struct {
	extractionsTotal *prometheus.CounterVec
}

// NewMetrics creates extraction metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		extractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mtls",
				Name:      "extractions_total",
				Help:      "Total number of client certificate identity extractions",
			},
			[]string{"result"},
		),
	}
	registerer.MustRegister(m.extractionsTotal)

	for _, r := range []string{resultExtracted, resultNoCertificate, resultMalformed, resultNoCommonName} {
		m.extractionsTotal.WithLabelValues(r)
	}
	return m
}

func (m *Metrics) recordExtraction(result string) {
	if m != nil {
		m.extractionsTotal.WithLabelValues(result).Inc()
	}
}
