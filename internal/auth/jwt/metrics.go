package jwt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Metrics contains JWT verification and key set metrics.
type Metrics struct {
	verificationsTotal *prometheus.CounterVec
	verificationTime   *prometheus.HistogramVec
	jwksRefreshTotal   *prometheus.CounterVec
	jwksKeys           prometheus.Gauge
}

// NewMetrics creates JWT metrics registered with registerer. A nil
// registerer gets a private registry.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "verifications_total",
				Help:      "Total number of bearer token verifications",
			},
			[]string{"status", "reason"},
		),
		verificationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "verification_duration_seconds",
				Help:      "Bearer token verification duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"status"},
		),
		jwksRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "jwks_refresh_total",
				Help:      "Total number of JWKS loads by source and result",
			},
			[]string{"source", "result"},
		),
		jwksKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "jwks_keys",
				Help:      "Number of keys in the active JWKS",
			},
		),
	}

	registerer.MustRegister(
		m.verificationsTotal,
		m.verificationTime,
		m.jwksRefreshTotal,
		m.jwksKeys,
	)
	return m
}

// RecordVerification records one verification outcome.
func (m *Metrics) RecordVerification(err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.verificationsTotal.WithLabelValues(status, Reason(err)).Inc()
	m.verificationTime.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRefresh records a JWKS load. source is "remote" or "shared_cache".
func (m *Metrics) RecordRefresh(source string, err error, keys int) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.jwksRefreshTotal.WithLabelValues(source, result).Inc()
	if err == nil {
		m.jwksKeys.Set(float64(keys))
	}
}
