package main

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/quotes-service/internal/health"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// createMetricsServer creates the metrics HTTP server. Besides metrics it
// serves the liveness and readiness endpoints.
func createMetricsServer(
	addr string,
	path string,
	metrics *observability.Metrics,
	checker *health.Checker,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.Handle("/live", checker.LivenessHandler())
	mux.Handle("/ready", checker.ReadinessHandler())

	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", path),
		observability.Strings("readiness_checks", checker.Names()),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application) {
	metricsCfg := app.config.Observability.Metrics
	if !metricsCfg.Enabled {
		return
	}
	app.metricsServer = createMetricsServer(metricsCfg.Address, metricsCfg.Path, app.metrics, app.health, app.logger)
	go runMetricsServer(app.metricsServer, app.logger)
}
