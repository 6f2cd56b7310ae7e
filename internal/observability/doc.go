// Package observability provides logging, metrics, and tracing
// functionality for the quotes service.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request processed",
//	    observability.String("method", "GET"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Metrics owns the Prometheus registry. Component packages register their
// own collectors into Registry() so a single /metrics endpoint exposes all
// of them.
//
// # Tracing
//
// Tracer exports spans over OTLP/gRPC and installs the W3C trace context
// propagator used on inbound and outbound requests.
package observability
