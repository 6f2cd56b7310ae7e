// Package health provides liveness and readiness checks for the service.
//
// A Checker runs named checks against the service's dependencies. A failing
// critical check makes the service unready; a failing non-critical check
// only degrades it.
//
//	checker := health.NewChecker(health.WithMetrics(metrics))
//	checker.Register(health.JWKSCheck(keySet))
//	mux.Handle("/ready", checker.ReadinessHandler())
package health
