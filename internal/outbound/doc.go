// Package outbound is the service's HTTP client to the upstream gateway.
//
// Every request passes through the Forwarder, which stamps the service
// name and, when the calling context carries a bearer token, forwards it
// together with JSON content negotiation headers. Below the forwarder sit
// an optional circuit breaker and a pooled transport with per-route and
// total connection limits.
//
//	client, err := outbound.New(&cfg.Upstream, outbound.WithLogger(logger))
//	var quote Quote
//	err = client.GetJSON(ctx, "/api/quotes/latest", &quote)
package outbound
