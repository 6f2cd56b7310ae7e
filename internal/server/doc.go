// Package server hosts the HTTPS listener of the quotes service.
//
// Requests pass the ambient middleware, the authentication pipeline and
// then the gin engine. The engine serves the public info endpoints, the
// caller's session view and a relay to the upstream gateway; business
// handlers are attached through WithRoutes.
package server
