// Package mtls derives the caller identity from the client certificate
// presented during the TLS handshake.
//
// The identity is the subject Common Name. It is used for audit logging
// and as the only credential on certificate-only routes; it never grants
// access to protected routes on its own.
package mtls
