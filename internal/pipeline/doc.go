// Package pipeline runs the per-request authentication state machine:
// certificate identity extraction, bearer token verification, the role
// gate, and finally dispatch or rejection.
//
// The machine is strictly linear:
//
//	START -> CERT_EXTRACTED -> TOKEN_VERIFIED -> AUTHORIZED -> DISPATCHED
//
// with the terminal failures REJECTED_NO_CERT, REJECTED_INVALID_TOKEN and
// REJECTED_FORBIDDEN. Public path prefixes go from CERT_EXTRACTED straight
// to DISPATCHED. Rejections are written with an empty body.
package pipeline
