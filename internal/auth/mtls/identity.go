package mtls

import (
	"context"
	"errors"
	"time"
)

// Extraction outcomes recorded on a ClientIdentity.
var (
	// ErrNoCertificate indicates that no client certificate was presented.
	ErrNoCertificate = errors.New("no client certificate provided")

	// ErrCertificateMalformed indicates that the subject could not be parsed.
	ErrCertificateMalformed = errors.New("client certificate subject is malformed")

	// ErrCommonNameMissing indicates a well-formed subject without a CN.
	ErrCommonNameMissing = errors.New("client certificate subject has no common name")
)

// ClientIdentity is the identity derived from a client certificate subject.
// It is built once per request and never modified.
type ClientIdentity struct {
	// SubjectDN is the raw subject distinguished name.
	SubjectDN string `json:"subject_dn,omitempty"`

	// CommonName is the extracted CN; empty when absent or malformed.
	CommonName string `json:"common_name,omitempty"`

	// Present is true when the peer presented a certificate.
	Present bool `json:"present"`

	IssuerDN     string    `json:"issuer_dn,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	NotAfter     time.Time `json:"not_after,omitempty"`

	// Err explains an empty CommonName. It is never fatal.
	Err error `json:"-"`
}

// HasIdentity reports whether a usable common name was extracted.
func (c ClientIdentity) HasIdentity() bool {
	return c.CommonName != ""
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity on ctx.
func ContextWithIdentity(ctx context.Context, identity ClientIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity stored by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (ClientIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(ClientIdentity)
	return identity, ok
}
