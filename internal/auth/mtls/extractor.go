package mtls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// Extractor derives a ClientIdentity from the peer certificate. It never
// fails: problems are logged and recorded on the returned identity.
type Extractor struct {
	logger  observability.Logger
	metrics *Metrics
}

// ExtractorOption is a functional option for the extractor.
type ExtractorOption func(*Extractor)

// WithExtractorLogger sets the logger for the extractor.
func WithExtractorLogger(logger observability.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithExtractorMetrics sets the metrics for the extractor.
func WithExtractorMetrics(metrics *Metrics) ExtractorOption {
	return func(e *Extractor) {
		e.metrics = metrics
	}
}

// NewExtractor creates a new certificate identity extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromRequest extracts the identity from the request's TLS state.
func (e *Extractor) FromRequest(r *http.Request) ClientIdentity {
	if r == nil {
		return e.Extract(nil)
	}
	return e.extract(r.TLS, e.logger.WithContext(r.Context()))
}

// Extract extracts the identity from a TLS connection state. A nil state
// or one without peer certificates yields an identity with Present false.
func (e *Extractor) Extract(state *tls.ConnectionState) ClientIdentity {
	return e.extract(state, e.logger)
}

func (e *Extractor) extract(state *tls.ConnectionState, logger observability.Logger) ClientIdentity {
	if state == nil || len(state.PeerCertificates) == 0 {
		e.metrics.recordExtraction(resultNoCertificate)
		logger.Debug("no client certificate presented")
		return ClientIdentity{Err: ErrNoCertificate}
	}

	cert := state.PeerCertificates[0]
	identity := e.fromDN(cert.Subject.String(), logger)
	identity.IssuerDN = cert.Issuer.String()
	identity.SerialNumber = cert.SerialNumber.String()
	identity.Fingerprint = fingerprint(cert)
	identity.NotAfter = cert.NotAfter.UTC().Truncate(time.Second)
	return identity
}

// ExtractFromDN extracts the identity from a subject DN string.
func (e *Extractor) ExtractFromDN(dn string) ClientIdentity {
	return e.fromDN(dn, e.logger)
}

func (e *Extractor) fromDN(dn string, logger observability.Logger) ClientIdentity {
	if strings.TrimSpace(dn) == "" {
		e.metrics.recordExtraction(resultNoCertificate)
		logger.Debug("no client certificate subject")
		return ClientIdentity{Err: ErrNoCertificate}
	}

	identity := ClientIdentity{SubjectDN: dn, Present: true}

	parsed, err := ParseDN(dn)
	if err != nil {
		identity.Err = errors.Join(ErrCertificateMalformed, err)
		e.metrics.recordExtraction(resultMalformed)
		logger.Warn("malformed client certificate subject",
			observability.String("subject_dn", dn),
			observability.Error(err))
		return identity
	}

	cn, found := parsed.CommonName()
	if !found {
		identity.Err = ErrCommonNameMissing
		e.metrics.recordExtraction(resultNoCommonName)
		logger.Warn("client certificate subject has no common name",
			observability.String("subject_dn", dn))
		return identity
	}

	identity.CommonName = cn
	e.metrics.recordExtraction(resultExtracted)
	logger.Info("client certificate identity extracted",
		observability.String("subject_dn", dn),
		observability.String("common_name", cn))
	return identity
}

func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
