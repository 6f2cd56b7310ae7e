package mtls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// generateTestCert generates a self-signed client certificate with the given subject.
func generateTestCert(t *testing.T, subject pkix.Name) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      subject,
		Issuer:       pkix.Name{CommonName: "Test CA"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestExtractor_Extract(t *testing.T) {
	t.Parallel()

	logger, logs := observability.NewObservedLogger(zapcore.DebugLevel)
	metrics := NewMetrics("test", nil)
	e := NewExtractor(WithExtractorLogger(logger), WithExtractorMetrics(metrics))

	cert := generateTestCert(t, pkix.Name{
		CommonName:         "linqra-gateway",
		Organization:       []string{"Linqra"},
		OrganizationalUnit: []string{"Gateway"},
		Country:            []string{"US"},
	})

	identity := e.Extract(&tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}})

	assert.True(t, identity.Present)
	assert.True(t, identity.HasIdentity())
	assert.Equal(t, "linqra-gateway", identity.CommonName)
	assert.Equal(t, "CN=linqra-gateway,OU=Gateway,O=Linqra,C=US", identity.SubjectDN)
	assert.Equal(t, "4242", identity.SerialNumber)
	assert.Len(t, identity.Fingerprint, 64)
	assert.NoError(t, identity.Err)

	entries := logs.FilterMessage("client certificate identity extracted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, identity.SubjectDN, entries[0].ContextMap()["subject_dn"])
	assert.Equal(t, "linqra-gateway", entries[0].ContextMap()["common_name"])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.extractionsTotal.WithLabelValues(resultExtracted)))
}

func TestExtractor_NoCertificate(t *testing.T) {
	t.Parallel()

	e := NewExtractor()

	for _, state := range []*tls.ConnectionState{nil, {}} {
		identity := e.Extract(state)
		assert.False(t, identity.Present)
		assert.False(t, identity.HasIdentity())
		assert.ErrorIs(t, identity.Err, ErrNoCertificate)
	}

	identity := e.ExtractFromDN("   ")
	assert.False(t, identity.Present)
	assert.ErrorIs(t, identity.Err, ErrNoCertificate)
}

func TestExtractor_ExtractFromDN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dn      string
		wantCN  string
		wantErr error
		warnMsg string
	}{
		{name: "common name", dn: "CN=X,O=Y", wantCN: "X"},
		{name: "plus in common name", dn: "CN=a+b,O=Org", wantCN: "a+b"},
		{name: "semicolon in common name", dn: "CN=a;b,O=Org", wantCN: "a;b"},
		{name: "backslash in common name", dn: `CN=dom\user,O=Org`, wantCN: `dom\user`},
		{name: "missing common name", dn: "O=Y,C=US", wantErr: ErrCommonNameMissing,
			warnMsg: "client certificate subject has no common name"},
		{name: "malformed", dn: "not a dn", wantErr: ErrCertificateMalformed,
			warnMsg: "malformed client certificate subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, logs := observability.NewObservedLogger(zapcore.InfoLevel)
			e := NewExtractor(WithExtractorLogger(logger))

			var identity ClientIdentity
			assert.NotPanics(t, func() { identity = e.ExtractFromDN(tt.dn) })

			assert.True(t, identity.Present)
			assert.Equal(t, tt.dn, identity.SubjectDN)
			assert.Equal(t, tt.wantCN, identity.CommonName)
			if tt.wantErr == nil {
				assert.NoError(t, identity.Err)
				return
			}
			assert.ErrorIs(t, identity.Err, tt.wantErr)

			warns := logs.FilterMessage(tt.warnMsg).All()
			require.Len(t, warns, 1)
			assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
		})
	}
}

func TestExtractor_FromRequest(t *testing.T) {
	t.Parallel()

	logger, logs := observability.NewObservedLogger(zapcore.InfoLevel)
	e := NewExtractor(WithExtractorLogger(logger))

	cert := generateTestCert(t, pkix.Name{CommonName: "caller"})
	req := httptest.NewRequest("GET", "/api/session", nil)
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	req = req.WithContext(observability.ContextWithRequestID(req.Context(), "req-7"))

	identity := e.FromRequest(req)
	assert.Equal(t, "caller", identity.CommonName)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-7", logs.All()[0].ContextMap()["request_id"])

	plain := httptest.NewRequest("GET", "/", nil)
	plain.TLS = nil
	assert.False(t, e.FromRequest(plain).Present)
	assert.False(t, e.FromRequest(nil).Present)
}

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithIdentity(context.Background(), ClientIdentity{CommonName: "x", Present: true})
	identity, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", identity.CommonName)
}
