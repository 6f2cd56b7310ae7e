package pipeline

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/auth/mtls"
	"github.com/vyrodovalexey/quotes-service/internal/authz"
)

// fakeVerifier accepts exactly one raw token.
type fakeVerifier struct {
	valid string
	token *jwt.VerifiedToken
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*jwt.VerifiedToken, error) {
	f.calls++
	if raw != f.valid {
		return nil, jwt.NewValidationError("bad token", jwt.ErrTokenInvalidSignature)
	}
	return f.token, nil
}

func adminToken() *jwt.VerifiedToken {
	return &jwt.VerifiedToken{
		Raw:            "good",
		SignatureValid: true,
		Claims: jwt.Claims{
			Subject:     "svc",
			RealmAccess: &jwt.RoleSet{Roles: []string{"gateway_admin_realm"}},
			ResourceAccess: map[string]jwt.RoleSet{
				"linqra-gateway-client": {Roles: []string{"gateway_admin"}},
			},
		},
	}
}

func clientCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Linqra"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func newRequest(t *testing.T, path, bearer string, cert *x509.Certificate) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	if cert != nil {
		r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	} else {
		r.TLS = &tls.ConnectionState{}
	}
	return r
}

func newTestPipeline(t *testing.T, verifier jwt.Verifier, opts ...Option) *Pipeline {
	t.Helper()
	gate, err := authz.NewGate(authz.DefaultPolicy())
	require.NoError(t, err)

	p, err := New(mtls.NewExtractor(), verifier, gate, Config{
		PublicPrefixes:           []string{"/r/quotes-service/"},
		RequireClientCertificate: true,
	}, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	gate, err := authz.NewGate(authz.DefaultPolicy())
	require.NoError(t, err)
	v := &fakeVerifier{}

	_, err = New(nil, v, gate, Config{})
	assert.Error(t, err)
	_, err = New(mtls.NewExtractor(), nil, gate, Config{})
	assert.Error(t, err)
	_, err = New(mtls.NewExtractor(), v, nil, Config{})
	assert.Error(t, err)
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	cert := clientCert(t, "linqra-gateway")

	denied := adminToken()
	denied.Raw = "denied"
	denied.Claims.ResourceAccess = nil

	tests := []struct {
		name   string
		path   string
		bearer string
		cert   *x509.Certificate
		token  *jwt.VerifiedToken
		state  State
		trail  []State
		status int
		public bool
	}{
		{
			name:   "authorized",
			path:   "/api/session",
			bearer: "good",
			cert:   cert,
			token:  adminToken(),
			state:  StateDispatched,
			trail:  []State{StateStart, StateCertExtracted, StateTokenVerified, StateAuthorized, StateDispatched},
		},
		{
			name:   "authorized without client certificate",
			path:   "/api/session",
			bearer: "good",
			token:  adminToken(),
			state:  StateDispatched,
			trail:  []State{StateStart, StateCertExtracted, StateTokenVerified, StateAuthorized, StateDispatched},
		},
		{
			name:   "invalid token",
			path:   "/api/session",
			bearer: "forged",
			cert:   cert,
			token:  adminToken(),
			state:  StateRejectedInvalidToken,
			trail:  []State{StateStart, StateCertExtracted, StateRejectedInvalidToken},
			status: http.StatusUnauthorized,
		},
		{
			name:   "no credentials is forbidden",
			path:   "/api/session",
			cert:   cert,
			token:  adminToken(),
			state:  StateRejectedForbidden,
			trail:  []State{StateStart, StateCertExtracted, StateRejectedForbidden},
			status: http.StatusForbidden,
		},
		{
			name:   "missing role",
			path:   "/api/session",
			bearer: "denied",
			cert:   cert,
			token:  denied,
			state:  StateRejectedForbidden,
			trail:  []State{StateStart, StateCertExtracted, StateTokenVerified, StateRejectedForbidden},
			status: http.StatusForbidden,
		},
		{
			name:   "public path with certificate",
			path:   "/r/quotes-service/info",
			cert:   cert,
			state:  StateDispatched,
			trail:  []State{StateStart, StateCertExtracted, StateDispatched},
			public: true,
		},
		{
			name:   "public path ignores invalid bearer",
			path:   "/r/quotes-service/info",
			bearer: "forged",
			cert:   cert,
			state:  StateDispatched,
			trail:  []State{StateStart, StateCertExtracted, StateDispatched},
			public: true,
		},
		{
			name:   "public path without certificate",
			path:   "/r/quotes-service/info",
			state:  StateRejectedNoCert,
			trail:  []State{StateStart, StateCertExtracted, StateRejectedNoCert},
			status: http.StatusUnauthorized,
			public: true,
		},
		{
			name:   "traversal out of public prefix",
			path:   "/r/quotes-service/../../api/session",
			cert:   cert,
			state:  StateRejectedForbidden,
			trail:  []State{StateStart, StateCertExtracted, StateRejectedForbidden},
			status: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := &fakeVerifier{}
			if tt.token != nil {
				v.valid = tt.token.Raw
				v.token = tt.token
			}
			p := newTestPipeline(t, v)

			out := p.Run(newRequest(t, tt.path, tt.bearer, tt.cert))
			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.trail, out.Trail)
			assert.Equal(t, tt.status, out.StatusCode())
			assert.Equal(t, tt.public, out.Public)
			if tt.public {
				assert.Zero(t, v.calls)
			}
		})
	}
}

func TestPipeline_IdentityIsInformational(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeVerifier{valid: "good", token: adminToken()})
	out := p.Run(newRequest(t, "/api/session", "good", clientCert(t, "linqra-gateway")))

	require.True(t, out.Dispatched())
	assert.Equal(t, "linqra-gateway", out.Identity.CommonName)
	assert.Equal(t, authz.ReasonAllowed, out.Decision.Reason)
	assert.NoError(t, out.Err)
}

// signedTokenVerifier signs claims with an ES256 key and returns the compact token
// together with a verifier that trusts only that key.
func signedTokenVerifier(t *testing.T, claims map[string]any) (string, jwt.Verifier) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub, err := jwk.FromRaw(key.Public())
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "pipeline-key"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.KeyIDKey, "pipeline-key"))
	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256, key, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)

	v, err := jwt.NewVerifier(jwt.NewStaticKeySet(set), jwt.Config{ClockSkew: jwt.DefaultClockSkew})
	require.NoError(t, err)
	return string(signed), v
}

func adminClaims(issuer string, expires time.Time) map[string]any {
	return map[string]any{
		"iss": issuer,
		"sub": "service-account-linqra-gateway",
		"iat": expires.Add(-time.Hour).Unix(),
		"exp": expires.Unix(),
		"realm_access": map[string]any{
			"roles": []string{"gateway_admin_realm"},
		},
		"resource_access": map[string]any{
			"linqra-gateway-client": map[string]any{
				"roles": []string{"gateway_admin"},
			},
		},
	}
}

func TestPipeline_SignedTokens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name   string
		claims map[string]any
		state  State
		status int
	}{
		{
			name:   "valid token",
			claims: adminClaims("https://keycloak.example.com/realms/linqra", now.Add(time.Hour)),
			state:  StateDispatched,
		},
		{
			name:   "expired token with both roles",
			claims: adminClaims("https://keycloak.example.com/realms/linqra", now.Add(-time.Hour)),
			state:  StateRejectedInvalidToken,
			status: http.StatusUnauthorized,
		},
		{
			name:   "foreign issuer is accepted",
			claims: adminClaims("https://other-idp.example.org/realms/elsewhere", now.Add(time.Hour)),
			state:  StateDispatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, v := signedTokenVerifier(t, tt.claims)
			p := newTestPipeline(t, v)

			out := p.Run(newRequest(t, "/api/session", raw, clientCert(t, "linqra-gateway")))
			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.status, out.StatusCode())
			if tt.state == StateRejectedInvalidToken {
				assert.ErrorIs(t, out.Err, jwt.ErrTokenExpired)
				assert.Nil(t, out.Token)
				return
			}
			require.NotNil(t, out.Token)
			assert.Equal(t, tt.claims["iss"], out.Token.Issuer())
		})
	}
}

func TestPipeline_PublicPathWithoutCertificateRequirement(t *testing.T) {
	t.Parallel()

	gate, err := authz.NewGate(authz.DefaultPolicy())
	require.NoError(t, err)
	p, err := New(mtls.NewExtractor(), &fakeVerifier{}, gate, Config{
		PublicPrefixes: []string{"/r/quotes-service/"},
	})
	require.NoError(t, err)

	out := p.Run(newRequest(t, "/r/quotes-service", "", nil))
	assert.Equal(t, StateDispatched, out.State)
}

func TestPipeline_Metrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test", nil)
	p := newTestPipeline(t, &fakeVerifier{valid: "good", token: adminToken()}, WithMetrics(metrics))

	p.Run(newRequest(t, "/api/session", "good", nil))
	p.Run(newRequest(t, "/api/session", "", nil))
	p.Run(newRequest(t, "/api/session", "bad", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("DISPATCHED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("REJECTED_FORBIDDEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("REJECTED_INVALID_TOKEN")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("REJECTED_NO_CERT")))
}

func TestPipeline_IllegalTransitionRejects(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeVerifier{valid: "good", token: adminToken()})
	p.steps[StateTokenVerified] = func(context.Context, *http.Request, *Outcome) State {
		return StateDispatched
	}

	out := p.Run(newRequest(t, "/api/session", "good", nil))
	assert.Equal(t, StateRejectedForbidden, out.State)
	assert.ErrorIs(t, out.Err, ErrIllegalTransition)
}
