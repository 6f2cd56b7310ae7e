package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key-id"

type testSigner struct {
	kid  string
	alg  jwa.SignatureAlgorithm
	priv any
	pub  jwk.Key
}

func newRSASigner(t *testing.T, kid string) *testSigner {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwkKey, err := jwk.FromRaw(privateKey.Public())
	require.NoError(t, err)
	require.NoError(t, jwkKey.Set(jwk.KeyIDKey, kid))
	require.NoError(t, jwkKey.Set(jwk.AlgorithmKey, jwa.RS256))

	return &testSigner{kid: kid, alg: jwa.RS256, priv: privateKey, pub: jwkKey}
}

func newECSigner(t *testing.T, kid string) *testSigner {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwkKey, err := jwk.FromRaw(privateKey.Public())
	require.NoError(t, err)
	require.NoError(t, jwkKey.Set(jwk.KeyIDKey, kid))

	return &testSigner{kid: kid, alg: jwa.ES256, priv: privateKey, pub: jwkKey}
}

// sign signs claims; an empty kid omits the header.
func (s *testSigner) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	return s.signWithKID(t, s.kid, claims)
}

func (s *testSigner) signWithKID(t *testing.T, kid string, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.TypeKey, "JWT"))
	if kid != "" {
		require.NoError(t, hdrs.Set(jws.KeyIDKey, kid))
	}

	signed, err := jws.Sign(payload, jws.WithKey(s.alg, s.priv, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

func newKeySetOf(t *testing.T, signers ...*testSigner) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, s := range signers {
		require.NoError(t, set.AddKey(s.pub))
	}
	return set
}

func validClaims(now time.Time) map[string]any {
	return map[string]any{
		"iss": "https://keycloak.example.com/realms/linqra",
		"sub": "service-account-linqra-gateway",
		"iat": now.Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"realm_access": map[string]any{
			"roles": []string{"gateway_admin_realm", "offline_access"},
		},
		"resource_access": map[string]any{
			"linqra-gateway-client": map[string]any{
				"roles": []string{"gateway_admin"},
			},
		},
	}
}

// jwksServer serves a mutable JWK set and counts requests.
type jwksServer struct {
	*httptest.Server
	mu     sync.Mutex
	set    jwk.Set
	status int
	hits   atomic.Int64
}

func newJWKSServer(t *testing.T, set jwk.Set) *jwksServer {
	t.Helper()
	js := &jwksServer{set: set, status: http.StatusOK}
	js.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		js.hits.Add(1)
		js.mu.Lock()
		defer js.mu.Unlock()
		if js.status != http.StatusOK {
			w.WriteHeader(js.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(js.set)
	}))
	t.Cleanup(js.Close)
	return js
}

func (js *jwksServer) setKeys(set jwk.Set) {
	js.mu.Lock()
	js.set = set
	js.mu.Unlock()
}

func (js *jwksServer) setStatus(status int) {
	js.mu.Lock()
	js.status = status
	js.mu.Unlock()
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
