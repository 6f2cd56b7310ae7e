package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/auth/mtls"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

func TestMiddleware_Dispatch(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeVerifier{valid: "good", token: adminToken()})

	var (
		gotToken    *jwt.VerifiedToken
		gotIdentity mtls.ClientIdentity
		gotOutcome  *Outcome
	)
	handler := p.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken, _ = jwt.TokenFromContext(r.Context())
		gotIdentity, _ = mtls.IdentityFromContext(r.Context())
		gotOutcome, _ = OutcomeFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(t, "/api/session", "good", clientCert(t, "linqra-gateway")))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.NotNil(t, gotToken)
	assert.Equal(t, "good", gotToken.Raw)
	assert.Equal(t, "linqra-gateway", gotIdentity.CommonName)
	require.NotNil(t, gotOutcome)
	assert.Equal(t, StateDispatched, gotOutcome.State)
}

func TestMiddleware_Reject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		path          string
		bearer        string
		withCert      bool
		status        int
		wwwAuthHeader string
	}{
		{name: "invalid token", path: "/api/session", bearer: "forged", withCert: true,
			status: http.StatusUnauthorized, wwwAuthHeader: `Bearer error="invalid_token"`},
		{name: "empty bearer", path: "/api/session", bearer: " ", withCert: true,
			status: http.StatusUnauthorized, wwwAuthHeader: `Bearer error="invalid_token"`},
		{name: "no credentials", path: "/api/gateway/x", withCert: true, status: http.StatusForbidden},
		{name: "public without certificate", path: "/r/quotes-service/info", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, logs := observability.NewObservedLogger(zapcore.InfoLevel)
			p := newTestPipeline(t, &fakeVerifier{valid: "good", token: adminToken()}, WithLogger(logger))

			called := false
			handler := p.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			var req *http.Request
			if tt.withCert {
				req = newRequest(t, tt.path, "", clientCert(t, "linqra-gateway"))
			} else {
				req = newRequest(t, tt.path, "", nil)
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, rec.Body.Bytes())
			assert.Equal(t, tt.wwwAuthHeader, rec.Header().Get("WWW-Authenticate"))

			entries := logs.FilterMessage("request rejected").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.path, entries[0].ContextMap()["path"])
			if tt.bearer != "" && tt.bearer != " " {
				for _, v := range entries[0].ContextMap() {
					if s, ok := v.(string); ok {
						assert.NotContains(t, s, tt.bearer)
					}
				}
			}
		})
	}
}
