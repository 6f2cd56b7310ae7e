package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/health"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
	"github.com/vyrodovalexey/quotes-service/internal/server"
)

func jwksServer(t *testing.T) *httptest.Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := jwk.FromRaw(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "kid-1"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, "RS256"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	doc, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testServiceConfig(jwksURL string) *config.ServiceConfig {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.TLS.Enabled = false
	cfg.Security.PublicPaths.RequireClientCertificate = false
	cfg.Security.JWT.JWKSURL = jwksURL
	cfg.Observability.Metrics.Address = "127.0.0.1:0"
	return cfg
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f, err := parseFlags(fs, []string{"-config", "/etc/quotes.yaml", "-log-level", "debug", "-version"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/quotes.yaml", f.configPath)
	assert.Equal(t, "debug", f.logLevel)
	assert.True(t, f.showVersion)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = parseFlags(fs, []string{"-unknown"})
	assert.Error(t, err)
}

func TestParseFlags_EnvDefaults(t *testing.T) {
	t.Setenv("QUOTES_CONFIG_PATH", "/from/env.yaml")
	t.Setenv("QUOTES_LOG_FORMAT", "console")

	f, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.yaml", f.configPath)
	assert.Equal(t, "console", f.logFormat)
	assert.Empty(t, f.logLevel)
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{value: "", def: true, want: true},
		{value: "YES", want: true},
		{value: "on", want: true},
		{value: "0", def: true, want: false},
		{value: "maybe", def: true, want: true},
	}
	for _, tt := range tests {
		t.Setenv("QUOTES_TEST_BOOL", tt.value)
		assert.Equal(t, tt.want, getEnvBool("QUOTES_TEST_BOOL", tt.def), tt.value)
	}
}

func TestEffectiveLogConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Observability.Logging.Level = "warn"

	got := effectiveLogConfig(cliFlags{}, cfg)
	assert.Equal(t, "warn", got.Level)
	assert.Equal(t, "json", got.Format)

	got = effectiveLogConfig(cliFlags{logLevel: "debug", logFormat: "console"}, cfg)
	assert.Equal(t, "debug", got.Level)
	assert.Equal(t, "console", got.Format)
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "quotes-service version dev")
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
server:
  tls:
    enabled: false
security:
  jwt:
    jwksUrl: https://idp.example/realms/linqra/protocol/openid-connect/certs
`), 0o600))

	cfg, err := loadConfig(valid)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRealmRole, cfg.Security.Roles.RealmRole)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("server:\n  tls:\n    enabled: false\n"), 0o600))
	_, err = loadConfig(invalid)
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestNewApplication_Errors(t *testing.T) {
	t.Parallel()

	cfg := testServiceConfig("https://idp.example/certs")
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	cfg.Server.TLS.KeyFile = filepath.Join(t.TempDir(), "missing.key")
	_, err := newApplication(cfg, observability.NopLogger())
	assert.Error(t, err)

	cfg = testServiceConfig("https://idp.example/certs")
	cfg.Security.JWT.CAFile = filepath.Join(t.TempDir(), "missing-ca.pem")
	_, err = newApplication(cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestMetricsServer_HealthEndpoints(t *testing.T) {
	t.Parallel()

	jwks := jwksServer(t)
	app, err := newApplication(testServiceConfig(jwks.URL), observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })

	assert.Equal(t, []string{health.CheckJWKS}, app.health.Names())

	srv := createMetricsServer("127.0.0.1:0", "/metrics", app.metrics, app.health, observability.NopLogger())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, app.keySet.Start(context.Background()))
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "health_checks_total")
}

func TestRun_StartsAndShutsDown(t *testing.T) {
	t.Parallel()

	jwks := jwksServer(t)
	cfg := testServiceConfig(jwks.URL)
	cfg.Upstream.BaseURL = "http://127.0.0.1:1/gw"
	app, err := newApplication(cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, app.upstream)
	assert.Equal(t, []string{health.CheckJWKS, health.CheckUpstream}, app.health.Names())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx, app, observability.NopLogger())
	}()

	require.Eventually(t, func() bool {
		return app.server.State() == server.StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + app.server.Addr().String() + server.InfoPath)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + app.server.Addr().String() + server.SessionPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, 1, app.keySet.Stats().Keys)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Equal(t, server.StateStopped, app.server.State())
}
