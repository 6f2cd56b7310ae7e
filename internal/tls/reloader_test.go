package tls

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCertReloader_Errors(t *testing.T) {
	t.Parallel()

	ca := newTestCA(t)
	files := writeTLSFiles(t, ca, "localhost")

	_, err := NewCertReloader("", files.key, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCertReloader(filepath.Join(files.dir, "missing.crt"), files.key, "")
	var certErr *CertificateError
	assert.ErrorAs(t, err, &certErr)

	bogusCA := filepath.Join(files.dir, "bogus.pem")
	require.NoError(t, os.WriteFile(bogusCA, []byte("not pem"), 0o600))
	_, err = NewCertReloader(files.cert, files.key, bogusCA)
	assert.Error(t, err)
}

func TestCertReloader_Load(t *testing.T) {
	t.Parallel()

	ca := newTestCA(t)
	files := writeTLSFiles(t, ca, "localhost")
	metrics := NewMetrics("test", nil)

	r, err := NewCertReloader(files.cert, files.key, files.ca, WithReloaderMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	cert, err := r.GetCertificate(nil)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "localhost", cert.Leaf.Subject.CommonName)
	assert.NotNil(t, r.ClientCAs())
	assert.Equal(t, float64(cert.Leaf.NotAfter.Unix()), testutil.ToFloat64(metrics.certExpiry))
}

func TestCertReloader_ReloadKeepsPreviousOnFailure(t *testing.T) {
	t.Parallel()

	ca := newTestCA(t)
	files := writeTLSFiles(t, ca, "localhost")
	metrics := NewMetrics("test", nil)

	r, err := NewCertReloader(files.cert, files.key, files.ca, WithReloaderMetrics(metrics))
	require.NoError(t, err)
	before := r.Certificate()

	require.NoError(t, os.WriteFile(files.cert, []byte("garbage"), 0o600))
	assert.Error(t, r.Reload())
	assert.Same(t, before, r.Certificate())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reloadsTotal.WithLabelValues("error")))

	rewriteServerCert(t, ca, files, "renewed", 3)
	require.NoError(t, r.Reload())
	assert.Equal(t, "renewed", r.Certificate().Leaf.Subject.CommonName)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reloadsTotal.WithLabelValues("success")))
}

func TestCertReloader_WatchesFiles(t *testing.T) {
	t.Parallel()

	ca := newTestCA(t)
	files := writeTLSFiles(t, ca, "localhost")

	r, err := NewCertReloader(files.cert, files.key, files.ca, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))

	rewriteServerCert(t, ca, files, "rotated", 4)

	select {
	case <-r.Reloaded():
	case <-time.After(5 * time.Second):
		t.Fatal("certificate was not reloaded")
	}
	assert.Equal(t, "rotated", r.Certificate().Leaf.Subject.CommonName)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Start(context.Background()), ErrReloaderClosed)
}
