package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// DefaultDebounceDelay coalesces the burst of events a file rewrite produces.
const DefaultDebounceDelay = 100 * time.Millisecond

// CertReloader holds the server key pair and the client CA pool and
// reloads them when the files change. A failed reload keeps the previous
// material.
type CertReloader struct {
	certFile string
	keyFile  string
	caFile   string
	logger   observability.Logger
	metrics  *Metrics

	certificate atomic.Pointer[tls.Certificate]
	clientCA    atomic.Pointer[x509.CertPool]

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}
	reloaded  chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	debounceDelay time.Duration
}

// ReloaderOption is a functional option for the reloader.
type ReloaderOption func(*CertReloader)

// WithReloaderLogger sets the logger for the reloader.
func WithReloaderLogger(logger observability.Logger) ReloaderOption {
	return func(r *CertReloader) {
		r.logger = logger
	}
}

// WithReloaderMetrics sets the metrics for the reloader.
func WithReloaderMetrics(metrics *Metrics) ReloaderOption {
	return func(r *CertReloader) {
		r.metrics = metrics
	}
}

// WithDebounceDelay sets the debounce delay for file change events.
func WithDebounceDelay(delay time.Duration) ReloaderOption {
	return func(r *CertReloader) {
		if delay > 0 {
			r.debounceDelay = delay
		}
	}
}

// NewCertReloader loads the key pair and, when caFile is set, the client
// CA bundle.
func NewCertReloader(certFile, keyFile, caFile string, opts ...ReloaderOption) (*CertReloader, error) {
	if certFile == "" || keyFile == "" {
		return nil, NewCertificateError("", "certificate and key files are required", ErrInvalidConfig)
	}

	r := &CertReloader{
		certFile:      certFile,
		keyFile:       keyFile,
		caFile:        caFile,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		reloaded:      make(chan struct{}, 1),
		debounceDelay: DefaultDebounceDelay,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.loadCertificate(); err != nil {
		return nil, err
	}
	if err := r.loadClientCA(); err != nil {
		return nil, err
	}
	return r, nil
}

// Start watches the certificate directories until ctx is done or Close.
func (r *CertReloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReloaderClosed
	}
	if r.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewCertificateError("", "failed to create file watcher", err)
	}

	dirs := map[string]struct{}{}
	for _, f := range []string{r.certFile, r.keyFile, r.caFile} {
		if f != "" {
			dirs[filepath.Dir(f)] = struct{}{}
		}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return NewCertificateError(dir, "failed to watch directory", err)
		}
	}

	r.watcher = watcher
	r.started = true
	go r.watchLoop(ctx)

	r.logger.Info("watching tls material",
		observability.String("cert_file", r.certFile),
		observability.String("key_file", r.keyFile),
		observability.String("client_ca_file", r.caFile),
	)
	return nil
}

// Close stops watching.
func (r *CertReloader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.stoppedCh
		return r.watcher.Close()
	}
	return nil
}

// GetCertificate returns the current server certificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.certificate.Load()
	if cert == nil {
		return nil, ErrCertificateNotFound
	}
	return cert, nil
}

// ClientCAs returns the current client CA pool, or nil.
func (r *CertReloader) ClientCAs() *x509.CertPool {
	return r.clientCA.Load()
}

// Certificate returns the current server certificate.
func (r *CertReloader) Certificate() *tls.Certificate {
	return r.certificate.Load()
}

// Reloaded receives after each successful reload. Slow readers miss
// notifications but never block the reloader.
func (r *CertReloader) Reloaded() <-chan struct{} {
	return r.reloaded
}

// Reload reloads both files now.
func (r *CertReloader) Reload() error {
	if err := r.loadCertificate(); err != nil {
		r.metrics.recordReload(false)
		r.logger.Error("failed to reload certificate", observability.Error(err))
		return err
	}
	if err := r.loadClientCA(); err != nil {
		r.metrics.recordReload(false)
		r.logger.Error("failed to reload client CA", observability.Error(err))
		return err
	}
	r.metrics.recordReload(true)
	r.logger.Info("tls material reloaded")

	select {
	case r.reloaded <- struct{}{}:
	default:
	}
	return nil
}

func (r *CertReloader) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return NewCertificateError(r.certFile, "failed to load key pair", err)
	}
	if len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
			r.metrics.setExpiry(leaf.NotAfter)
			r.logger.Info("server certificate loaded",
				observability.String("subject", leaf.Subject.String()),
				observability.Time("not_after", leaf.NotAfter),
			)
		}
	}
	r.certificate.Store(&cert)
	return nil
}

func (r *CertReloader) loadClientCA() error {
	if r.caFile == "" {
		return nil
	}
	pemData, err := os.ReadFile(r.caFile) // #nosec G304 -- path from trusted config
	if err != nil {
		return NewCertificateError(r.caFile, "failed to read client CA file", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return NewCertificateError(r.caFile, "no certificates found", nil)
	}
	r.clientCA.Store(pool)
	return nil
}

func (r *CertReloader) watchLoop(ctx context.Context) {
	defer close(r.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.isRelevant(event) {
				continue
			}
			r.logger.Debug("tls file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(r.debounceDelay)
			debounceCh = debounce.C
		case <-debounceCh:
			debounceCh = nil
			_ = r.Reload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", observability.Error(err))
		}
	}
}

// isRelevant matches writes, creates and renames of the watched files and
// of the "..data" symlink that Kubernetes secret mounts swap.
func (r *CertReloader) isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	if filepath.Base(name) == "..data" {
		return true
	}
	for _, f := range []string{r.certFile, r.keyFile, r.caFile} {
		if f != "" && name == filepath.Clean(f) {
			return true
		}
	}
	return false
}
