package outbound

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vyrodovalexey/quotes-service/internal/config"
)

// Pool defaults.
const (
	DefaultConnectTimeout   = config.DefaultConnectTimeout
	DefaultReadTimeout      = config.DefaultReadTimeout
	DefaultIdleConnTimeout  = config.DefaultIdleConnTimeout
	DefaultMaxConnsPerRoute = config.DefaultMaxConnsPerRoute
	DefaultMaxConnsTotal    = config.DefaultMaxConnsTotal
)

// Pool errors.
var (
	// ErrPoolClosed is returned when dialing through a closed pool.
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrPoolExhausted is returned when no connection slot frees up within
	// the connect timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")
)

// PoolStats is a snapshot of the pool.
type PoolStats struct {
	OpenConnections int64
	MaxPerRoute     int
	MaxTotal        int
}

// Pool owns the upstream transport. Connections per host are limited by
// the transport; the total across hosts is limited by a semaphore that is
// held for the lifetime of each connection.
type Pool struct {
	transport *http.Transport
	sem       *semaphore.Weighted
	dialer    *net.Dialer
	waitLimit time.Duration
	maxRoute  int
	maxTotal  int
	open      atomic.Int64
	closed    atomic.Bool
}

// NewPool creates a pool from the upstream settings.
func NewPool(cfg *config.UpstreamConfig) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("upstream config is required")
	}

	connectTimeout := durationOr(cfg.ConnectTimeout.Duration(), DefaultConnectTimeout)
	readTimeout := durationOr(cfg.ReadTimeout.Duration(), DefaultReadTimeout)
	idleTimeout := durationOr(cfg.IdleConnTimeout.Duration(), DefaultIdleConnTimeout)
	maxRoute := intOr(cfg.MaxConnsPerRoute, DefaultMaxConnsPerRoute)
	maxTotal := intOr(cfg.MaxConnsTotal, DefaultMaxConnsTotal)

	tlsConfig, err := clientTLSConfig(&cfg.TLS)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		sem:       semaphore.NewWeighted(int64(maxTotal)),
		dialer:    &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second},
		waitLimit: connectTimeout,
		maxRoute:  maxRoute,
		maxTotal:  maxTotal,
	}

	p.transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           p.dialContext,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxTotal,
		MaxIdleConnsPerHost:   maxRoute,
		MaxConnsPerHost:       maxRoute,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return p, nil
}

// Transport returns the pooled transport.
func (p *Pool) Transport() *http.Transport {
	return p.transport
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		OpenConnections: p.open.Load(),
		MaxPerRoute:     p.maxRoute,
		MaxTotal:        p.maxTotal,
	}
}

// Close closes idle connections and refuses new dials.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.transport.CloseIdleConnections()
	}
}

func (p *Pool) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	// Outbound contexts carry no cancellation, so the wait for a free slot
	// is bounded by the connect timeout.
	waitCtx, cancel := context.WithTimeout(ctx, p.waitLimit)
	err := p.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: no free slot after %s", ErrPoolExhausted, p.waitLimit)
	}

	conn, err := p.dialer.DialContext(ctx, network, addr)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.open.Add(1)
	return &pooledConn{Conn: conn, release: func() {
		p.open.Add(-1)
		p.sem.Release(1)
	}}, nil
}

// pooledConn returns its semaphore slot exactly once on Close.
type pooledConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *pooledConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}

func clientTLSConfig(cfg *config.UpstreamTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test environments
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading upstream CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading upstream client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func intOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}
