package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/auth/mtls"
	"github.com/vyrodovalexey/quotes-service/internal/authz"
	"github.com/vyrodovalexey/quotes-service/internal/cache"
	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/health"
	"github.com/vyrodovalexey/quotes-service/internal/middleware"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
	"github.com/vyrodovalexey/quotes-service/internal/outbound"
	"github.com/vyrodovalexey/quotes-service/internal/pipeline"
	"github.com/vyrodovalexey/quotes-service/internal/server"
	tlsutil "github.com/vyrodovalexey/quotes-service/internal/tls"
)

// application holds all application components.
type application struct {
	config        *config.ServiceConfig
	logger        observability.Logger
	metrics       *observability.Metrics
	metricsServer *http.Server
	tracer        *observability.Tracer
	store         cache.Cache
	keySet        *jwt.JWKSKeySet
	health        *health.Checker
	reloader      *tlsutil.CertReloader
	upstream      *outbound.Client
	server        *server.Server
}

// newApplication wires every component from cfg. Components created
// before a failure are released.
func newApplication(cfg *config.ServiceConfig, logger observability.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.close(context.Background())
		}
	}()

	app.metrics = observability.NewMetrics(observability.DefaultNamespace)
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)
	registry := app.metrics.Registry()
	ns := observability.DefaultNamespace

	if app.tracer, err = initTracer(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	if app.store, err = cache.New(&cfg.Cache,
		cache.WithLogger(logger),
		cache.WithMetrics(cache.NewMetrics(ns, registry)),
	); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	jwtMetrics := jwt.NewMetrics(ns, registry)
	if app.keySet, err = newKeySet(cfg, app.store, logger, jwtMetrics); err != nil {
		return nil, err
	}
	verifier, err := jwt.NewVerifier(app.keySet, jwt.Config{
		Algorithms: cfg.Security.JWT.Algorithms,
		ClockSkew:  cfg.Security.JWT.ClockSkew.Duration(),
	},
		jwt.WithVerifierLogger(logger),
		jwt.WithVerifierMetrics(jwtMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	gate, err := authz.NewGate(authz.PolicyFromConfig(&cfg.Security.Roles),
		authz.WithGateLogger(logger),
		authz.WithGateMetrics(authz.NewMetrics(ns, registry)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization gate: %w", err)
	}

	extractor := mtls.NewExtractor(
		mtls.WithExtractorLogger(logger),
		mtls.WithExtractorMetrics(mtls.NewMetrics(ns, registry)),
	)

	p, err := pipeline.New(extractor, verifier, gate, pipeline.ConfigFromSecurity(&cfg.Security),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(pipeline.NewMetrics(ns, registry)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request pipeline: %w", err)
	}

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(app.metrics),
		server.WithMiddlewareMetrics(middleware.NewMetrics(ns, registry)),
		server.WithBuildInfo(server.BuildInfo{Version: version, Commit: gitCommit, BuildTime: buildTime}),
	}

	if cfg.Upstream.BaseURL != "" {
		if app.upstream, err = outbound.New(&cfg.Upstream,
			outbound.WithLogger(logger),
			outbound.WithMetrics(outbound.NewMetrics(ns, registry)),
		); err != nil {
			return nil, fmt.Errorf("failed to create upstream client: %w", err)
		}
		serverOpts = append(serverOpts, server.WithUpstream(app.upstream))
	}

	if cfg.Server.TLS.Enabled {
		if app.reloader, err = tlsutil.NewCertReloader(
			cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.ClientCAFile,
			tlsutil.WithReloaderLogger(logger),
			tlsutil.WithReloaderMetrics(tlsutil.NewMetrics(ns, registry)),
			tlsutil.WithDebounceDelay(cfg.Server.TLS.DebounceDelay.Duration()),
		); err != nil {
			return nil, fmt.Errorf("failed to load server certificate: %w", err)
		}
		serverOpts = append(serverOpts, server.WithCertReloader(app.reloader))
	}

	app.health = newHealthChecker(app, health.NewMetrics(ns, registry))

	if app.server, err = server.New(cfg, p, serverOpts...); err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return app, nil
}

// newHealthChecker registers a readiness check for every dependency the
// application was built with.
func newHealthChecker(app *application, metrics *health.Metrics) *health.Checker {
	checker := health.NewChecker(
		health.WithLogger(app.logger),
		health.WithMetrics(metrics),
	)
	checker.Register(health.JWKSCheck(app.keySet))
	if pinger, ok := app.store.(health.Pinger); ok {
		checker.Register(health.PingCheck(health.CheckCache, pinger))
	}
	if app.upstream != nil {
		checker.Register(health.BreakerCheck(app.upstream))
	}
	return checker
}

// initTracer initializes the tracer.
func initTracer(cfg *config.ServiceConfig) (*observability.Tracer, error) {
	tracing := cfg.Observability.Tracing
	return observability.NewTracer(observability.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version,
		OTLPEndpoint:   tracing.Endpoint,
		Insecure:       tracing.Insecure,
		SamplingRate:   tracing.SamplingRate,
		Enabled:        tracing.Enabled,
	})
}

// newKeySet creates the remote key set from the jwt section.
func newKeySet(
	cfg *config.ServiceConfig,
	store cache.Cache,
	logger observability.Logger,
	metrics *jwt.Metrics,
) (*jwt.JWKSKeySet, error) {
	jwtCfg := cfg.Security.JWT
	httpClient, err := jwksHTTPClient(&jwtCfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.JWKSOption{
		jwt.WithHTTPClient(httpClient),
		jwt.WithCacheTTL(jwtCfg.CacheTTL.Duration()),
		jwt.WithFetchTimeout(jwtCfg.FetchTimeout.Duration()),
		jwt.WithMinRefreshInterval(jwtCfg.MinRefreshInterval.Duration()),
		jwt.WithNegativeCacheTTL(jwtCfg.NegativeCacheTTL.Duration()),
		jwt.WithJWKSLogger(logger),
		jwt.WithJWKSMetrics(metrics),
	}
	if store != nil {
		opts = append(opts, jwt.WithSharedStore(store))
	}

	keySet, err := jwt.NewJWKSKeySet(jwtCfg.JWKSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks key set: %w", err)
	}
	return keySet, nil
}

// jwksHTTPClient trusts the system roots, plus caFile when set.
func jwksHTTPClient(cfg *config.JWTConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(cfg.CAFile) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read jwks CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("jwks CA file contains no certificates")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: transport, Timeout: cfg.FetchTimeout.Duration()}, nil
}

// close releases every component that was created.
func (a *application) close(ctx context.Context) {
	if a.keySet != nil {
		if err := a.keySet.Close(); err != nil {
			a.logger.Error("failed to close key set", observability.Error(err))
		}
	}
	if a.reloader != nil {
		if err := a.reloader.Close(); err != nil {
			a.logger.Error("failed to close certificate watcher", observability.Error(err))
		}
	}
	if a.upstream != nil {
		a.upstream.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close cache", observability.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
