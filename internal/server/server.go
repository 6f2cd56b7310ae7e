package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/middleware"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
	"github.com/vyrodovalexey/quotes-service/internal/outbound"
	"github.com/vyrodovalexey/quotes-service/internal/pipeline"
	tlsutil "github.com/vyrodovalexey/quotes-service/internal/tls"
)

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Errors returned by the server lifecycle.
var (
	ErrNotStopped = errors.New("server is not in stopped state")
	ErrNotRunning = errors.New("server is not running")
)

const defaultShutdownTimeout = 30 * time.Second

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// RouteRegistrar attaches handlers to the engine.
type RouteRegistrar func(gin.IRouter)

// Server is the inbound HTTPS server.
type Server struct {
	config    *config.ServiceConfig
	pipeline  *pipeline.Pipeline
	logger    observability.Logger
	metrics   *observability.Metrics
	mwMetrics *middleware.Metrics
	upstream  *outbound.Client
	reloader  *tlsutil.CertReloader
	tracing   trace.TracerProvider
	build     BuildInfo
	routes    []RouteRegistrar

	engine  *gin.Engine
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
	state      atomic.Int32
	startTime  time.Time
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the HTTP metrics recorded for every request.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithMiddlewareMetrics sets the middleware metrics.
func WithMiddlewareMetrics(metrics *middleware.Metrics) Option {
	return func(s *Server) {
		s.mwMetrics = metrics
	}
}

// WithUpstream enables the relay to the upstream gateway.
func WithUpstream(client *outbound.Client) Option {
	return func(s *Server) {
		s.upstream = client
	}
}

// WithCertReloader supplies the server key pair and client CA pool.
func WithCertReloader(reloader *tlsutil.CertReloader) Option {
	return func(s *Server) {
		s.reloader = reloader
	}
}

// WithTracerProvider sets the provider for server spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracing = provider
	}
}

// WithBuildInfo sets the build info reported by the info endpoint.
func WithBuildInfo(info BuildInfo) Option {
	return func(s *Server) {
		s.build = info
	}
}

// WithRoutes registers additional handlers behind the pipeline.
func WithRoutes(registrars ...RouteRegistrar) Option {
	return func(s *Server) {
		s.routes = append(s.routes, registrars...)
	}
}

// New creates a server that runs every request through p.
func New(cfg *config.ServiceConfig, p *pipeline.Pipeline, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if p == nil {
		return nil, errors.New("pipeline is required")
	}

	s := &Server{
		config:   cfg,
		pipeline: p,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(observability.DefaultNamespace)
	}
	if s.build.Version == "" {
		s.build.Version = "dev"
	}

	s.engine = s.newEngine()
	s.handler = s.chain(s.engine)
	s.state.Store(int32(StateStopped))
	return s, nil
}

// chain wraps h with the middleware stack, outermost first: recovery,
// request id, security headers, tracing, access log, metrics, body limit,
// pipeline.
func (s *Server) chain(h http.Handler) http.Handler {
	h = s.pipeline.Middleware()(h)
	h = middleware.BodyLimit(s.config.Server.MaxBodySize, s.logger, s.mwMetrics)(h)
	h = observability.MetricsMiddleware(s.metrics)(h)
	h = middleware.Logging(s.logger, middleware.NewClientIPExtractor(s.config.Server.TrustedProxies))(h)
	h = middleware.Tracing(s.tracing)(h)
	h = middleware.SecurityHeaders(s.config.Server.HSTSMaxAge.Duration())(h)
	h = middleware.RequestID()(h)
	return middleware.Recovery(s.logger, s.mwMetrics)(h)
}

// Handler returns the full request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	srvCfg := s.config.Server
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       srvCfg.ReadTimeout.Duration(),
		ReadHeaderTimeout: srvCfg.ReadHeaderTimeout.Duration(),
		WriteTimeout:      srvCfg.WriteTimeout.Duration(),
		IdleTimeout:       srvCfg.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", srvCfg.Address)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", srvCfg.Address, err)
	}

	if srvCfg.TLS.Enabled {
		tlsCfg, err := tlsutil.NewServerConfig(&srvCfg.TLS, s.reloader)
		if err != nil {
			_ = ln.Close()
			s.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to build tls config: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.listener = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.serve(httpServer, ln, s.done)

	s.startTime = time.Now()
	s.state.Store(int32(StateRunning))
	s.logger.Info("server started",
		observability.String("address", ln.Addr().String()),
		observability.Bool("tls", srvCfg.TLS.Enabled),
		observability.String("client_auth", srvCfg.TLS.ClientAuth),
	)
	return nil
}

func (s *Server) serve(httpServer *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server error", observability.Error(err))
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests until ctx is done, then closes the rest.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}
	defer s.state.Store(int32(StateStopped))

	if _, ok := ctx.Deadline(); !ok {
		timeout := s.config.Server.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.mu.Lock()
	httpServer, done := s.httpServer, s.done
	s.mu.Unlock()

	s.logger.Info("stopping server")
	if err := httpServer.Shutdown(ctx); err != nil {
		if closeErr := httpServer.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	<-done
	s.logger.Info("server stopped")
	return nil
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Uptime returns the time since Start.
func (s *Server) Uptime() time.Duration {
	if s.State() != StateRunning {
		return 0
	}
	return time.Since(s.startTime)
}
