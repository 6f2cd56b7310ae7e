package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/auth/mtls"
	"github.com/vyrodovalexey/quotes-service/internal/authz"
	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

var pipelineTracer = otel.Tracer("github.com/vyrodovalexey/quotes-service/internal/pipeline")

// ErrIllegalTransition indicates a step returned a state it may not reach.
var ErrIllegalTransition = errors.New("illegal pipeline transition")

// IdentityExtractor derives the client certificate identity of a request.
type IdentityExtractor interface {
	FromRequest(r *http.Request) mtls.ClientIdentity
}

// Authorizer decides whether a verified token may proceed.
type Authorizer interface {
	Authorize(ctx context.Context, token *jwt.VerifiedToken) authz.Decision
}

// Config configures path handling.
type Config struct {
	// PublicPrefixes skip token verification and the role gate.
	PublicPrefixes []string

	// RequireClientCertificate rejects public requests without a usable
	// certificate identity.
	RequireClientCertificate bool
}

// ConfigFromSecurity builds a Config from the security section.
func ConfigFromSecurity(cfg *config.SecurityConfig) Config {
	return Config{
		PublicPrefixes:           cfg.PublicPaths.Prefixes,
		RequireClientCertificate: cfg.PublicPaths.RequireClientCertificate,
	}
}

// Outcome records how a request went through the pipeline.
type Outcome struct {
	State    State
	Trail    []State
	Public   bool
	Identity mtls.ClientIdentity
	Token    *jwt.VerifiedToken
	Decision authz.Decision
	Err      error
}

// Dispatched reports whether the request may reach the handler.
func (o *Outcome) Dispatched() bool {
	return o.State == StateDispatched
}

// StatusCode returns the rejection status, or 0 when dispatched.
func (o *Outcome) StatusCode() int {
	return o.State.StatusCode()
}

// step advances the outcome from one state to the next.
type step func(ctx context.Context, r *http.Request, out *Outcome) State

// Pipeline is the per-request authentication state machine. It is safe
// for concurrent use; all request state lives in the Outcome.
type Pipeline struct {
	extractor  IdentityExtractor
	verifier   jwt.Verifier
	authorizer Authorizer
	public     PublicPaths
	requireCN  bool
	steps      map[State]step
	logger     observability.Logger
	metrics    *Metrics
}

// Option is a functional option for the pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for the pipeline.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics for the pipeline.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// New creates a pipeline from its three collaborators.
func New(extractor IdentityExtractor, verifier jwt.Verifier, authorizer Authorizer, cfg Config, opts ...Option) (*Pipeline, error) {
	switch {
	case extractor == nil:
		return nil, errors.New("identity extractor is required")
	case verifier == nil:
		return nil, errors.New("token verifier is required")
	case authorizer == nil:
		return nil, errors.New("authorizer is required")
	}

	p := &Pipeline{
		extractor:  extractor,
		verifier:   verifier,
		authorizer: authorizer,
		public:     NewPublicPaths(cfg.PublicPrefixes...),
		requireCN:  cfg.RequireClientCertificate,
		logger:     observability.NopLogger(),
	}
	p.steps = map[State]step{
		StateStart:         p.extractIdentity,
		StateCertExtracted: p.authenticate,
		StateTokenVerified: p.authorize,
		StateAuthorized:    p.dispatch,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run drives r through the state machine until a terminal state.
func (p *Pipeline) Run(r *http.Request) Outcome {
	start := time.Now()
	ctx, span := pipelineTracer.Start(r.Context(), "pipeline.Run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)
	defer span.End()

	out := Outcome{State: StateStart, Trail: []State{StateStart}}
	for !out.State.Terminal() {
		next := p.steps[out.State](ctx, r, &out)
		if !CanTransition(out.State, next) {
			// A broken step table must never let a request through.
			out.Err = fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, out.State, next)
			next = StateRejectedForbidden
		}
		out.State = next
		out.Trail = append(out.Trail, next)
	}

	span.SetAttributes(
		attribute.String("pipeline.state", out.State.String()),
		attribute.Bool("pipeline.public", out.Public),
	)
	if out.State.Rejected() {
		span.SetStatus(codes.Error, out.State.String())
	}
	p.metrics.RecordOutcome(out.State, time.Since(start))
	return out
}

func (p *Pipeline) extractIdentity(_ context.Context, r *http.Request, out *Outcome) State {
	out.Identity = p.extractor.FromRequest(r)
	return StateCertExtracted
}

func (p *Pipeline) authenticate(ctx context.Context, r *http.Request, out *Outcome) State {
	if p.public.Match(r.URL.Path) {
		out.Public = true
		if p.requireCN && !out.Identity.HasIdentity() {
			out.Err = out.Identity.Err
			if out.Err == nil {
				out.Err = mtls.ErrNoCertificate
			}
			return StateRejectedNoCert
		}
		return StateDispatched
	}

	raw, err := jwt.ExtractBearer(r)
	if errors.Is(err, jwt.ErrNoToken) {
		out.Err = err
		return StateRejectedForbidden
	}
	if err != nil {
		out.Err = err
		return StateRejectedInvalidToken
	}

	token, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		out.Err = err
		return StateRejectedInvalidToken
	}
	out.Token = token
	return StateTokenVerified
}

func (p *Pipeline) authorize(ctx context.Context, _ *http.Request, out *Outcome) State {
	out.Decision = p.authorizer.Authorize(ctx, out.Token)
	if !out.Decision.Allowed {
		return StateRejectedForbidden
	}
	return StateAuthorized
}

func (p *Pipeline) dispatch(_ context.Context, _ *http.Request, _ *Outcome) State {
	return StateDispatched
}
