package authz

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

var gateTracer = otel.Tracer("github.com/vyrodovalexey/quotes-service/internal/authz")

// Decision reasons.
const (
	ReasonAllowed           = "allowed"
	ReasonMissingRealmRole  = "missing_realm_role"
	ReasonMissingClientRole = "missing_client_role"
	ReasonMissingBothRoles  = "missing_both_roles"
	ReasonNoToken           = "no_token"
)

// Decision is the outcome of the role gate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate checks the realm role and the client role of a verified token.
// It holds no per-request state.
type Gate struct {
	policy  Policy
	logger  observability.Logger
	metrics *Metrics
}

// GateOption is a functional option for the gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger for the gate.
func WithGateLogger(logger observability.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateMetrics sets the metrics for the gate.
func WithGateMetrics(metrics *Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// NewGate creates a gate enforcing policy.
func NewGate(policy Policy, opts ...GateOption) (*Gate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		policy: policy,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Policy returns the enforced policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Authorize allows the request only when the token carries both required
// roles. A missing realm_access claim or client entry counts as the role
// being absent. The role lists are logged at info level for every call.
func (g *Gate) Authorize(ctx context.Context, token *jwt.VerifiedToken) Decision {
	start := time.Now()
	_, span := gateTracer.Start(ctx, "authz.Authorize", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	decision := g.decide(ctx, token)

	span.SetAttributes(
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.reason", decision.Reason),
	)
	g.metrics.RecordDecision(decision, time.Since(start))
	return decision
}

func (g *Gate) decide(ctx context.Context, token *jwt.VerifiedToken) Decision {
	logger := g.logger.WithContext(ctx)

	if token == nil || !token.SignatureValid {
		logger.Info("authorization denied: no verified token",
			observability.String("reason", ReasonNoToken),
		)
		return Decision{Reason: ReasonNoToken}
	}

	claims := &token.Claims
	hasRealm := claims.HasRealmRole(g.policy.RealmRole)
	hasClient := claims.HasClientRole(g.policy.ClientID, g.policy.ClientRole)

	decision := Decision{Allowed: hasRealm && hasClient}
	switch {
	case decision.Allowed:
		decision.Reason = ReasonAllowed
	case !hasRealm && !hasClient:
		decision.Reason = ReasonMissingBothRoles
	case !hasRealm:
		decision.Reason = ReasonMissingRealmRole
	default:
		decision.Reason = ReasonMissingClientRole
	}

	clientRoles := make(map[string][]string, len(claims.ResourceAccess))
	for client, set := range claims.ResourceAccess {
		clientRoles[client] = set.Roles
	}

	logger.Info("authorization evaluated",
		observability.String("subject", claims.Subject),
		observability.Strings("realm_roles", claims.RealmRoles()),
		observability.Any("client_roles", clientRoles),
		observability.Bool("allowed", decision.Allowed),
		observability.String("reason", decision.Reason),
	)
	return decision
}
