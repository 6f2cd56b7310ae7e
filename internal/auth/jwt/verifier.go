package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

const tracerName = "github.com/vyrodovalexey/quotes-service/internal/auth/jwt"

// DefaultClockSkew is the tolerance applied to nbf and exp.
const DefaultClockSkew = 60 * time.Second

// DefaultAlgorithms is the asymmetric allow-list used when Config has none.
var DefaultAlgorithms = []string{
	AlgRS256, AlgRS384, AlgRS512,
	AlgPS256, AlgPS384, AlgPS512,
	AlgES256, AlgES384,
}

var supportedAlgorithms = map[string]struct{}{
	AlgRS256: {}, AlgRS384: {}, AlgRS512: {},
	AlgPS256: {}, AlgPS384: {}, AlgPS512: {},
	AlgES256: {}, AlgES384: {}, AlgES512: {},
}

// Config configures a Verifier.
type Config struct {
	// Algorithms is the allow-list of header alg values.
	Algorithms []string

	// ClockSkew is the tolerance applied to nbf and exp. Negative values
	// are treated as zero.
	ClockSkew time.Duration
}

// Verifier verifies compact-serialized bearer tokens.
type Verifier interface {
	// Verify returns the verified token or an error matching ErrTokenInvalid.
	Verify(ctx context.Context, raw string) (*VerifiedToken, error)
}

// verifier implements Verifier.
type verifier struct {
	keySet     KeySet
	algorithms map[string]struct{}
	skew       time.Duration
	now        func() time.Time
	logger     observability.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// VerifierOption is a functional option for the verifier.
type VerifierOption func(*verifier)

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *verifier) {
		v.logger = logger
	}
}

// WithVerifierMetrics sets the metrics for the verifier.
func WithVerifierMetrics(metrics *Metrics) VerifierOption {
	return func(v *verifier) {
		v.metrics = metrics
	}
}

// WithClock sets the time source used for nbf and exp checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *verifier) {
		v.now = now
	}
}

// NewVerifier creates a verifier that resolves keys from keySet.
func NewVerifier(keySet KeySet, cfg Config, opts ...VerifierOption) (Verifier, error) {
	if keySet == nil {
		return nil, errors.New("key set is required")
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	allowed := make(map[string]struct{}, len(algs))
	for _, alg := range algs {
		if _, ok := supportedAlgorithms[alg]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
		allowed[alg] = struct{}{}
	}

	v := &verifier{
		keySet:     keySet,
		algorithms: allowed,
		skew:       max(cfg.ClockSkew, 0),
		now:        time.Now,
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify implements Verifier.
func (v *verifier) Verify(ctx context.Context, raw string) (*VerifiedToken, error) {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "jwt.Verify", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	token, err := v.verify(ctx, raw)
	v.metrics.RecordVerification(err, time.Since(start))

	if err != nil {
		span.SetStatus(codes.Error, Reason(err))
		span.SetAttributes(attribute.String("jwt.reason", Reason(err)))
		v.logger.WithContext(ctx).Debug("bearer token rejected",
			observability.String("reason", Reason(err)),
			observability.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("jwt.alg", token.Header.Algorithm),
		attribute.String("jwt.kid", token.Header.KeyID),
	)
	return token, nil
}

func (v *verifier) verify(ctx context.Context, raw string) (*VerifiedToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, NewValidationError("token is empty", ErrEmptyToken)
	}
	if strings.Count(raw, ".") != 2 {
		return nil, NewValidationError("token is not in compact form", ErrTokenMalformed)
	}

	msg, err := jws.ParseString(raw)
	if err != nil {
		return nil, NewValidationError("failed to parse token", errors.Join(ErrTokenMalformed, err))
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, NewValidationError("token must carry exactly one signature", ErrTokenMalformed)
	}

	protected := sigs[0].ProtectedHeaders()
	header := Header{
		Algorithm: protected.Algorithm().String(),
		Type:      protected.Type(),
		KeyID:     protected.KeyID(),
	}

	if _, ok := v.algorithms[header.Algorithm]; !ok {
		return nil, NewValidationError(
			fmt.Sprintf("algorithm %q is not allowed", header.Algorithm),
			ErrUnsupportedAlgorithm,
		)
	}

	key, err := v.keySet.LookupKey(ctx, header.KeyID, header.Algorithm)
	if err != nil {
		return nil, NewValidationError("failed to resolve signing key", err)
	}

	payload, err := jws.Verify([]byte(raw), jws.WithKey(jwa.SignatureAlgorithm(header.Algorithm), key))
	if err != nil {
		return nil, NewValidationError("signature verification failed", errors.Join(ErrTokenInvalidSignature, err))
	}

	claims, err := ParseClaims(payload)
	if err != nil {
		return nil, NewValidationError("failed to decode claims", errors.Join(ErrTokenMalformed, err))
	}

	if err := v.checkTimes(claims); err != nil {
		verr := NewValidationError("token is outside its validity window", err)
		verr.Claims = claims
		return nil, verr
	}

	return &VerifiedToken{
		Raw:            raw,
		Header:         header,
		Claims:         *claims,
		SignatureValid: true,
	}, nil
}

// checkTimes enforces nbf <= now <= exp within the configured skew.
// Absent claims are not enforced.
func (v *verifier) checkTimes(claims *Claims) error {
	now := v.now()
	if claims.ExpiresAt != nil && now.Add(-v.skew).After(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Add(v.skew).Before(claims.NotBefore.Time) {
		return ErrTokenNotYetValid
	}
	return nil
}
