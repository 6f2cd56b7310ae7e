package outbound

import (
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

var outboundTracer = otel.Tracer("github.com/vyrodovalexey/quotes-service/internal/outbound")

// Outbound header names and values.
const (
	HeaderServiceName = "X-Service-Name"
	HeaderUserToken   = "X-User-Token"
	ContentTypeJSON   = "application/json"
	AcceptJSON        = "application/json, text/plain, application/*+json"
)

// Forwarder is an http.RoundTripper that attaches the service name and the
// caller's bearer token to every outgoing request. Transport errors are
// returned unchanged.
type Forwarder struct {
	next        http.RoundTripper
	serviceName string
	logger      observability.Logger
	metrics     *Metrics
}

// ForwarderOption is a functional option for the forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger for the forwarder.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithForwarderMetrics sets the metrics for the forwarder.
func WithForwarderMetrics(metrics *Metrics) ForwarderOption {
	return func(f *Forwarder) {
		f.metrics = metrics
	}
}

// NewForwarder wraps next. A nil next uses http.DefaultTransport.
func NewForwarder(next http.RoundTripper, serviceName string, opts ...ForwarderOption) *Forwarder {
	if next == nil {
		next = http.DefaultTransport
	}
	f := &Forwarder{
		next:        next,
		serviceName: serviceName,
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified; headers are set on a clone.
func (f *Forwarder) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx, span := outboundTracer.Start(req.Context(), "outbound "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("server.address", req.URL.Host),
		),
	)
	defer span.End()

	out := req.Clone(ctx)
	logger := f.logger.WithContext(ctx)

	out.Header.Set(HeaderServiceName, f.serviceName)

	if raw, ok := jwt.RawTokenFromContext(ctx); ok {
		out.Header.Set("Authorization", "Bearer "+raw)
		out.Header.Set(HeaderUserToken, raw)
		out.Header.Set("Content-Type", ContentTypeJSON)
		out.Header.Set("Accept", AcceptJSON)

		fields := []observability.Field{
			observability.String("method", req.Method),
			observability.String("host", req.URL.Host),
		}
		if token, ok := jwt.TokenFromContext(ctx); ok {
			fields = append(fields,
				observability.String("token_type", token.Header.Type),
				observability.String("issuer", token.Issuer()),
			)
		}
		logger.Info("forwarding token", fields...)
		span.SetAttributes(attribute.Bool("outbound.token_forwarded", true))
	} else {
		logger.Warn("no token in context for outbound request",
			observability.String("method", req.Method),
			observability.String("host", req.URL.Host),
		)
		span.SetAttributes(attribute.Bool("outbound.token_forwarded", false))
	}

	observability.InjectTraceContext(ctx, out)

	resp, err := f.next.RoundTrip(out)
	f.metrics.RecordRequest(resp, err, time.Since(start))
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			logger.Error("outbound request failed",
				observability.String("method", req.Method),
				observability.String("host", req.URL.Host),
				observability.Error(err),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}
