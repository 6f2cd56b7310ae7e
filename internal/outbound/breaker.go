package outbound

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("upstream circuit breaker is open")

// errServerFailure marks a 5xx response as a breaker failure. It never
// leaves BreakerTransport.
var errServerFailure = errors.New("upstream server error")

// BreakerTransport counts transport errors and 5xx responses and stops
// calling next once the failure threshold is reached.
type BreakerTransport struct {
	next    http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics *Metrics
}

// NewBreakerTransport wraps next with a breaker named name.
func NewBreakerTransport(
	next http.RoundTripper,
	name string,
	cfg config.CircuitBreakerConfig,
	logger observability.Logger,
	metrics *Metrics,
) *BreakerTransport {
	if logger == nil {
		logger = observability.NopLogger()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	b := &BreakerTransport{next: next, logger: logger, metrics: metrics}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval.Duration(),
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("upstream circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			b.metrics.RecordBreakerState(name, from.String(), to.String())

			_, span := outboundTracer.Start(context.Background(), "circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal))
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	})
	return b
}

// State returns the breaker state.
func (b *BreakerTransport) State() gobreaker.State {
	return b.cb.State()
}

// RoundTrip implements http.RoundTripper. Transport errors from next are
// returned unchanged; 5xx responses are returned to the caller as-is.
func (b *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		resp, err := b.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerFailure
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrCircuitOpen
	case errors.Is(err, errServerFailure):
		return result.(*http.Response), nil
	case err != nil:
		return nil, err
	}
	return result.(*http.Response), nil
}
