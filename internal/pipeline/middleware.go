package pipeline

import (
	"context"
	"net/http"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/auth/mtls"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

type outcomeContextKey struct{}

// OutcomeFromContext returns the outcome of a dispatched request.
func OutcomeFromContext(ctx context.Context) (*Outcome, bool) {
	out, ok := ctx.Value(outcomeContextKey{}).(*Outcome)
	return out, ok
}

// Middleware runs the pipeline in front of next. Dispatched requests carry
// the identity, the token and the outcome on their context; rejected
// requests get a 401 or 403 with an empty body.
func (p *Pipeline) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := p.Run(r)
			logger := p.logger.WithContext(r.Context())

			if !out.Dispatched() {
				p.reject(w, r, &out, logger)
				return
			}

			ctx := mtls.ContextWithIdentity(r.Context(), out.Identity)
			if out.Token != nil {
				ctx = jwt.ContextWithToken(ctx, out.Token)
			}
			ctx = context.WithValue(ctx, outcomeContextKey{}, &out)

			logger.Debug("request dispatched",
				observability.String("path", r.URL.Path),
				observability.Bool("public", out.Public),
				observability.String("common_name", out.Identity.CommonName),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, out *Outcome, logger observability.Logger) {
	fields := []observability.Field{
		observability.String("state", out.State.String()),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.String("common_name", out.Identity.CommonName),
	}
	if out.Err != nil {
		fields = append(fields, observability.Error(out.Err))
	}
	if out.Token != nil {
		fields = append(fields, observability.String("reason", out.Decision.Reason))
	} else if out.State == StateRejectedInvalidToken {
		fields = append(fields, observability.String("reason", jwt.Reason(out.Err)))
	}
	logger.Info("request rejected", fields...)

	if out.State == StateRejectedInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(out.StatusCode())
}
