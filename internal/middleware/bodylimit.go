package middleware

import (
	"io"
	"net/http"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// BodyLimit returns a middleware that limits the request body size. A
// declared Content-Length above maxSize is rejected with 413 up front;
// chunked bodies are cut off by http.MaxBytesReader while being read.
// A non-positive maxSize disables the limit.
func BodyLimit(maxSize int64, logger observability.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		if maxSize <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.WithContext(r.Context()).Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)
				metrics.recordBodyLimit()

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = io.WriteString(w, ErrRequestEntityTooLarge)
				return
			}

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
