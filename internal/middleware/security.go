package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// Security response headers.
const (
	HeaderStrictTransportSecurity = "Strict-Transport-Security"
	HeaderXContentTypeOptions     = "X-Content-Type-Options"
	HeaderXFrameOptions           = "X-Frame-Options"
	HeaderReferrerPolicy          = "Referrer-Policy"
	HeaderCacheControl            = "Cache-Control"
)

// SecurityHeaders sets hardening headers on every response. Handlers may
// override Cache-Control. Strict-Transport-Security is only sent over TLS
// and only when hstsMaxAge is positive.
func SecurityHeaders(hstsMaxAge time.Duration) func(http.Handler) http.Handler {
	var hsts string
	if hstsMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(hstsMaxAge/time.Second), 10) + "; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set(HeaderXContentTypeOptions, "nosniff")
			h.Set(HeaderXFrameOptions, "DENY")
			h.Set(HeaderReferrerPolicy, "no-referrer")
			h.Set(HeaderCacheControl, "no-store")
			if hsts != "" && r.TLS != nil {
				h.Set(HeaderStrictTransportSecurity, hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}
