// Package middleware provides the ambient HTTP middleware that wraps the
// authentication pipeline: panic recovery, request IDs, tracing, access
// logging and request body limits.
//
// Every middleware has the func(http.Handler) http.Handler shape so the
// server can chain them around the gin engine:
//
//	handler := middleware.Recovery(logger, metrics)(
//	    middleware.RequestID()(
//	        middleware.Tracing(nil)(
//	            middleware.Logging(logger, ipExtractor)(next))))
package middleware
