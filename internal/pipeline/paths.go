package pipeline

import (
	"path"
	"strings"
)

// PublicPaths matches request paths against public prefixes on segment
// boundaries. "/r/quotes-service/" matches "/r/quotes-service" and
// everything below it, but not "/r/quotes-service-admin".
type PublicPaths struct {
	prefixes []string
}

// NewPublicPaths creates a matcher for prefixes. Empty entries are ignored.
func NewPublicPaths(prefixes ...string) PublicPaths {
	p := PublicPaths{prefixes: make([]string, 0, len(prefixes))}
	for _, prefix := range prefixes {
		prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		p.prefixes = append(p.prefixes, prefix)
	}
	return p
}

// Match reports whether the cleaned request path is public.
func (p PublicPaths) Match(requestPath string) bool {
	if len(p.prefixes) == 0 {
		return false
	}
	if requestPath == "" {
		requestPath = "/"
	}
	cleaned := path.Clean("/" + requestPath)
	for _, prefix := range p.prefixes {
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	return false
}

// Prefixes returns the normalized prefixes.
func (p PublicPaths) Prefixes() []string {
	return append([]string(nil), p.prefixes...)
}
