// Package authz implements the role gate applied to verified bearer
// tokens. Access requires both the configured realm role and the
// configured client role; the Decision reason tells which one was missing.
package authz
