package jwt

import (
	"context"
	"time"
)

// Header holds the protected JOSE header fields of a token.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ,omitempty"`
	KeyID     string `json:"kid,omitempty"`
}

// VerifiedToken is the outcome of a successful verification. It lives for
// one request and is never modified.
type VerifiedToken struct {
	Raw            string
	Header         Header
	Claims         Claims
	SignatureValid bool
}

// Issuer returns the iss claim.
func (t *VerifiedToken) Issuer() string {
	return t.Claims.Issuer
}

// Subject returns the sub claim.
func (t *VerifiedToken) Subject() string {
	return t.Claims.Subject
}

// ExpiresAt returns the exp claim or the zero time.
func (t *VerifiedToken) ExpiresAt() time.Time {
	if t.Claims.ExpiresAt == nil {
		return time.Time{}
	}
	return t.Claims.ExpiresAt.Time
}

// NotBefore returns the nbf claim or the zero time.
func (t *VerifiedToken) NotBefore() time.Time {
	if t.Claims.NotBefore == nil {
		return time.Time{}
	}
	return t.Claims.NotBefore.Time
}

type (
	tokenContextKey    struct{}
	rawTokenContextKey struct{}
)

// ContextWithToken stores the verified token on ctx.
func ContextWithToken(ctx context.Context, token *VerifiedToken) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the token stored by ContextWithToken.
func TokenFromContext(ctx context.Context) (*VerifiedToken, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(*VerifiedToken)
	return token, ok && token != nil
}

// ContextWithRawToken stores an unverified bearer string on ctx for
// outbound forwarding.
func ContextWithRawToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, rawTokenContextKey{}, raw)
}

// RawTokenFromContext returns the bearer string of the verified token, or
// the one stored by ContextWithRawToken.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	if token, ok := TokenFromContext(ctx); ok && token.Raw != "" {
		return token.Raw, true
	}
	raw, ok := ctx.Value(rawTokenContextKey{}).(string)
	return raw, ok && raw != ""
}
