// Package jwt verifies RS/PS/ES-signed bearer tokens against a remote JWK
// set and exposes the typed claim set, including Keycloak-style
// realm_access and resource_access role lists.
//
// Verification covers the signature, the algorithm allow-list and the
// nbf/exp window with a bounded clock skew. The issuer claim is carried
// on the result but not checked.
//
//	keys, err := jwt.NewJWKSKeySet(jwksURL, jwt.WithJWKSLogger(logger))
//	verifier, err := jwt.NewVerifier(keys, jwt.Config{ClockSkew: time.Minute})
//	token, err := verifier.Verify(ctx, raw)
//	if errors.Is(err, jwt.ErrTokenInvalid) {
//	    // 401
//	}
package jwt
