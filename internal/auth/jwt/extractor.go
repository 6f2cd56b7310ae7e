package jwt

import (
	"net/http"
	"strings"
)

const bearerScheme = "bearer"

// ExtractBearer returns the token from the Authorization header.
// ErrNoToken means no bearer credential was presented at all; an empty
// bearer value is reported as malformed.
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}

	scheme, token, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrNoToken
	}

	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", NewValidationError("empty bearer credential", ErrTokenMalformed)
	}
	return token, nil
}
