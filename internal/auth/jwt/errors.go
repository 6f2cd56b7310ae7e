package jwt

import (
	"errors"
	"fmt"
)

// JWT signing algorithm constants.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
)

// Sentinel errors for JWT operations.
var (
	// ErrTokenInvalid is matched by every verification failure.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrNoToken indicates that the request carried no bearer token.
	ErrNoToken = errors.New("no bearer token")

	// ErrEmptyToken indicates that the token is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrTokenMalformed indicates that the token is malformed.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates that the token is not yet valid.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrTokenInvalidSignature indicates that the token signature is invalid.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrUnsupportedAlgorithm indicates that the signing algorithm is not allowed.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")

	// ErrKeyNotFound indicates that no key in the key set matches the token.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySetUnavailable indicates that the key set could not be obtained.
	ErrKeySetUnavailable = errors.New("key set unavailable")
)

// ValidationError describes why a token was rejected. It always matches
// ErrTokenInvalid.
type ValidationError struct {
	Message string
	Cause   error
	Claims  *Claims
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("jwt validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("jwt validation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrTokenInvalid, a *ValidationError, or matches the cause.
func (e *ValidationError) Is(target error) bool {
	if target == ErrTokenInvalid { //nolint:errorlint // sentinel identity
		return true
	}
	_, ok := target.(*ValidationError)
	return ok || errors.Is(e.Cause, target)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{
		Message: message,
		Cause:   cause,
	}
}

// KeyError represents a key resolution failure.
type KeyError struct {
	KeyID   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	msg := "jwt key error"
	if e.KeyID != "" {
		msg += fmt.Sprintf(" (kid=%s)", e.KeyID)
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Cause
}

// NewKeyError creates a new KeyError.
func NewKeyError(keyID, message string, cause error) *KeyError {
	return &KeyError{
		KeyID:   keyID,
		Message: message,
		Cause:   cause,
	}
}

// Reason maps a verification error to a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrNoToken):
		return "no_token"
	case errors.Is(err, ErrEmptyToken):
		return "empty"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrKeySetUnavailable):
		return "key_set_unavailable"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrTokenInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
