package tls

import (
	"errors"
	"fmt"
)

// Sentinel errors for TLS operations.
var (
	// ErrReloaderClosed indicates that the reloader has been closed.
	ErrReloaderClosed = errors.New("certificate reloader closed")

	// ErrCertificateNotFound indicates that no certificate is loaded.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrInvalidConfig indicates an unusable TLS configuration.
	ErrInvalidConfig = errors.New("invalid tls configuration")
)

// CertificateError describes a failure to load certificate material.
type CertificateError struct {
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	msg := "certificate error"
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// NewCertificateError creates a new CertificateError.
func NewCertificateError(path, message string, cause error) *CertificateError {
	return &CertificateError{Path: path, Message: message, Cause: cause}
}
