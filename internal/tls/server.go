package tls

import (
	"crypto/tls"
	"fmt"

	"github.com/vyrodovalexey/quotes-service/internal/config"
)

// ClientAuthType maps the configured client auth mode.
func ClientAuthType(mode string) (tls.ClientAuthType, error) {
	switch mode {
	case "", config.ClientAuthRequire:
		return tls.RequireAndVerifyClientCert, nil
	case config.ClientAuthRequest:
		return tls.VerifyClientCertIfGiven, nil
	case config.ClientAuthNone:
		return tls.NoClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("%w: unknown client auth mode %q", ErrInvalidConfig, mode)
	}
}

// MinVersion maps the configured minimum TLS version.
func MinVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: unsupported minimum version %q", ErrInvalidConfig, v)
	}
}

// NewServerConfig builds the server TLS configuration. The key pair and
// the client CA pool are read from reloader on every handshake.
func NewServerConfig(cfg *config.ServerTLSConfig, reloader *CertReloader) (*tls.Config, error) {
	if cfg == nil || reloader == nil {
		return nil, fmt.Errorf("%w: tls settings and reloader are required", ErrInvalidConfig)
	}

	clientAuth, err := ClientAuthType(cfg.ClientAuth)
	if err != nil {
		return nil, err
	}
	minVersion, err := MinVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	if clientAuth != tls.NoClientCert && reloader.ClientCAs() == nil {
		return nil, fmt.Errorf("%w: client certificate verification needs a client CA file", ErrInvalidConfig)
	}

	base := &tls.Config{
		MinVersion:     minVersion,
		ClientAuth:     clientAuth,
		GetCertificate: reloader.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
	}
	base.ClientCAs = reloader.ClientCAs()
	base.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		c := base.Clone()
		c.GetConfigForClient = nil
		c.ClientCAs = reloader.ClientCAs()
		return c, nil
	}
	return base, nil
}
