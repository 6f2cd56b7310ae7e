package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates service configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a service configuration.
func ValidateConfig(cfg *ServiceConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *ServiceConfig) error {
	v.errors = make(ValidationErrors, 0)

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	if cfg.Service.Name == "" {
		v.addError("service.name", "name is required")
	}
	v.validateServer(&cfg.Server)
	v.validateSecurity(&cfg.Security)
	v.validateUpstream(&cfg.Upstream)
	v.validateCache(&cfg.Cache)
	v.validateObservability(&cfg.Observability)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "address is required")
	}
	if s.ShutdownTimeout < 0 {
		v.addError("server.shutdownTimeout", "must not be negative")
	}
	if s.MaxBodySize < 0 {
		v.addError("server.maxBodySize", "must not be negative")
	}
	if s.HSTSMaxAge < 0 {
		v.addError("server.hstsMaxAge", "must not be negative")
	}
	for i, proxy := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			v.addError(fmt.Sprintf("server.trustedProxies[%d]", i), fmt.Sprintf("invalid IP or CIDR %q", proxy))
		}
	}

	if !s.TLS.Enabled {
		return
	}
	if s.TLS.CertFile == "" {
		v.addError("server.tls.certFile", "certFile is required when TLS is enabled")
	}
	if s.TLS.KeyFile == "" {
		v.addError("server.tls.keyFile", "keyFile is required when TLS is enabled")
	}
	switch s.TLS.ClientAuth {
	case ClientAuthRequire, ClientAuthRequest:
		if s.TLS.ClientCAFile == "" {
			v.addError("server.tls.clientCAFile", "clientCAFile is required to verify client certificates")
		}
	case ClientAuthNone:
	default:
		v.addError("server.tls.clientAuth", fmt.Sprintf("unsupported value %q", s.TLS.ClientAuth))
	}
	switch s.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		v.addError("server.tls.minVersion", fmt.Sprintf("unsupported TLS version %q", s.TLS.MinVersion))
	}
}

func (v *Validator) validateSecurity(s *SecurityConfig) {
	for i, prefix := range s.PublicPaths.Prefixes {
		if !strings.HasPrefix(prefix, "/") {
			v.addError(fmt.Sprintf("security.publicPaths.prefixes[%d]", i), "prefix must start with /")
		}
	}

	v.validateAbsoluteURL("security.jwt.jwksUrl", s.JWT.JWKSURL, true)
	if len(s.JWT.Algorithms) == 0 {
		v.addError("security.jwt.algorithms", "at least one algorithm is required")
	}
	for i, alg := range s.JWT.Algorithms {
		if strings.HasPrefix(strings.ToUpper(alg), "HS") || strings.EqualFold(alg, "none") {
			v.addError(fmt.Sprintf("security.jwt.algorithms[%d]", i),
				fmt.Sprintf("algorithm %q is not allowed with a public key set", alg))
		}
	}
	if s.JWT.ClockSkew < 0 {
		v.addError("security.jwt.clockSkew", "must not be negative")
	}
	if s.JWT.CacheTTL <= 0 {
		v.addError("security.jwt.cacheTTL", "must be positive")
	}
	if s.JWT.FetchTimeout <= 0 {
		v.addError("security.jwt.fetchTimeout", "must be positive")
	}

	if s.Roles.RealmRole == "" {
		v.addError("security.roles.realmRole", "realmRole is required")
	}
	if s.Roles.ClientID == "" {
		v.addError("security.roles.clientId", "clientId is required")
	}
	if s.Roles.ClientRole == "" {
		v.addError("security.roles.clientRole", "clientRole is required")
	}
}

func (v *Validator) validateUpstream(u *UpstreamConfig) {
	if u.BaseURL != "" {
		v.validateAbsoluteURL("upstream.baseUrl", u.BaseURL, false)
	}
	if u.ConnectTimeout <= 0 {
		v.addError("upstream.connectTimeout", "must be positive")
	}
	if u.ReadTimeout <= 0 {
		v.addError("upstream.readTimeout", "must be positive")
	}
	if u.MaxConnsPerRoute <= 0 {
		v.addError("upstream.maxConnsPerRoute", "must be positive")
	}
	if u.MaxConnsTotal <= 0 {
		v.addError("upstream.maxConnsTotal", "must be positive")
	}
	if u.MaxConnsTotal > 0 && u.MaxConnsPerRoute > u.MaxConnsTotal {
		v.addError("upstream.maxConnsPerRoute", "must not exceed maxConnsTotal")
	}
	if (u.TLS.CertFile == "") != (u.TLS.KeyFile == "") {
		v.addError("upstream.tls", "certFile and keyFile must be set together")
	}
	if u.CircuitBreaker.Enabled && u.CircuitBreaker.FailureThreshold == 0 {
		v.addError("upstream.circuitBreaker.failureThreshold", "must be positive when enabled")
	}
}

func (v *Validator) validateCache(c *CacheConfig) {
	switch c.Type {
	case "", CacheTypeNone, CacheTypeMemory:
	case CacheTypeRedis:
		if c.Redis.Address == "" {
			v.addError("cache.redis.address", "address is required for the redis cache")
		}
		if c.Redis.DB < 0 {
			v.addError("cache.redis.db", "must not be negative")
		}
	default:
		v.addError("cache.type", fmt.Sprintf("unsupported cache type %q", c.Type))
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	switch strings.ToLower(o.Logging.Format) {
	case "", "json", "console":
	default:
		v.addError("observability.logging.format", fmt.Sprintf("unsupported format %q", o.Logging.Format))
	}
	if o.Metrics.Enabled {
		if o.Metrics.Address == "" {
			v.addError("observability.metrics.address", "address is required when metrics are enabled")
		}
		if !strings.HasPrefix(o.Metrics.Path, "/") {
			v.addError("observability.metrics.path", "path must start with /")
		}
	}
	if o.Tracing.Enabled && o.Tracing.Endpoint == "" {
		v.addError("observability.tracing.endpoint", "endpoint is required when tracing is enabled")
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.samplingRate", "must be between 0 and 1")
	}
}

func (v *Validator) validateAbsoluteURL(path, raw string, required bool) {
	if raw == "" {
		if required {
			v.addError(path, "URL is required")
		}
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError(path, "URL scheme must be http or https")
	}
	if u.Host == "" {
		v.addError(path, "URL host is required")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
