package config

import "time"

// Cache store types.
const (
	CacheTypeNone   = "none"
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Client certificate policies for the inbound listener.
const (
	ClientAuthRequire = "require"
	ClientAuthRequest = "request"
	ClientAuthNone    = "none"
)

// Default values.
const (
	DefaultServiceName = "quotes-service"
	DefaultAddress     = ":8443"
	DefaultMetricsAddr = ":9090"
	DefaultMetricsPath = "/metrics"
	DefaultPublicPath  = "/r/quotes-service/"
	DefaultMaxBodySize = 10 << 20

	// DefaultHSTSMaxAge is the Strict-Transport-Security max-age.
	DefaultHSTSMaxAge = 365 * 24 * time.Hour

	DefaultRealmRole  = "gateway_admin_realm"
	DefaultClientID   = "linqra-gateway-client"
	DefaultClientRole = "gateway_admin"

	DefaultClockSkew          = 60 * time.Second
	DefaultJWKSCacheTTL       = time.Hour
	DefaultJWKSFetchTimeout   = 5 * time.Second
	DefaultMinRefreshInterval = 10 * time.Second
	DefaultNegativeCacheTTL   = 30 * time.Second

	DefaultConnectTimeout   = 10 * time.Second
	DefaultReadTimeout      = 30 * time.Second
	DefaultIdleConnTimeout  = 90 * time.Second
	DefaultMaxConnsPerRoute = 20
	DefaultMaxConnsTotal    = 100

	DefaultRedisKeyPrefix = "quotes:"
)

// DefaultAlgorithms is the signature algorithm allow-list applied when none is configured.
var DefaultAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384"}

// ServiceConfig is the root configuration of the quotes service.
type ServiceConfig struct {
	Service       ServiceInfo         `yaml:"service" json:"service"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServiceInfo identifies this service.
type ServiceInfo struct {
	Name        string `yaml:"name" json:"name"`
	Environment string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

// ServerConfig configures the inbound HTTPS listener.
type ServerConfig struct {
	Address           string          `yaml:"address" json:"address"`
	ReadTimeout       Duration        `yaml:"readTimeout" json:"readTimeout"`
	ReadHeaderTimeout Duration        `yaml:"readHeaderTimeout" json:"readHeaderTimeout"`
	WriteTimeout      Duration        `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout       Duration        `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout   Duration        `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxBodySize       int64           `yaml:"maxBodySize" json:"maxBodySize"`
	TrustedProxies    []string        `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
	HSTSMaxAge        Duration        `yaml:"hstsMaxAge" json:"hstsMaxAge"`
	TLS               ServerTLSConfig `yaml:"tls" json:"tls"`
}

// ServerTLSConfig configures TLS and client certificate verification.
type ServerTLSConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CertFile      string   `yaml:"certFile" json:"certFile"`
	KeyFile       string   `yaml:"keyFile" json:"keyFile"`
	ClientCAFile  string   `yaml:"clientCAFile" json:"clientCAFile"`
	ClientAuth    string   `yaml:"clientAuth" json:"clientAuth"`
	MinVersion    string   `yaml:"minVersion" json:"minVersion"`
	Watch         bool     `yaml:"watch" json:"watch"`
	DebounceDelay Duration `yaml:"debounceDelay" json:"debounceDelay"`
}

// SecurityConfig groups the inbound authentication and authorization settings.
type SecurityConfig struct {
	PublicPaths PublicPathsConfig `yaml:"publicPaths" json:"publicPaths"`
	JWT         JWTConfig         `yaml:"jwt" json:"jwt"`
	Roles       RolesConfig       `yaml:"roles" json:"roles"`
}

// PublicPathsConfig lists path prefixes that skip bearer-token checks.
type PublicPathsConfig struct {
	Prefixes                 []string `yaml:"prefixes" json:"prefixes"`
	RequireClientCertificate bool     `yaml:"requireClientCertificate" json:"requireClientCertificate"`
}

// JWTConfig configures bearer-token verification against a remote key set.
type JWTConfig struct {
	JWKSURL            string   `yaml:"jwksUrl" json:"jwksUrl"`
	Algorithms         []string `yaml:"algorithms" json:"algorithms"`
	ClockSkew          Duration `yaml:"clockSkew" json:"clockSkew"`
	CacheTTL           Duration `yaml:"cacheTTL" json:"cacheTTL"`
	FetchTimeout       Duration `yaml:"fetchTimeout" json:"fetchTimeout"`
	MinRefreshInterval Duration `yaml:"minRefreshInterval" json:"minRefreshInterval"`
	NegativeCacheTTL   Duration `yaml:"negativeCacheTTL" json:"negativeCacheTTL"`
	CAFile             string   `yaml:"caFile,omitempty" json:"caFile,omitempty"`
}

// RolesConfig names the roles a caller must hold.
type RolesConfig struct {
	RealmRole  string `yaml:"realmRole" json:"realmRole"`
	ClientID   string `yaml:"clientId" json:"clientId"`
	ClientRole string `yaml:"clientRole" json:"clientRole"`
}

// UpstreamConfig configures the outbound client to the API gateway.
type UpstreamConfig struct {
	BaseURL          string               `yaml:"baseUrl" json:"baseUrl"`
	ServiceName      string               `yaml:"serviceName" json:"serviceName"`
	ConnectTimeout   Duration             `yaml:"connectTimeout" json:"connectTimeout"`
	ReadTimeout      Duration             `yaml:"readTimeout" json:"readTimeout"`
	IdleConnTimeout  Duration             `yaml:"idleConnTimeout" json:"idleConnTimeout"`
	MaxConnsPerRoute int                  `yaml:"maxConnsPerRoute" json:"maxConnsPerRoute"`
	MaxConnsTotal    int                  `yaml:"maxConnsTotal" json:"maxConnsTotal"`
	TLS              UpstreamTLSConfig    `yaml:"tls" json:"tls"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// UpstreamTLSConfig configures TLS for outbound calls.
type UpstreamTLSConfig struct {
	CAFile             string `yaml:"caFile,omitempty" json:"caFile,omitempty"`
	CertFile           string `yaml:"certFile,omitempty" json:"certFile,omitempty"`
	KeyFile            string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty"`
}

// CircuitBreakerConfig configures the optional outbound circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	MaxRequests      uint32   `yaml:"maxRequests" json:"maxRequests"`
	Interval         Duration `yaml:"interval" json:"interval"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	FailureThreshold uint32   `yaml:"failureThreshold" json:"failureThreshold"`
}

// CacheConfig selects the shared store used for the key set document.
type CacheConfig struct {
	Type  string      `yaml:"type" json:"type"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Address     string   `yaml:"address" json:"address"`
	Username    string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string   `yaml:"password,omitempty" json:"-"`
	DB          int      `yaml:"db" json:"db"`
	KeyPrefix   string   `yaml:"keyPrefix" json:"keyPrefix"`
	DialTimeout Duration `yaml:"dialTimeout" json:"dialTimeout"`
	PoolSize    int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	TLS         bool     `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// ObservabilityConfig groups logging, metrics, and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Service: ServiceInfo{Name: DefaultServiceName},
		Server: ServerConfig{
			Address:           DefaultAddress,
			ReadTimeout:       Duration(30 * time.Second),
			ReadHeaderTimeout: Duration(10 * time.Second),
			WriteTimeout:      Duration(60 * time.Second),
			IdleTimeout:       Duration(120 * time.Second),
			ShutdownTimeout:   Duration(30 * time.Second),
			MaxBodySize:       DefaultMaxBodySize,
			HSTSMaxAge:        Duration(DefaultHSTSMaxAge),
			TLS: ServerTLSConfig{
				Enabled:       true,
				ClientAuth:    ClientAuthRequire,
				MinVersion:    "1.2",
				DebounceDelay: Duration(100 * time.Millisecond),
			},
		},
		Security: SecurityConfig{
			PublicPaths: PublicPathsConfig{
				Prefixes:                 []string{DefaultPublicPath},
				RequireClientCertificate: true,
			},
			JWT: JWTConfig{
				Algorithms:         append([]string(nil), DefaultAlgorithms...),
				ClockSkew:          Duration(DefaultClockSkew),
				CacheTTL:           Duration(DefaultJWKSCacheTTL),
				FetchTimeout:       Duration(DefaultJWKSFetchTimeout),
				MinRefreshInterval: Duration(DefaultMinRefreshInterval),
				NegativeCacheTTL:   Duration(DefaultNegativeCacheTTL),
			},
			Roles: RolesConfig{
				RealmRole:  DefaultRealmRole,
				ClientID:   DefaultClientID,
				ClientRole: DefaultClientRole,
			},
		},
		Upstream: UpstreamConfig{
			ServiceName:      DefaultServiceName,
			ConnectTimeout:   Duration(DefaultConnectTimeout),
			ReadTimeout:      Duration(DefaultReadTimeout),
			IdleConnTimeout:  Duration(DefaultIdleConnTimeout),
			MaxConnsPerRoute: DefaultMaxConnsPerRoute,
			MaxConnsTotal:    DefaultMaxConnsTotal,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      1,
				Interval:         Duration(60 * time.Second),
				Timeout:          Duration(30 * time.Second),
				FailureThreshold: 5,
			},
		},
		Cache: CacheConfig{
			Type: CacheTypeMemory,
			Redis: RedisConfig{
				Address:     "localhost:6379",
				KeyPrefix:   DefaultRedisKeyPrefix,
				DialTimeout: Duration(5 * time.Second),
			},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			Metrics: MetricsConfig{Enabled: true, Address: DefaultMetricsAddr, Path: DefaultMetricsPath},
			Tracing: TracingConfig{SamplingRate: 1.0, Insecure: true},
		},
	}
}

// EffectiveServiceName returns the name sent on outbound calls.
func (c *ServiceConfig) EffectiveServiceName() string {
	if c.Upstream.ServiceName != "" {
		return c.Upstream.ServiceName
	}
	if c.Service.Name != "" {
		return c.Service.Name
	}
	return DefaultServiceName
}
