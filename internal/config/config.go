package config

import (
	"time"
)

// Config represents the complete gateway configuration, assembled from
// defaults, an optional YAML file, and MESHGATE_* environment overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Runtime   RuntimeConfig   `mapstructure:"runtime" yaml:"runtime"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Token     TokenConfig     `mapstructure:"token" yaml:"token"`
	OAuth2    OAuth2Config    `mapstructure:"oauth2" yaml:"oauth2"`
	Mesh      MeshConfig      `mapstructure:"mesh" yaml:"mesh"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RuntimeConfig controls runtime-mode behavior such as error message
// sanitization.
type RuntimeConfig struct {
	// Mode is "production" or "development". Production mode never
	// surfaces internal error text to callers.
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// Production reports whether the gateway runs in production mode.
func (r RuntimeConfig) Production() bool {
	return r.Mode == "production"
}

// StoreConfig contains the shared Redis counter/cache store settings.
// The gateway still serves traffic when Enabled is false: rate limiting
// fails open and the OAuth2/JWT endpoints report the store unavailable.
type StoreConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// RateLimitConfig contains the adaptive rate limiter settings.
type RateLimitConfig struct {
	DefaultLimit      int           `mapstructure:"default_limit" yaml:"default_limit"`
	Window            time.Duration `mapstructure:"window" yaml:"window"`
	SensitiveLimit    int           `mapstructure:"sensitive_limit" yaml:"sensitive_limit"`
	SensitivePrefixes []string      `mapstructure:"sensitive_prefixes" yaml:"sensitive_prefixes"`
	ElevatedLimit     int           `mapstructure:"elevated_limit" yaml:"elevated_limit"`
	ElevatedRoles     []string      `mapstructure:"elevated_roles" yaml:"elevated_roles"`
	WhitelistIPs      []string      `mapstructure:"whitelist_ips" yaml:"whitelist_ips"`

	// PenaltyMultiplier is the abuse threshold: once the window count
	// exceeds limit*multiplier, a penalty marker short-circuits the key.
	PenaltyMultiplier int           `mapstructure:"penalty_multiplier" yaml:"penalty_multiplier"`
	PenaltyDuration   time.Duration `mapstructure:"penalty_duration" yaml:"penalty_duration"`

	// HighLoadThreshold (0..1) is the system-load level above which the
	// dynamic limiter starts shrinking effective limits.
	HighLoadThreshold float64 `mapstructure:"high_load_threshold" yaml:"high_load_threshold"`

	// LoadCapacity is the in-flight request count treated as full load by
	// the dynamic limiter. Zero disables load-aware limiting.
	LoadCapacity int `mapstructure:"load_capacity" yaml:"load_capacity"`

	// FallbackRPS/FallbackBurst bound the local token bucket used while
	// the shared store is unreachable, so fail-open keeps a ceiling.
	FallbackRPS   float64 `mapstructure:"fallback_rps" yaml:"fallback_rps"`
	FallbackBurst int     `mapstructure:"fallback_burst" yaml:"fallback_burst"`
}

// TokenConfig contains the JWT security provider settings.
type TokenConfig struct {
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	KeyDir   string        `mapstructure:"key_dir" yaml:"key_dir"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// OAuth2Config contains the OAuth2 provider lifetimes.
type OAuth2Config struct {
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	CodeTTL         time.Duration `mapstructure:"code_ttl" yaml:"code_ttl"`
}

// MeshConfig contains service mesh integration settings.
type MeshConfig struct {
	// Flavor selects the tracing header set: "istio" or "linkerd".
	Flavor string `mapstructure:"flavor" yaml:"flavor"`

	// LocalService names this gateway in Linkerd destination headers.
	LocalService string `mapstructure:"local_service" yaml:"local_service"`

	DiscoveryURL  string        `mapstructure:"discovery_url" yaml:"discovery_url"`
	CallTimeout   time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`

	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`

	// Services allows static registration from config in addition to
	// (or instead of) discovery.
	Services []ServiceConfig `mapstructure:"services" yaml:"services"`
}

// BreakerConfig contains circuit breaker tunables.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ServiceConfig statically registers one backend service.
type ServiceConfig struct {
	ID         string   `mapstructure:"id" yaml:"id"`
	Name       string   `mapstructure:"name" yaml:"name"`
	Version    string   `mapstructure:"version" yaml:"version"`
	Endpoints  []string `mapstructure:"endpoints" yaml:"endpoints"`
	HealthPath string   `mapstructure:"health_path" yaml:"health_path"`
}

// CORSConfig contains cross-origin settings for configured routes.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}
