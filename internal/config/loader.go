// Package config provides centralized configuration management for the
// gateway. Configuration is layered: built-in defaults, then an optional
// YAML file, then MESHGATE_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix for overrides, e.g.
// MESHGATE_SERVER_PORT maps to server.port.
const EnvPrefix = "MESHGATE"

// Load reads configuration from the optional cfgFile plus environment
// overrides and returns the validated Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("runtime.mode", "development")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("store.db", 0)

	v.SetDefault("rate_limit.default_limit", 100)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.sensitive_limit", 20)
	v.SetDefault("rate_limit.sensitive_prefixes", []string{"/oauth", "/admin"})
	v.SetDefault("rate_limit.elevated_limit", 500)
	v.SetDefault("rate_limit.elevated_roles", []string{"premium"})
	v.SetDefault("rate_limit.whitelist_ips", []string{})
	v.SetDefault("rate_limit.penalty_multiplier", 10)
	v.SetDefault("rate_limit.penalty_duration", "10m")
	v.SetDefault("rate_limit.high_load_threshold", 0.8)
	v.SetDefault("rate_limit.load_capacity", 256)
	v.SetDefault("rate_limit.fallback_rps", 50.0)
	v.SetDefault("rate_limit.fallback_burst", 100)

	v.SetDefault("token.issuer", "meshgate")
	v.SetDefault("token.audience", "meshgate-clients")
	v.SetDefault("token.key_dir", "keys")
	v.SetDefault("token.ttl", "1h")

	v.SetDefault("oauth2.access_token_ttl", "1h")
	v.SetDefault("oauth2.refresh_token_ttl", "720h")
	v.SetDefault("oauth2.code_ttl", "5m")

	v.SetDefault("mesh.flavor", "istio")
	v.SetDefault("mesh.local_service", "meshgate")
	v.SetDefault("mesh.call_timeout", "10s")
	v.SetDefault("mesh.health_timeout", "5s")
	v.SetDefault("mesh.breaker.failure_threshold", 5)
	v.SetDefault("mesh.breaker.cooldown", "30s")

	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
}

// Validate checks invariants the rest of the gateway depends on.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	switch c.Runtime.Mode {
	case "production", "development":
	default:
		return fmt.Errorf("config: invalid runtime mode %q", c.Runtime.Mode)
	}

	if c.RateLimit.DefaultLimit <= 0 {
		return fmt.Errorf("config: rate_limit.default_limit must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate_limit.window must be positive")
	}
	if c.RateLimit.SensitiveLimit >= c.RateLimit.DefaultLimit {
		return fmt.Errorf("config: rate_limit.sensitive_limit must be below default_limit")
	}
	if c.RateLimit.ElevatedLimit <= c.RateLimit.DefaultLimit {
		return fmt.Errorf("config: rate_limit.elevated_limit must exceed default_limit")
	}
	if c.RateLimit.PenaltyMultiplier < 2 {
		return fmt.Errorf("config: rate_limit.penalty_multiplier must be at least 2")
	}
	if c.RateLimit.HighLoadThreshold <= 0 || c.RateLimit.HighLoadThreshold >= 1 {
		return fmt.Errorf("config: rate_limit.high_load_threshold must be in (0, 1)")
	}
	if c.RateLimit.LoadCapacity < 0 {
		return fmt.Errorf("config: rate_limit.load_capacity must not be negative")
	}

	if c.Token.TTL <= 0 {
		return fmt.Errorf("config: token.ttl must be positive")
	}

	switch c.Mesh.Flavor {
	case "istio", "linkerd":
	default:
		return fmt.Errorf("config: invalid mesh flavor %q", c.Mesh.Flavor)
	}
	if c.Mesh.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: mesh.breaker.failure_threshold must be positive")
	}
	if c.Mesh.Breaker.Cooldown <= 0 {
		return fmt.Errorf("config: mesh.breaker.cooldown must be positive")
	}

	for _, svc := range c.Mesh.Services {
		if svc.ID == "" {
			return fmt.Errorf("config: mesh service missing id")
		}
		if len(svc.Endpoints) == 0 {
			return fmt.Errorf("config: mesh service %s has no endpoints", svc.ID)
		}
	}

	return nil
}
