package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Runtime.Mode)
	assert.False(t, cfg.Runtime.Production())
	assert.Equal(t, 100, cfg.RateLimit.DefaultLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Less(t, cfg.RateLimit.SensitiveLimit, cfg.RateLimit.DefaultLimit)
	assert.Greater(t, cfg.RateLimit.ElevatedLimit, cfg.RateLimit.DefaultLimit)
	assert.Equal(t, "istio", cfg.Mesh.Flavor)
	assert.Equal(t, 5, cfg.Mesh.Breaker.FailureThreshold)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshgate.yaml")

	content := `
server:
  port: 9000
runtime:
  mode: production
rate_limit:
  default_limit: 200
  sensitive_limit: 10
  elevated_limit: 400
mesh:
  flavor: linkerd
  services:
    - id: user-service
      name: User Service
      endpoints:
        - http://user-service:8080
      health_path: /health
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Runtime.Production())
	assert.Equal(t, 200, cfg.RateLimit.DefaultLimit)
	assert.Equal(t, "linkerd", cfg.Mesh.Flavor)
	require.Len(t, cfg.Mesh.Services, 1)
	assert.Equal(t, "user-service", cfg.Mesh.Services[0].ID)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MESHGATE_SERVER_PORT", "7070")
	t.Setenv("MESHGATE_RUNTIME_MODE", "production")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Runtime.Production())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid runtime mode", func(c *Config) { c.Runtime.Mode = "staging" }},
		{"zero default limit", func(c *Config) { c.RateLimit.DefaultLimit = 0 }},
		{"sensitive not below default", func(c *Config) { c.RateLimit.SensitiveLimit = c.RateLimit.DefaultLimit }},
		{"elevated not above default", func(c *Config) { c.RateLimit.ElevatedLimit = c.RateLimit.DefaultLimit }},
		{"invalid mesh flavor", func(c *Config) { c.Mesh.Flavor = "consul" }},
		{"load threshold out of range", func(c *Config) { c.RateLimit.HighLoadThreshold = 1.5 }},
		{"service without endpoints", func(c *Config) {
			c.Mesh.Services = []ServiceConfig{{ID: "svc"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
