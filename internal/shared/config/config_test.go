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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "memory", cfg.Audit.Backend)
	assert.Equal(t, 5*time.Second, cfg.Audit.WriteTimeout)
	assert.Equal(t, 5, cfg.Audit.MaxAttempts)
	assert.True(t, cfg.Seed.OnStartup)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("AUDIT_WRITE_TIMEOUT", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Audit.WriteTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platform.yaml")
	content := []byte("audit:\n  backend: postgres\n  max_attempts: 3\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Audit.Backend)
	assert.Equal(t, 3, cfg.Audit.MaxAttempts)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Env: "development"},
			Store:  StoreConfig{Backend: "memory"},
			Audit:  AuditConfig{Backend: "memory", WitnessType: "local", MaxAttempts: 3, WriteTimeout: time.Second},
			Auth:   AuthConfig{JWTSecret: "dev-secret-change-in-prod"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown store", func(c *Config) { c.Store.Backend = "mongo" }, true},
		{"kurrentdb audit without kurrentdb", func(c *Config) { c.Audit.Backend = "kurrentdb" }, true},
		{"tsa witness without tsa", func(c *Config) { c.Audit.WitnessType = "rfc3161_tsa" }, true},
		{"zero attempts", func(c *Config) { c.Audit.MaxAttempts = 0 }, true},
		{"his without institution", func(c *Config) { c.HIS.Enabled = true }, true},
		{"production with dev secret", func(c *Config) { c.Server.Env = "production" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
