package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 10000, cfg.Cache.Users.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Users.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.Settings.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Conversations.TTL)
	assert.Equal(t, 100, cfg.RateLimit.API.MaxRequests)
	assert.Equal(t, 10, cfg.RateLimit.Model.MaxRequests)
	assert.Equal(t, 10, cfg.RateLimit.Auth.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.CleanupInterval)
	assert.False(t, cfg.Telegram.Enabled)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
storage:
  type: sqlite
  sqlite:
    path: /tmp/x.db
rate_limit:
  model:
    max_requests: 3
    window: 30s
cache:
  users:
    ttl: 1m
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 3, cfg.RateLimit.Model.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Model.Window)
	assert.Equal(t, time.Minute, cfg.Cache.Users.TTL)
	assert.Equal(t, 10000, cfg.Cache.Users.MaxSize)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "secret")
	t.Setenv("AETHER_SERVER_PORT", "7000")
	t.Setenv("REDIS_HOST", "cache.internal")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Model.APIKey)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "cache.internal:6379", cfg.Storage.Redis.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad storage", "storage:\n  type: postgres\n"},
		{"telegram without token", "telegram:\n  enabled: true\n"},
		{"zero cache size", "cache:\n  settings:\n    max_size: 0\n"},
		{"zero limit", "rate_limit:\n  auth:\n    max_requests: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
