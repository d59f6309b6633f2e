package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sha256", cfg.Signing.Algorithm)
	assert.Equal(t, 30*24*time.Hour, cfg.Signing.MaxAge())
	assert.Equal(t, "/track/open", cfg.Tracking.PixelEndpoint)
	assert.Equal(t, "/track/click", cfg.Tracking.ClickEndpoint)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.False(t, cfg.Redis.Enabled)

	// Defaults deliberately carry no secret
	assert.Empty(t, cfg.Signing.Secret)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
signing:
  secret: test-secret
  max_age_seconds: 3600
tracking:
  base_url: https://track.example.com
storage:
  type: postgres
  database_url: postgres://localhost/insights
redis:
  enabled: true
  addr: redis.internal:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test-secret", cfg.Signing.Secret)
	assert.Equal(t, time.Hour, cfg.Signing.MaxAge())
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)

	// Unset fields still get defaults
	assert.Equal(t, "sha256", cfg.Signing.Algorithm)
	assert.Equal(t, "/track/open", cfg.Tracking.PixelEndpoint)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("TRACKING_SIGNING_SECRET", "env-secret")
	t.Setenv("TRACKING_BASE_URL", "https://env.example.com")
	t.Setenv("TRACKING_TOKEN_MAX_AGE", "7200")
	t.Setenv("DATABASE_URL", "postgres://db.internal/insights")
	t.Setenv("REDIS_ADDR", "redis.env:6379")
	t.Setenv("SERVER_PORT", "3000")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Signing.Secret)
	assert.Equal(t, "https://env.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, 2*time.Hour, cfg.Signing.MaxAge())
	assert.Equal(t, 3000, cfg.Server.Port)

	// DATABASE_URL implies the postgres backend
	assert.Equal(t, "postgres", cfg.Storage.Type)
	// REDIS_ADDR implies redis assignments
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadFromEnvIgnoresBadNumbers(t *testing.T) {
	t.Setenv("TRACKING_TOKEN_MAX_AGE", "not-a-number")
	t.Setenv("SERVER_PORT", "also-not")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cfg.Signing.MaxAge())
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateFailsClosed(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSigningSecret)

	cfg.Signing.Secret = "s3cret"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingBaseURL)

	cfg.Tracking.BaseURL = "https://track.example.com"
	assert.NoError(t, cfg.Validate())
}
