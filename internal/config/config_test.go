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
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.Hold.TTL)
	assert.Equal(t, 20*time.Second, cfg.Hold.HeartbeatInterval)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.address())
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Hold.TTL)
	assert.Equal(t, "cache:6380", cfg.Redis.address())
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.TTL)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\nhold:\n  ttl: 45s\ndb:\n  driver: sqlite\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.Hold.TTL)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load("")
	assert.Error(t, err)
}
