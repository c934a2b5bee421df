package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Queue.LeaseTTL)
	assert.InDelta(t, 0.15, cfg.Dedup.MaxDistance, 1e-9)
	assert.True(t, cfg.Dedup.NumericOverride)
	assert.Equal(t, "neutral", cfg.AI.RewriteStyle)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "hermes.yaml")
	yaml := []byte("worker:\n  concurrency: 4\ncrawler:\n  navigation_timeout: 15s\ndedup:\n  max_distance: 0.2\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("HERMES_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 15*time.Second, cfg.Crawler.NavigationTimeout)
	assert.InDelta(t, 0.2, cfg.Dedup.MaxDistance, 1e-9)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.Store.PostgresDSN = "postgres://localhost/hermes"
	assert.NoError(t, cfg.Validate())

	cfg.Dedup.MaxDistance = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Queue.LeaseTTL = time.Second
	assert.Error(t, cfg.Validate())
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug"}.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = LoggingConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)
}
