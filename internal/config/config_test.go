package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Manager.MaxActive)
	assert.Equal(t, 45*time.Second, cfg.Manager.StopGrace)
	assert.Greater(t, cfg.Manager.StopGrace, cfg.Worker.RequestTimeout)
	assert.Equal(t, 3, cfg.Worker.MaxConsecutiveFailures)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, []string{"coinbase", "coingecko", "binance"}, cfg.MarketData.Sources)
	assert.InDelta(t, 0.2, cfg.AI.Temperature, 1e-9)
	assert.EqualValues(t, 800, cfg.AI.MaxTokens)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("AIT_AI_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("AIT_MANAGER_MAX_ACTIVE", "3")

	cfg, err := Load("", true)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.AI.Anthropic.APIKey)
	assert.Equal(t, 3, cfg.Manager.MaxActive)
}

func TestLoad_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  driver: postgres
  dsn: postgres://localhost/aitrader
notify:
  channels: [discord, webhook]
  webhook:
    url: https://example.test/hook
`), 0o600))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, []string{"discord", "webhook"}, cfg.Notify.Channels)
	assert.Equal(t, "https://example.test/hook", cfg.Notify.Webhook.URL)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.Error(t, err)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Manager.MaxActive)
	assert.Equal(t, []string{"telegram", "discord", "webhook"}, cfg.Notify.Channels)
	assert.Equal(t, "@every 10s", cfg.Cron.HeartbeatSweep)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_RejectsGraceShorterThanRequestTimeout(t *testing.T) {
	t.Setenv("AIT_MANAGER_STOP_GRACE", "15s")
	t.Setenv("AIT_WORKER_REQUEST_TIMEOUT", "30s")

	_, err := Load("", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "stop_grace")
}

func TestLoad_RejectsHeartbeatTimeoutShorterThanRequestTimeout(t *testing.T) {
	t.Setenv("AIT_MANAGER_HEARTBEAT_TIMEOUT", "20s")

	_, err := Load("", true)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "heartbeat_timeout")
}
