package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database":{"driver":"sqlite","dsn":"file::memory:"},"chat":{"bus":"redis"}}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Chat.Bus)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2000, cfg.Chat.MaxMessageRunes)
	assert.Equal(t, 3*time.Second, cfg.Chat.PollInterval())
	assert.Equal(t, 5, cfg.Chat.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Chat.Reconnect.BaseDelay())
	assert.Equal(t, "support.room.events", cfg.Kafka.Topic)
}

func TestLoadConfigUsesEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"addr":":9999"}}`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigExample(t *testing.T) {
	cfg, err := LoadConfig("config.example.json")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Chat.Bus)
	assert.True(t, cfg.Chat.RateLimit.Enabled)
}

func TestLockTTLCoversReplyTimeout(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 10*time.Second, cfg.Chat.LockTTL())

	cfg.Chat.ReplyTimeoutMS = 8000
	assert.Equal(t, 16*time.Second, cfg.Chat.LockTTL())
	assert.Greater(t, cfg.Chat.LockTTL(), cfg.Chat.ReplyTimeout())
}
