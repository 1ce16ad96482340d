package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidWithSecret(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "defaults carry no auth secret")

	cfg.Auth.Secret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Auth.Secret = "s3cret"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil redis", func(c *Config) { c.Redis = nil }},
		{"zero redis timeout", func(c *Config) { c.Redis.Timeout = 0 }},
		{"nil http", func(c *Config) { c.HTTP = nil }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"empty secret", func(c *Config) { c.Auth.Secret = "" }},
		{"zero history limit", func(c *Config) { c.Chat.HistoryLimit = 0 }},
		{"zero edit window", func(c *Config) { c.Chat.EditWindow = 0 }},
		{"zero session ttl", func(c *Config) { c.Collab.SessionTTL = 0 }},
		{"zero stream top n", func(c *Config) { c.Leaderboard.StreamTopN = 0 }},
		{"zero backlog", func(c *Config) { c.Notify.BacklogLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CODESYNC_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CODESYNC_HTTP_PORT", "9090")
	t.Setenv("CODESYNC_AUTH_SECRET", "env-secret")
	t.Setenv("CODESYNC_CHAT_EDIT_WINDOW", "10m")
	t.Setenv("CODESYNC_LEADERBOARD_STREAM_INTERVAL", "30s")

	cfg := LoadFromEnv()
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, 10*time.Minute, cfg.Chat.EditWindow)
	assert.Equal(t, 30*time.Second, cfg.Leaderboard.StreamInterval)

	// Untouched settings keep their defaults.
	assert.Equal(t, 200, cfg.Chat.HistoryLimit)
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CODESYNC_HTTP_PORT", "not-a-number")
	t.Setenv("CODESYNC_CHAT_RETENTION", "soon")

	cfg := LoadFromEnv()
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 24*time.Hour, cfg.Chat.Retention)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"redis": {"addr": "file.redis:6379", "timeout": "2s"},
		"http": {"port": 8888},
		"auth": {"secret": "file-secret"},
		"chat": {"history_limit": 50, "edit_window": "2m"},
		"notify": {"backlog_limit": 10, "retention": "48h"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file.redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Redis.Timeout)
	assert.Equal(t, 8888, cfg.HTTP.Port)
	assert.Equal(t, "file-secret", cfg.Auth.Secret)
	assert.Equal(t, 50, cfg.Chat.HistoryLimit)
	assert.Equal(t, 2*time.Minute, cfg.Chat.EditWindow)
	assert.Equal(t, 10, cfg.Notify.BacklogLimit)
	assert.Equal(t, 48*time.Hour, cfg.Notify.Retention)

	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval, "unset sections keep defaults")
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile("/no/such/file.json")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CODESYNC_HTTP_PORT", "9999")

	// No file: environment over defaults.
	cfg := LoadConfigWithPrecedence("")
	assert.Equal(t, 9999, cfg.HTTP.Port)

	// Valid file wins over environment.
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http": {"port": 7777}, "auth": {"secret": "s"}}`), 0o644))
	cfg = LoadConfigWithPrecedence(path)
	assert.Equal(t, 7777, cfg.HTTP.Port)

	// Unreadable file falls back to environment.
	cfg = LoadConfigWithPrecedence("/no/such/file.json")
	assert.Equal(t, 9999, cfg.HTTP.Port)
}
