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

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 10000, cfg.Server.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteTimeout)
	assert.Equal(t, time.Duration(0), cfg.WebSocket.ReadTimeout)
	assert.EqualValues(t, 16384, cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 0, cfg.Chat.HistoryLimit)
	assert.Equal(t, time.Duration(0), cfg.Chat.IdleEviction)
	assert.Equal(t, time.Minute, cfg.Chat.JanitorInterval)
	assert.True(t, cfg.Moderation.Enabled)
	assert.False(t, cfg.Moderation.ScreenContacts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Redis.Address)
	assert.Empty(t, cfg.NATS.URL)

	assert.Error(t, cfg.Validate(), "missing secret must fail validation")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "support.yaml")
	yaml := `
server:
  listen_addr: ":9090"
chat:
  history_limit: 200
  idle_eviction: 2h
redis:
  address: localhost:6379
`
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))

	t.Setenv("SUPPORT_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("SUPPORT_SERVER_LISTEN_ADDR", ":7070")
	t.Setenv("SUPPORT_MODERATION_SCREEN_CONTACTS", "true")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr, "environment overrides file")
	assert.Equal(t, 200, cfg.Chat.HistoryLimit)
	assert.Equal(t, 2*time.Hour, cfg.Chat.IdleEviction)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Moderation.ScreenContacts)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{ListenAddr: ":8080", MaxConnections: 10},
			WebSocket: WebSocketConfig{WriteTimeout: time.Second, MaxMessageSize: 4096},
			Chat:      ChatConfig{JanitorInterval: time.Minute},
			Auth:      AuthConfig{JWTSecret: "x"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"no listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }},
		{"zero message size", func(c *Config) { c.WebSocket.MaxMessageSize = 0 }},
		{"negative write timeout", func(c *Config) { c.WebSocket.WriteTimeout = -time.Second }},
		{"negative history limit", func(c *Config) { c.Chat.HistoryLimit = -5 }},
		{"eviction without janitor", func(c *Config) {
			c.Chat.IdleEviction = time.Hour
			c.Chat.JanitorInterval = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
