// Package config loads the support chat server configuration from an optional
// YAML file and SUPPORT_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/libnamic/support-chat/internal/logging"
)

// EnvPrefix is prepended to every environment variable, with dots in keys
// replaced by underscores: SUPPORT_AUTH_JWT_SECRET sets auth.jwt_secret.
const EnvPrefix = "SUPPORT"

type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
	Heartbeat  HeartbeatConfig
	Chat       ChatConfig
	Auth       AuthConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig `mapstructure:"nats"`
	Moderation ModerationConfig
	Log        logging.Config
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ChatConfig controls room retention. Zero values keep every message and
// every room for the life of the process.
type ChatConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	IdleEviction    time.Duration `mapstructure:"idle_eviction"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// DatabaseConfig points at the shop database. When DSN is empty identities
// come from token claims alone.
type DatabaseConfig struct {
	DSN string
}

// RedisConfig enables customer blocks and rate limiting when Address is set.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NATSConfig enables the room event feed when URL is set.
type NATSConfig struct {
	URL string
}

type ModerationConfig struct {
	Enabled        bool
	ScreenContacts bool `mapstructure:"screen_contacts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.read_timeout", "0s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("heartbeat.timeout", "10s")
	v.SetDefault("chat.history_limit", 0)
	v.SetDefault("chat.idle_eviction", "0s")
	v.SetDefault("chat.janitor_interval", "1m")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "")
	v.SetDefault("moderation.enabled", true)
	v.SetDefault("moderation.screen_contacts", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "support-chat")
}

// Load reads configuration. If file is empty, config.yaml is looked up in the
// working directory and ./config; a missing file is not an error. The result
// is not validated; call Validate before use.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first setting that would keep the server from running.
func (c *Config) Validate() error {
	switch {
	case c.Auth.JWTSecret == "":
		return errors.New("config: auth.jwt_secret is required")
	case c.Server.ListenAddr == "":
		return errors.New("config: server.listen_addr is required")
	case c.Server.MaxConnections < 0:
		return fmt.Errorf("config: server.max_connections must not be negative, got %d", c.Server.MaxConnections)
	case c.WebSocket.MaxMessageSize <= 0:
		return fmt.Errorf("config: websocket.max_message_size must be positive, got %d", c.WebSocket.MaxMessageSize)
	case c.WebSocket.WriteTimeout < 0 || c.WebSocket.ReadTimeout < 0:
		return errors.New("config: websocket timeouts must not be negative")
	case c.Chat.HistoryLimit < 0:
		return fmt.Errorf("config: chat.history_limit must not be negative, got %d", c.Chat.HistoryLimit)
	case c.Chat.IdleEviction < 0:
		return errors.New("config: chat.idle_eviction must not be negative")
	case c.Chat.IdleEviction > 0 && c.Chat.JanitorInterval <= 0:
		return errors.New("config: chat.janitor_interval must be positive when idle eviction is enabled")
	case c.Heartbeat.Interval < 0 || c.Heartbeat.Timeout < 0:
		return errors.New("config: heartbeat durations must not be negative")
	}
	return nil
}
