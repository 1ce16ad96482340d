package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings for a codesync instance.
type Config struct {
	Redis       *RedisConfig       `json:"redis"`
	HTTP        *HTTPConfig        `json:"http"`
	WebSocket   *WebSocketConfig   `json:"websocket"`
	Auth        *AuthConfig        `json:"auth"`
	Chat        *ChatConfig        `json:"chat"`
	Collab      *CollabConfig      `json:"collab"`
	Leaderboard *LeaderboardConfig `json:"leaderboard"`
	Notify      *NotifyConfig      `json:"notify"`
}

// RedisConfig selects the shared-state backend. An empty Addr runs the
// instance on the in-process store, which is only correct for
// single-instance deployments.
type RedisConfig struct {
	Addr     string        `json:"addr"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	Timeout  time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	Secret string `json:"secret"`
}

type ChatConfig struct {
	HistoryLimit int           `json:"history_limit"`
	Retention    time.Duration `json:"retention"`
	EditWindow   time.Duration `json:"edit_window"`
	TypingTTL    time.Duration `json:"typing_ttl"`
}

type CollabConfig struct {
	SessionTTL time.Duration `json:"session_ttl"`
}

type LeaderboardConfig struct {
	StreamInterval time.Duration `json:"stream_interval"`
	StreamTopN     int           `json:"stream_top_n"`
}

type NotifyConfig struct {
	BacklogLimit int           `json:"backlog_limit"`
	Retention    time.Duration `json:"retention"`
}

// DefaultConfig returns production defaults: Redis on localhost, HTTP on
// 8080, 30s heartbeat, 24h chat retention with a 5 minute edit window.
func DefaultConfig() *Config {
	return &Config{
		Redis: &RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   256,
		},
		Auth: &AuthConfig{
			Secret: "",
		},
		Chat: &ChatConfig{
			HistoryLimit: 200,
			Retention:    24 * time.Hour,
			EditWindow:   5 * time.Minute,
			TypingTTL:    5 * time.Second,
		},
		Collab: &CollabConfig{
			SessionTTL: 12 * time.Hour,
		},
		Leaderboard: &LeaderboardConfig{
			StreamInterval: 10 * time.Second,
			StreamTopN:     50,
		},
		Notify: &NotifyConfig{
			BacklogLimit: 500,
			Retention:    72 * time.Hour,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}

	if c.Redis.Timeout <= 0 {
		return fmt.Errorf("redis timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}

	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat history limit must be positive")
	}

	if c.Chat.Retention <= 0 {
		return fmt.Errorf("chat retention must be positive")
	}

	if c.Chat.EditWindow <= 0 {
		return fmt.Errorf("chat edit window must be positive")
	}

	if c.Chat.TypingTTL <= 0 {
		return fmt.Errorf("chat typing TTL must be positive")
	}

	if c.Collab == nil {
		return fmt.Errorf("collab configuration is required")
	}

	if c.Collab.SessionTTL <= 0 {
		return fmt.Errorf("collab session TTL must be positive")
	}

	if c.Leaderboard == nil {
		return fmt.Errorf("leaderboard configuration is required")
	}

	if c.Leaderboard.StreamInterval <= 0 {
		return fmt.Errorf("leaderboard stream interval must be positive")
	}

	if c.Leaderboard.StreamTopN <= 0 {
		return fmt.Errorf("leaderboard stream top N must be positive")
	}

	if c.Notify == nil {
		return fmt.Errorf("notify configuration is required")
	}

	if c.Notify.BacklogLimit <= 0 {
		return fmt.Errorf("notify backlog limit must be positive")
	}

	if c.Notify.Retention <= 0 {
		return fmt.Errorf("notify retention must be positive")
	}

	return nil
}

// LoadFromEnv reads CODESYNC_* environment variables over defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if addr := os.Getenv("CODESYNC_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}

	if password := os.Getenv("CODESYNC_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}

	if db := os.Getenv("CODESYNC_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}

	if timeout := os.Getenv("CODESYNC_REDIS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Redis.Timeout = d
		}
	}

	if port := os.Getenv("CODESYNC_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("CODESYNC_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if readTimeout := os.Getenv("CODESYNC_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}

	if writeTimeout := os.Getenv("CODESYNC_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}

	if pingInterval := os.Getenv("CODESYNC_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if d, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = d
		}
	}

	if readTimeout := os.Getenv("CODESYNC_WEBSOCKET_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}

	if writeTimeout := os.Getenv("CODESYNC_WEBSOCKET_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}

	if bufferSize := os.Getenv("CODESYNC_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if secret := os.Getenv("CODESYNC_AUTH_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}

	if limit := os.Getenv("CODESYNC_CHAT_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Chat.HistoryLimit = n
		}
	}

	if retention := os.Getenv("CODESYNC_CHAT_RETENTION"); retention != "" {
		if d, err := time.ParseDuration(retention); err == nil {
			config.Chat.Retention = d
		}
	}

	if window := os.Getenv("CODESYNC_CHAT_EDIT_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Chat.EditWindow = d
		}
	}

	if ttl := os.Getenv("CODESYNC_CHAT_TYPING_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Chat.TypingTTL = d
		}
	}

	if ttl := os.Getenv("CODESYNC_COLLAB_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Collab.SessionTTL = d
		}
	}

	if interval := os.Getenv("CODESYNC_LEADERBOARD_STREAM_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Leaderboard.StreamInterval = d
		}
	}

	if topN := os.Getenv("CODESYNC_LEADERBOARD_STREAM_TOP_N"); topN != "" {
		if n, err := strconv.Atoi(topN); err == nil {
			config.Leaderboard.StreamTopN = n
		}
	}

	if limit := os.Getenv("CODESYNC_NOTIFY_BACKLOG_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Notify.BacklogLimit = n
		}
	}

	if retention := os.Getenv("CODESYNC_NOTIFY_RETENTION"); retention != "" {
		if d, err := time.ParseDuration(retention); err == nil {
			config.Notify.Retention = d
		}
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	Redis       *RedisConfigFile       `json:"redis"`
	HTTP        *HTTPConfigFile        `json:"http"`
	WebSocket   *WebSocketConfigFile   `json:"websocket"`
	Auth        *AuthConfig            `json:"auth"`
	Chat        *ChatConfigFile        `json:"chat"`
	Collab      *CollabConfigFile      `json:"collab"`
	Leaderboard *LeaderboardConfigFile `json:"leaderboard"`
	Notify      *NotifyConfigFile      `json:"notify"`
}

type RedisConfigFile struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Timeout  string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type ChatConfigFile struct {
	HistoryLimit int    `json:"history_limit"`
	Retention    string `json:"retention"`
	EditWindow   string `json:"edit_window"`
	TypingTTL    string `json:"typing_ttl"`
}

type CollabConfigFile struct {
	SessionTTL string `json:"session_ttl"`
}

type LeaderboardConfigFile struct {
	StreamInterval string `json:"stream_interval"`
	StreamTopN     int    `json:"stream_top_n"`
}

type NotifyConfigFile struct {
	BacklogLimit int    `json:"backlog_limit"`
	Retention    string `json:"retention"`
}

// LoadFromFile reads a JSON configuration file over defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Redis != nil {
		if configFile.Redis.Addr != "" {
			config.Redis.Addr = configFile.Redis.Addr
		}
		if configFile.Redis.Password != "" {
			config.Redis.Password = configFile.Redis.Password
		}
		if configFile.Redis.DB > 0 {
			config.Redis.DB = configFile.Redis.DB
		}
		if configFile.Redis.Timeout != "" {
			if d, err := time.ParseDuration(configFile.Redis.Timeout); err == nil {
				config.Redis.Timeout = d
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = d
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = d
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = d
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = d
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = d
			}
		}
	}

	if configFile.Auth != nil && configFile.Auth.Secret != "" {
		config.Auth.Secret = configFile.Auth.Secret
	}

	if configFile.Chat != nil {
		if configFile.Chat.HistoryLimit > 0 {
			config.Chat.HistoryLimit = configFile.Chat.HistoryLimit
		}
		if configFile.Chat.Retention != "" {
			if d, err := time.ParseDuration(configFile.Chat.Retention); err == nil {
				config.Chat.Retention = d
			}
		}
		if configFile.Chat.EditWindow != "" {
			if d, err := time.ParseDuration(configFile.Chat.EditWindow); err == nil {
				config.Chat.EditWindow = d
			}
		}
		if configFile.Chat.TypingTTL != "" {
			if d, err := time.ParseDuration(configFile.Chat.TypingTTL); err == nil {
				config.Chat.TypingTTL = d
			}
		}
	}

	if configFile.Collab != nil && configFile.Collab.SessionTTL != "" {
		if d, err := time.ParseDuration(configFile.Collab.SessionTTL); err == nil {
			config.Collab.SessionTTL = d
		}
	}

	if configFile.Leaderboard != nil {
		if configFile.Leaderboard.StreamTopN > 0 {
			config.Leaderboard.StreamTopN = configFile.Leaderboard.StreamTopN
		}
		if configFile.Leaderboard.StreamInterval != "" {
			if d, err := time.ParseDuration(configFile.Leaderboard.StreamInterval); err == nil {
				config.Leaderboard.StreamInterval = d
			}
		}
	}

	if configFile.Notify != nil {
		if configFile.Notify.BacklogLimit > 0 {
			config.Notify.BacklogLimit = configFile.Notify.BacklogLimit
		}
		if configFile.Notify.Retention != "" {
			if d, err := time.ParseDuration(configFile.Notify.Retention); err == nil {
				config.Notify.Retention = d
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment
// > defaults. File errors are ignored so environment and defaults still
// apply when no file is present.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
