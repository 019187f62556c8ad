// Package config loads Courier's configuration from a JSON file of
// structured defaults, then lets environment variables override it.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

const defaultConfigJSON = `{
  "server": {
    "host": "0.0.0.0",
    "port": 8080
  },
  "channels": [],
  "heartbeat_interval_seconds": 30,
  "max_clients_per_channel": 0,
  "auth": {
    "require_auth": false,
    "jwt_secret": "change-me-in-production",
    "jwt_algorithm": "HS256"
  },
  "shutdown": {
    "timeout_seconds": 30,
    "grace_period_seconds": 5
  },
  "rate_limit": {
    "enabled": true,
    "publish_requests_per_window": 100,
    "websocket_connections_per_window": 10,
    "window_seconds": 60,
    "conn_guard_global_rate": 50,
    "conn_guard_global_burst": 300,
    "conn_guard_ip_rate": 1,
    "conn_guard_ip_burst": 10,
    "conn_guard_ip_ttl_seconds": 300
  },
  "message": {
    "max_message_size": 1048576,
    "max_string_length": 10000,
    "max_array_size": 1000
  },
  "log": {
    "level": "info",
    "format": "json"
  },
  "metrics": {
    "enabled": true,
    "path": "/metrics",
    "update_interval_seconds": 1
  }
}`

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type AuthConfig struct {
	RequireAuth  bool   `json:"require_auth"`
	JWTSecret    string `json:"jwt_secret"`
	JWTAlgorithm string `json:"jwt_algorithm"`
}

type ShutdownConfig struct {
	TimeoutSeconds     int `json:"timeout_seconds"`
	GracePeriodSeconds int `json:"grace_period_seconds"`
}

type RateLimitConfig struct {
	Enabled                       bool    `json:"enabled"`
	PublishRequestsPerWindow      int     `json:"publish_requests_per_window"`
	WebSocketConnectionsPerWindow int     `json:"websocket_connections_per_window"`
	WindowSeconds                 int     `json:"window_seconds"`
	ConnGuardGlobalRate           float64 `json:"conn_guard_global_rate"`
	ConnGuardGlobalBurst          int     `json:"conn_guard_global_burst"`
	ConnGuardIPRate               float64 `json:"conn_guard_ip_rate"`
	ConnGuardIPBurst              int     `json:"conn_guard_ip_burst"`
	ConnGuardIPTTLSeconds         int     `json:"conn_guard_ip_ttl_seconds"`
}

type MessageConfig struct {
	MaxMessageSize  int `json:"max_message_size"`
	MaxStringLength int `json:"max_string_length"`
	MaxArraySize    int `json:"max_array_size"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MetricsConfig struct {
	Enabled               bool   `json:"enabled"`
	Path                  string `json:"path"`
	UpdateIntervalSeconds int    `json:"update_interval_seconds"`
}

// Config is the full recognized configuration surface.
type Config struct {
	Server                   ServerConfig    `json:"server"`
	Channels                 []string        `json:"channels"`
	HeartbeatIntervalSeconds int             `json:"heartbeat_interval_seconds"`
	MaxClientsPerChannel     int             `json:"max_clients_per_channel"`
	Auth                     AuthConfig      `json:"auth"`
	Shutdown                 ShutdownConfig  `json:"shutdown"`
	RateLimit                RateLimitConfig `json:"rate_limit"`
	Message                  MessageConfig   `json:"message"`
	Log                      LogConfig       `json:"log"`
	Metrics                  MetricsConfig   `json:"metrics"`
}

// envOverrides mirrors the subset of Config that operators commonly need
// to set per-deployment without editing the JSON file. caarlos0/env parses
// these from the process environment by struct tag.
type envOverrides struct {
	Host             string `env:"COURIER_HOST"`
	Port             int    `env:"COURIER_PORT"`
	JWTSecret        string `env:"COURIER_JWT_SECRET"`
	RequireAuth      *bool  `env:"COURIER_REQUIRE_AUTH"`
	LogLevel         string `env:"COURIER_LOG_LEVEL"`
	MetricsEnabled   *bool  `env:"COURIER_METRICS_ENABLED"`
	RateLimitEnabled *bool  `env:"COURIER_RATE_LIMIT_ENABLED"`
}

// Load reads configPath if non-empty, otherwise the built-in defaults,
// then applies environment variable overrides.
func Load(configPath string) (*Config, error) {
	var raw []byte
	var err error
	if configPath != "" {
		raw, err = os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		raw = []byte(defaultConfigJSON)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}
	applyOverrides(&cfg, overrides)

	return &cfg, nil
}

func applyOverrides(cfg *Config, o envOverrides) {
	if o.Host != "" {
		cfg.Server.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	if o.RequireAuth != nil {
		cfg.Auth.RequireAuth = *o.RequireAuth
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *o.MetricsEnabled
	}
	if o.RateLimitEnabled != nil {
		cfg.RateLimit.Enabled = *o.RateLimitEnabled
	}
}
