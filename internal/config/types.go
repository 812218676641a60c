package config

import (
	"time"

	"github.com/veil-sh/veil/internal/detect/hybrid"
	"github.com/veil-sh/veil/internal/detect/model"
	"github.com/veil-sh/veil/internal/detect/pattern"
	"github.com/veil-sh/veil/internal/session"
	"github.com/veil-sh/veil/internal/vault"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	Session   session.Config  `yaml:"session" mapstructure:"session"`
	Vault     vault.Config    `yaml:"vault" mapstructure:"vault"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RateLimit    RateLimit     `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimit contains per-client request rate limiting settings
type RateLimit struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// RequestsPerSecond is the sustained per-client rate.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// DetectionConfig groups the three detector layers
type DetectionConfig struct {
	Pattern pattern.Config `yaml:"pattern" mapstructure:"pattern"`
	Model   model.Config   `yaml:"model" mapstructure:"model"`
	Hybrid  hybrid.Config  `yaml:"hybrid" mapstructure:"hybrid"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains the audit feed WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimit{
				Enabled:           true,
				RequestsPerSecond: 50,
				Burst:             100,
			},
		},
		Detection: DetectionConfig{
			Pattern: pattern.Config{
				Detectors: []string{"all"},
			},
			Model: model.Config{
				Enabled:             false,
				MaxSequenceLength:   256,
				ConfidenceThreshold: 0.5,
			},
			Hybrid: hybrid.Config{
				Mode:              hybrid.ModeHybrid,
				MergePolicy:       string(hybrid.PolicyHighestConfidence),
				FallbackToPattern: true,
			},
		},
		Session: session.Config{
			TTL:               time.Hour,
			Consistency:       true,
			PlaceholderFormat: session.FormatNumbered,
		},
		Vault: vault.Config{
			Backend:         "memory",
			TTL:             time.Hour,
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			WriteTimeout:    10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
	}
}
