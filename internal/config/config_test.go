package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := validateConfig(GetDefaults()); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "bad detection mode",
			mutate:  func(c *Config) { c.Detection.Hybrid.Mode = "regex" },
			wantErr: "invalid detection mode",
		},
		{
			name:    "bad merge policy",
			mutate:  func(c *Config) { c.Detection.Hybrid.MergePolicy = "coin-flip" },
			wantErr: "merge policy",
		},
		{
			name:    "bad placeholder format",
			mutate:  func(c *Config) { c.Session.PlaceholderFormat = "roman" },
			wantErr: "invalid placeholder format",
		},
		{
			name:    "zero session ttl",
			mutate:  func(c *Config) { c.Session.TTL = 0 },
			wantErr: "session ttl",
		},
		{
			name:    "bad vault backend",
			mutate:  func(c *Config) { c.Vault.Backend = "sqlite" },
			wantErr: "invalid vault backend",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("session ttl = %v", cfg.Session.TTL)
	}
	if cfg.Vault.Backend != "memory" {
		t.Errorf("vault backend = %q", cfg.Vault.Backend)
	}
	if cfg.Detection.Model.Enabled {
		t.Error("model detection should default to disabled")
	}
}
