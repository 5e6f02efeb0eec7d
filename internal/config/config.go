// Package config loads server configuration from an optional YAML file
// with environment overrides for the common deployment knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Limits   LimitsConfig   `yaml:"limits"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LimitsConfig tunes capture and retention behavior.
type LimitsConfig struct {
	// CreatePerMinute and CapturePerMinute are per-IP rate caps.
	CreatePerMinute  int `yaml:"create_per_minute"`
	CapturePerMinute int `yaml:"capture_per_minute"`
	// MaxBodyBytes caps a stored request body; anything beyond is
	// dropped and the record flagged truncated.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// RetainedRequests is the number of requests kept per endpoint.
	RetainedRequests int `yaml:"retained_requests"`
	// EndpointTTL is how long an endpoint lives past its last activity.
	EndpointTTL time.Duration `yaml:"endpoint_ttl"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Listen: ":8080"},
		Database: DatabaseConfig{Path: "webhookspy.db"},
		Logging:  LoggingConfig{Level: "info"},
		Metrics:  MetricsConfig{Enabled: true},
		Limits: LimitsConfig{
			CreatePerMinute:  10,
			CapturePerMinute: 100,
			MaxBodyBytes:     512 * 1024,
			RetainedRequests: 100,
			EndpointTTL:      7 * 24 * time.Hour,
		},
	}
}

// Load reads the config file named by CONFIG_PATH (default config.yaml).
// A missing file yields the defaults; a malformed one is an error. PORT
// and DATABASE_PATH env vars override the file for container use.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Listen = ":" + port
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	return cfg, nil
}
