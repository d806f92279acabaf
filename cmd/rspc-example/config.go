package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the serve configuration. Zero fields in the file keep their
// defaults.
type Config struct {
	Addr       string            `yaml:"addr"`
	Path       string            `yaml:"path"`
	SendBuffer int               `yaml:"sendBuffer"`
	Timeout    time.Duration     `yaml:"timeout"`
	RateLimit  RateLimitConfig   `yaml:"rateLimit"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Tokens     map[string]string `yaml:"tokens"`
}

// RateLimitConfig configures the per-connection token buckets.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	enabled := true
	return Config{
		Addr:       ":8080",
		Path:       "/rspc",
		SendBuffer: 64,
		Timeout:    10 * time.Second,
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
		Metrics: MetricsConfig{
			Enabled: &enabled,
			Path:    "/metrics",
		},
		Tokens: map[string]string{},
	}
}

// MetricsEnabled reports whether the metrics endpoint is served.
func (c Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// LoadConfig reads path and merges it over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	Merge(&cfg, parsed)
	return cfg, nil
}

// Merge copies the non-zero fields of src into dst.
func Merge(dst *Config, src Config) {
	if src.Addr != "" {
		dst.Addr = src.Addr
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.SendBuffer != 0 {
		dst.SendBuffer = src.SendBuffer
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.Metrics.Enabled != nil {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	for token, user := range src.Tokens {
		dst.Tokens[token] = user
	}
}
