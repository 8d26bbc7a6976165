package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full adscope configuration.
type Config struct {
	// Listen is the address of the HTTP health sidecar. Empty disables it.
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Gemini         GeminiConfig         `yaml:"gemini"`
	ScrapeCreators ScrapeCreatorsConfig `yaml:"scrapecreators"`
	Cache          CacheConfig          `yaml:"cache"`
	Fetch          FetchConfig          `yaml:"fetch"`
	Retention      RetentionConfig      `yaml:"retention"`
}

// GeminiConfig configures the analysis backend.
type GeminiConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// ScrapeCreatorsConfig configures the ad library client.
type ScrapeCreatorsConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// CacheConfig configures the media cache.
type CacheConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxAgeDays drives the daily background eviction sweep. Zero disables it.
	MaxAgeDays int `yaml:"max_age_days"`
}

// FetchConfig configures the downloader.
type FetchConfig struct {
	MaxFileMB       int `yaml:"max_file_mb"`
	ImageTimeoutSec int `yaml:"image_timeout_sec"`
	VideoTimeoutSec int `yaml:"video_timeout_sec"`
}

// RetentionConfig holds observability retention in days.
type RetentionConfig struct {
	EventLogsDays  int `yaml:"event_logs_days"`
	HeartbeatsDays int `yaml:"heartbeats_days"`
	MetricsDays    int `yaml:"metrics_days"`
	AuditDays      int `yaml:"audit_days"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		Cache: CacheConfig{
			MaxConcurrent: 4,
		},
		Fetch: FetchConfig{
			MaxFileMB:       256,
			ImageTimeoutSec: 30,
			VideoTimeoutSec: 60,
		},
		Retention: RetentionConfig{
			EventLogsDays:  30,
			HeartbeatsDays: 7,
			MetricsDays:    14,
			AuditDays:      90,
		},
	}
}

// LoadConfig reads and parses a YAML config file, merged over DefaultConfig.
// A missing file is not an error: environment variables alone are enough to
// run the server.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv lets environment variables override file values. Secrets usually
// arrive this way rather than in the YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("SCRAPECREATORS_API_KEY"); v != "" {
		c.ScrapeCreators.APIKey = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Listen = v
	}
}

// Validate checks that values are sane.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Fetch.MaxFileMB <= 0 {
		return fmt.Errorf("fetch.max_file_mb must be > 0")
	}
	if c.Cache.MaxConcurrent <= 0 {
		return fmt.Errorf("cache.max_concurrent must be > 0")
	}
	if c.Cache.MaxAgeDays < 0 {
		return fmt.Errorf("cache.max_age_days must be >= 0")
	}
	return nil
}

// MaxFileBytes returns the download cap in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.Fetch.MaxFileMB) * 1024 * 1024 }

// ImageTimeout returns the per-image fetch timeout.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Fetch.ImageTimeoutSec) * time.Second
}

// VideoTimeout returns the per-video fetch timeout.
func (c *Config) VideoTimeout() time.Duration {
	return time.Duration(c.Fetch.VideoTimeoutSec) * time.Second
}
