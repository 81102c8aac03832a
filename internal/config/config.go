// Package config provides unified configuration loading for Paperbase.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Paperbase.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database and filesystem settings.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	BaseDir      string `yaml:"base_dir"` // root for knowledge-base directories
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// ConversionConfig holds OCR conversion settings.
type ConversionConfig struct {
	DPI         int    `yaml:"dpi"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	Language    string `yaml:"language"` // tesseract language code
	Workers     int    `yaml:"workers"`  // dispatcher pool size
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	// Pull in a .env if one is present; absence is not an error.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: "paperbase.db",
			BaseDir:      "uploads",
			MaxOpenConns: 1,
			JournalMode:  "WAL",
		},
		Conversion: ConversionConfig{
			DPI:         300,
			JPEGQuality: 90,
			Language:    "eng",
			Workers:     2,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path must not be empty")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir must not be empty")
	}
	if c.Conversion.DPI < 72 || c.Conversion.DPI > 1200 {
		return fmt.Errorf("conversion.dpi must be between 72 and 1200, got %d", c.Conversion.DPI)
	}
	if c.Conversion.JPEGQuality < 1 || c.Conversion.JPEGQuality > 100 {
		return fmt.Errorf("conversion.jpeg_quality must be between 1 and 100, got %d", c.Conversion.JPEGQuality)
	}
	if c.Conversion.Workers < 1 {
		return fmt.Errorf("conversion.workers must be at least 1, got %d", c.Conversion.Workers)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAPERBASE_DB"); v != "" {
		cfg.Storage.DatabasePath = v
	}

	if v := os.Getenv("PAPERBASE_BASE_DIR"); v != "" {
		cfg.Storage.BaseDir = v
	}

	if v := os.Getenv("PAPERBASE_DPI"); v != "" {
		if dpi, err := strconv.Atoi(v); err == nil {
			cfg.Conversion.DPI = dpi
		}
	}

	if v := os.Getenv("PAPERBASE_OCR_LANG"); v != "" {
		cfg.Conversion.Language = v
	}

	if v := os.Getenv("PAPERBASE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversion.Workers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
