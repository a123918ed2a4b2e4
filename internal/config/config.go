// Package config provides typed, validated configuration for every
// component of the backtest engine. All configuration is loaded from a
// JSON file with environment-variable overrides; nothing is hardcoded in
// the engine, strategy, or broker packages.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config aggregates every component's settings. Loaded once at startup and
// passed as read-only to all components.
type Config struct {
	Event      EventConfig       `json:"event"`
	ChannelHF  ChannelHFConfig   `json:"channel_hf"`
	Quality    QualityThresholds `json:"quality"`
	Batch      BatchConfig       `json:"batch"`
	Risk       RiskConfig        `json:"risk"`
	DataDir    string            `json:"data_dir"`
	LogLevel   string            `json:"log_level"`
}

// Default returns a fully-populated default configuration.
func Default() Config {
	return Config{
		Event:     DefaultEventConfig(),
		ChannelHF: DefaultChannelHFConfig(),
		Quality:   DefaultQualityThresholds(),
		Batch:     DefaultBatchConfig(),
		Risk:      DefaultRiskConfig(),
		DataDir:   "./data",
		LogLevel:  "info",
	}
}

// Load reads configuration from a JSON file, overlays a local .env file
// (if present) and then environment variables prefixed CHF_, and validates
// the result. A missing path is not an error — callers that want defaults
// only should pass an empty string.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("config: resolve path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	}

	// .env overlay is best-effort: a missing file is not an error, but a
	// malformed one is, since it likely indicates an operator typo.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	if v := os.Getenv("CHF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHF_BENCHMARK_SYMBOL"); v != "" {
		cfg.Event.BenchmarkSymbol = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks every component's sub-configuration.
func (c *Config) Validate() error {
	if err := c.Event.Validate(); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	if err := c.ChannelHF.Validate(); err != nil {
		return fmt.Errorf("channel_hf: %w", err)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}
