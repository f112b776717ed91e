// Package config loads the YAML configuration shared by the server and
// parser binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/futsim/futsim/internal/backtest"
	"github.com/futsim/futsim/internal/ingest"
)

// Config is the root of the configuration file.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Backtest backtest.Config `yaml:"backtest"`
	Parser   ingest.Config   `yaml:"parser"`
}

// ServerConfig holds the HTTP server and data locations.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	TickerDirectory   string        `yaml:"ticker_directory"`
	AssetPath         string        `yaml:"assets"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestBurst      int           `yaml:"request_burst"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &config, nil
}

// Validate fills defaults for unset server settings. It rejects no value
// itself.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = 10
	}
	if c.Server.RequestBurst == 0 {
		c.Server.RequestBurst = 20
	}
	// The backtest section is validated by the server binary; the parser
	// binary shares this file without one.
	return nil
}
