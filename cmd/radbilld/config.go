package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the radbilld configuration file.
type Config struct {
	BillingDSN string `yaml:"billing_dsn"`
	AAADSN     string `yaml:"aaa_dsn"`

	MetricsAddr string `yaml:"metrics_addr"`

	CoATimeout   time.Duration `yaml:"coa_timeout"`
	ChunkSize    int           `yaml:"chunk_size"`
	SweepWorkers int           `yaml:"sweep_workers"`

	WalledGarden WalledGardenConfig `yaml:"walled_garden"`

	LogLevel string `yaml:"log_level"`
}

// WalledGardenConfig shapes the redirect groups for expired and suspended
// subscribers.
type WalledGardenConfig struct {
	AddressList string `yaml:"address_list"`
	RateLimit   string `yaml:"rate_limit"`
	RedirectURL string `yaml:"redirect_url"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:  ":9470",
		CoATimeout:   3 * time.Second,
		ChunkSize:    500,
		SweepWorkers: 16,
		WalledGarden: WalledGardenConfig{
			AddressList: "walled-garden",
			RateLimit:   "512k/512k",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a yaml config file over the defaults. A missing file is
// not an error; flags may supply everything.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
