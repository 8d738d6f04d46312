// Package config provides application configuration management.
// Quote policy is NOT part of this file; it is loaded per invocation from HCL.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"energy-quote/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Pricing contains pricing resolution settings
	Pricing PricingConfig `json:"pricing"`

	// Paths locates the policy and catalog documents
	Paths PathsConfig `json:"paths"`

	// Simulation contains Monte Carlo and hourly analysis settings
	Simulation SimulationConfig `json:"simulation"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// PricingConfig contains pricing-related settings
type PricingConfig struct {
	// CacheTTLSeconds is how long a resolved tier is reused
	CacheTTLSeconds int `json:"cache_ttl_seconds"`

	// UpstreamTimeoutMillis bounds each read from an upstream tier source
	UpstreamTimeoutMillis int `json:"upstream_timeout_ms"`

	// DatabaseDSN enables the postgres tier source when set
	DatabaseDSN string `json:"database_dsn,omitempty"`
}

// CacheTTL returns the cache TTL as a duration
func (p PricingConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// UpstreamTimeout returns the upstream timeout as a duration
func (p PricingConfig) UpstreamTimeout() time.Duration {
	return time.Duration(p.UpstreamTimeoutMillis) * time.Millisecond
}

// PathsConfig contains document locations
type PathsConfig struct {
	// Policy is the HCL policy document
	Policy string `json:"policy"`

	// Catalog is the HCL catalog of templates, synonyms and price tiers
	Catalog string `json:"catalog,omitempty"`
}

// SimulationConfig contains optional analysis settings
type SimulationConfig struct {
	// MonteCarloIterations is the default sample count when risk sampling is requested
	MonteCarloIterations int `json:"monte_carlo_iterations"`

	// Workers is the Monte Carlo worker count (0 = GOMAXPROCS)
	Workers int `json:"workers"`

	// Seed makes sampling reproducible
	Seed uint64 `json:"seed"`

	// Hourly enables the 8760 cross-check by default
	Hourly bool `json:"hourly"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".energy-quote")

	return &Config{
		Version: "1.0",
		Pricing: PricingConfig{
			CacheTTLSeconds:       300, // 5 minutes
			UpstreamTimeoutMillis: 250,
		},
		Paths: PathsConfig{
			Policy: filepath.Join(base, "policy.hcl"),
		},
		Simulation: SimulationConfig{
			MonteCarloIterations: 10000,
			Seed:                 1,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance, used by the CLI only
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
