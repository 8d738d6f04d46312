package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pricing.CacheTTL() != 5*time.Minute {
		t.Errorf("cache TTL = %v", cfg.Pricing.CacheTTL())
	}
	if cfg.Simulation.MonteCarloIterations != 10000 {
		t.Errorf("iterations = %d", cfg.Simulation.MonteCarloIterations)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Pricing.UpstreamTimeoutMillis = 100
	cfg.Paths.Catalog = "/etc/energy-quote/catalog.hcl"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Pricing.UpstreamTimeout() != 100*time.Millisecond {
		t.Errorf("timeout = %v", loaded.Pricing.UpstreamTimeout())
	}
	if loaded.Paths.Catalog != cfg.Paths.Catalog {
		t.Errorf("catalog path = %q", loaded.Paths.Catalog)
	}
}
