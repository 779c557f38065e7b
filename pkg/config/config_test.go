package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !strings.HasSuffix(cfg.Database.Path, "unified.db") {
		t.Errorf("Database path = %q", cfg.Database.Path)
	}
	if !strings.Contains(cfg.Database.Path, ".copilot-mcp") {
		t.Errorf("Database should live under ~/.copilot-mcp: %q", cfg.Database.Path)
	}
	if cfg.Search.ContentWeight != 1.0 || cfg.Search.TagsWeight != 0.8 || cfg.Search.MetadataWeight != 0.3 {
		t.Errorf("Unexpected field weights: %+v", cfg.Search)
	}
	if cfg.Search.MinScore != 0.1 {
		t.Errorf("MinScore = %f", cfg.Search.MinScore)
	}
	if cfg.Semantic.CacheSize != 1000 {
		t.Errorf("CacheSize = %d", cfg.Semantic.CacheSize)
	}
	if cfg.Lifecycle.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %f", cfg.Lifecycle.ConfidenceThreshold)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyDBPath", func(c *Config) { c.Database.Path = "" }},
		{"NegativeMinScore", func(c *Config) { c.Search.MinScore = -1 }},
		{"ZeroLimit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"ZeroCache", func(c *Config) { c.Semantic.CacheSize = 0 }},
		{"BadConfidence", func(c *Config) { c.Lifecycle.ConfidenceThreshold = 1.5 }},
		{"BadPort", func(c *Config) { c.RestAPI.Enabled = true; c.RestAPI.Port = 0 }},
		{"BadLevel", func(c *Config) { c.Logging.Level = "verbose" }},
		{"BadFormat", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation failure")
			}
		})
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	// No config file in a scratch working directory: Load returns defaults
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("Expected default limit, got %d", cfg.Search.DefaultLimit)
	}
}
