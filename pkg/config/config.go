package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Search    SearchConfig    `mapstructure:"search"`
	Semantic  SemanticConfig  `mapstructure:"semantic"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	RestAPI   RestAPIConfig   `mapstructure:"rest_api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SearchConfig holds BM25 search engine configuration
type SearchConfig struct {
	ContentWeight  float64 `mapstructure:"content_weight"`
	TagsWeight     float64 `mapstructure:"tags_weight"`
	MetadataWeight float64 `mapstructure:"metadata_weight"`
	MinScore       float64 `mapstructure:"min_score"`
	DefaultLimit   int     `mapstructure:"default_limit"`
}

// SemanticConfig holds local semantic engine configuration
type SemanticConfig struct {
	CacheSize int  `mapstructure:"cache_size"`
	UseNgrams bool `mapstructure:"use_ngrams"`
	FastMode  bool `mapstructure:"fast_mode"`
}

// LifecycleConfig holds behavioural lifecycle configuration
type LifecycleConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ArchivalThreshold   float64 `mapstructure:"archival_threshold"`
}

// RestAPIConfig holds REST API server configuration
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	CORS    bool   `mapstructure:"cors"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Global  LimitConfig       `mapstructure:"global"`
	Tools   []ToolLimitConfig `mapstructure:"tools"`
}

// LimitConfig is a single token-bucket limit
type LimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// ToolLimitConfig is a per-tool rate limit override
type ToolLimitConfig struct {
	Name              string  `mapstructure:"name"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
	Output string `mapstructure:"output"` // stderr, stdout, or a file path
}

// ConfigDir returns the copilot-mcp configuration directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".copilot-mcp")
}

// DatabasePath returns the default unified database path
func DatabasePath() string {
	return filepath.Join(ConfigDir(), "memory", "unified.db")
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: DatabasePath(),
		},
		Search: SearchConfig{
			ContentWeight:  1.0,
			TagsWeight:     0.8,
			MetadataWeight: 0.3,
			MinScore:       0.1,
			DefaultLimit:   10,
		},
		Semantic: SemanticConfig{
			CacheSize: 1000,
			UseNgrams: true,
			FastMode:  false,
		},
		Lifecycle: LifecycleConfig{
			ConfidenceThreshold: 0.7,
			ArchivalThreshold:   0.8,
		},
		RestAPI: RestAPIConfig{
			Enabled: false,
			Port:    3017,
			Host:    "localhost",
			CORS:    true,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Global: LimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load loads configuration from YAML file with fallback to defaults.
// Searches ./config.yaml, ~/.copilot-mcp/config.yaml, /etc/copilot-mcp/config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath("/etc/copilot-mcp")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DatabasePath())

	v.SetDefault("search.content_weight", 1.0)
	v.SetDefault("search.tags_weight", 0.8)
	v.SetDefault("search.metadata_weight", 0.3)
	v.SetDefault("search.min_score", 0.1)
	v.SetDefault("search.default_limit", 10)

	v.SetDefault("semantic.cache_size", 1000)
	v.SetDefault("semantic.use_ngrams", true)
	v.SetDefault("semantic.fast_mode", false)

	v.SetDefault("lifecycle.confidence_threshold", 0.7)
	v.SetDefault("lifecycle.archival_threshold", 0.8)

	v.SetDefault("rest_api.enabled", false)
	v.SetDefault("rest_api.port", 3017)
	v.SetDefault("rest_api.host", "localhost")
	v.SetDefault("rest_api.cors", true)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.global.requests_per_second", 50)
	v.SetDefault("rate_limit.global.burst_size", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Search.MinScore < 0 {
		return fmt.Errorf("search.min_score must be >= 0")
	}
	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search.default_limit must be >= 1")
	}

	if c.Semantic.CacheSize < 1 {
		return fmt.Errorf("semantic.cache_size must be >= 1")
	}

	if c.Lifecycle.ConfidenceThreshold < 0 || c.Lifecycle.ConfidenceThreshold > 1 {
		return fmt.Errorf("lifecycle.confidence_threshold must be between 0 and 1")
	}
	if c.Lifecycle.ArchivalThreshold < 0 || c.Lifecycle.ArchivalThreshold > 1 {
		return fmt.Errorf("lifecycle.archival_threshold must be between 0 and 1")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when REST API is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	return nil
}

// EnsureDatabaseDir creates the database directory if it doesn't exist
func (c *Config) EnsureDatabaseDir() error {
	dir := filepath.Dir(c.Database.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}
