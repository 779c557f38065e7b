// Package config loads and validates the copilot-memory configuration
// from YAML files with sensible defaults.
package config
