// Package config loads and validates the tokenlens configuration.
//
// DESIGN: All configuration comes from YAML files; the embedded default
// config supplies defaults through ${VAR:-default} expansion, so the structs
// themselves carry none. Environment variables override the operational
// surface (DATABASE_URL, FETCH_USER_AGENT, scan windows) even when a custom
// config file is supplied.
//
// FILES:
//   - config.go:     Root Config struct, Load(), expansion, Validate()
//   - fetch.go:      Fetcher and headless-browser settings
//   - scan.go:       Orchestrator, CSS store, and analyzer settings
//   - enrich.go:     Token-set enrichment plugin settings
//   - monitoring.go: Logging and telemetry settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the tokenlens service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`     // HTTP server settings
	Database   DatabaseConfig   `yaml:"database"`   // SQLite settings
	Fetch      FetchConfig      `yaml:"fetch"`      // CSS discovery and retrieval
	CSSStore   CSSStoreConfig   `yaml:"css_store"`  // Content-addressed store
	Scan       ScanConfig       `yaml:"scan"`       // Orchestrator limits and windows
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`   // Consensus thresholds
	Enrich     EnrichConfig     `yaml:"enrich"`     // Post-analysis enrichment
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging and telemetry
	RateLimit  RateLimitConfig  `yaml:"rate_limit"` // Mutating-route rate limiting
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`             // Listen address
	Port            int           `yaml:"port"`             // Port to listen on
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Max time to read request
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Max time to write response (0 for SSE)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful drain window
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`   // Request body cap
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	URL           string `yaml:"url"`             // SQLite path or file: DSN (DATABASE_URL)
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"` // PRAGMA busy_timeout
}

// RateLimitConfig contains token-bucket settings for mutating routes.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
	MaxClients        int  `yaml:"max_clients"` // Bucket map cap before eviction
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies the documented environment surface on top of
// whatever the YAML said. Deployment systems set these without shipping a
// config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("FETCH_USER_AGENT"); v != "" {
		c.Fetch.UserAgent = v
	}
	if v := os.Getenv("CSS_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CSSStore.TTLDays = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_SCANS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scan.MaxConcurrent = n
		}
	}
	if v := os.Getenv("REVALIDATE_AFTER_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Scan.RevalidateAfterMS = n
		}
	}
	if v := os.Getenv("HARD_EXPIRY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Scan.HardExpiryMS = n
		}
	}
	if v := os.Getenv("SCAN_TELEMETRY_LOG"); v != "" {
		c.Monitoring.TelemetryPath = v
		c.Monitoring.TelemetryEnabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.ShutdownTimeout == 0 {
		return fmt.Errorf("server.shutdown_timeout is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}

	if err := c.Fetch.Validate(); err != nil {
		return err
	}
	if err := c.CSSStore.Validate(); err != nil {
		return err
	}
	if err := c.Scan.Validate(); err != nil {
		return err
	}
	if err := c.Analyzer.Validate(); err != nil {
		return err
	}
	if err := c.Enrich.Validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive when enabled")
		}
	}

	return nil
}
