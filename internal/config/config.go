// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Resources ResourcesConfig `yaml:"resources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPM    int64         `yaml:"rate_limit_rpm"` // per-client requests per minute; 0 = unlimited
}

// DatabaseConfig holds SQLite settings for the access log.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// CacheConfig holds resource cache settings.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`      // LRU eviction target
	DefaultTTL      time.Duration `yaml:"default_ttl"`      // used when a handler supplies no TTL
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // expired-entry scan period
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ResourcesConfig configures the built-in resource modules.
type ResourcesConfig struct {
	DocsDir string       `yaml:"docs_dir"` // directory of decision record markdown files
	Status  StatusConfig `yaml:"status"`
}

// StatusConfig configures the deployment-status resource.
type StatusConfig struct {
	URL     string        `yaml:"url"` // upstream JSON endpoint; {env} is substituted
	Timeout time.Duration `yaml:"timeout"`
	TTL     time.Duration `yaml:"ttl"`
	Auth    *OAuthConfig  `yaml:"auth"` // nil = unauthenticated upstream
}

// OAuthConfig holds client-credentials settings for upstream calls.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration defaults used when fields are absent.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "archivist.db",
		},
		Cache: CacheConfig{
			MaxEntries:      10_000,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Resources: ResourcesConfig{
			DocsDir: "docs/adr",
			Status: StatusConfig{
				Timeout: 10 * time.Second,
				TTL:     30 * time.Second,
			},
		},
	}
}
