// ABOUTME: Configuration loading and parsing for toolshed
// ABOUTME: YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "TOOLSHED_CONFIG"

// Config represents the complete toolshed configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Executor ExecutorConfig `yaml:"executor" toml:"executor"`
	Catalog  CatalogConfig  `yaml:"catalog" toml:"catalog"`
	Health   HealthConfig   `yaml:"health" toml:"health"`
	MCP      MCPConfig      `yaml:"mcp" toml:"mcp"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ExecutorConfig points at the shared sandbox and bounds executor calls.
type ExecutorConfig struct {
	DefaultURL        string        `yaml:"default_url" toml:"default_url"`
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	HealthTimeout     time.Duration `yaml:"-" toml:"-"`
	IntrospectTimeout time.Duration `yaml:"-" toml:"-"`
	ExecuteTimeout    time.Duration `yaml:"-" toml:"-"`
	VerifyTimeout     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HealthTimeoutRaw     string `yaml:"health_timeout" toml:"health_timeout"`
	IntrospectTimeoutRaw string `yaml:"introspect_timeout" toml:"introspect_timeout"`
	ExecuteTimeoutRaw    string `yaml:"execute_timeout" toml:"execute_timeout"`
	VerifyTimeoutRaw     string `yaml:"verify_timeout" toml:"verify_timeout"`
}

// CatalogConfig locates package metadata for re-syncs. MetadataDir holds
// one <package>.json per package; scoped packages live under @scope/.
type CatalogConfig struct {
	MetadataDir string `yaml:"metadata_dir" toml:"metadata_dir"`
}

// HealthConfig controls the background health sweep.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	Interval      time.Duration `yaml:"-" toml:"-"`
	ToolTimeout   time.Duration `yaml:"-" toml:"-"`
	Concurrency   int           `yaml:"concurrency" toml:"concurrency"`
	RatePerSecond float64       `yaml:"rate_per_second" toml:"rate_per_second"`
	RunOnStart    bool          `yaml:"run_on_start" toml:"run_on_start"`
	FixturesPath  string        `yaml:"fixtures_path" toml:"fixtures_path"`

	IntervalRaw    string `yaml:"interval" toml:"interval"`
	ToolTimeoutRaw string `yaml:"tool_timeout" toml:"tool_timeout"`
}

// MCPConfig holds MCP gateway settings
type MCPConfig struct {
	LookupTimeout time.Duration `yaml:"-" toml:"-"`
	ServerName    string        `yaml:"server_name" toml:"server_name"`
	ServerVersion string        `yaml:"server_version" toml:"server_version"`

	LookupTimeoutRaw string `yaml:"lookup_timeout" toml:"lookup_timeout"`
}

// AuthConfig holds authentication configuration. An empty secret leaves
// the admin API open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration that runs against a local sandbox.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{Path: "./toolshed.db"},
		Executor: ExecutorConfig{
			DefaultURL:        "http://127.0.0.1:3000",
			HealthTimeout:     5 * time.Second,
			IntrospectTimeout: 30 * time.Second,
			ExecuteTimeout:    60 * time.Second,
			VerifyTimeout:     20 * time.Second,
		},
		Health: HealthConfig{
			Enabled:     true,
			Interval:    time.Hour,
			ToolTimeout: 15 * time.Second,
			Concurrency: 4,
		},
		MCP: MCPConfig{
			LookupTimeout: 10 * time.Second,
			ServerName:    "toolshed",
			ServerVersion: "1.0.0",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are TOML; everything else is YAML. Environment
// variables in the format ${VAR_NAME} are expanded first, and unset fields
// keep the values from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath returns the config path to use: explicit if set, then
// $TOOLSHED_CONFIG, then ./toolshed.yaml, then the user config directory.
// It returns "" when none of them exist.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	candidates := []string{"toolshed.yaml", "toolshed.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(dir, "toolshed", "config.yaml"),
			filepath.Join(dir, "toolshed", "config.toml"),
		)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Executor.DefaultURL == "" {
		return errors.New("executor.default_url is required")
	}
	if !strings.HasPrefix(c.Executor.DefaultURL, "http://") && !strings.HasPrefix(c.Executor.DefaultURL, "https://") {
		return fmt.Errorf("executor.default_url must use http or https: %q", c.Executor.DefaultURL)
	}
	if c.Health.Concurrency < 1 {
		return errors.New("health.concurrency must be at least 1")
	}
	if c.Health.RatePerSecond < 0 {
		return errors.New("health.rate_per_second cannot be negative")
	}
	if c.Health.Interval <= 0 {
		return errors.New("health.interval must be positive")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"executor.health_timeout", cfg.Executor.HealthTimeoutRaw, &cfg.Executor.HealthTimeout},
		{"executor.introspect_timeout", cfg.Executor.IntrospectTimeoutRaw, &cfg.Executor.IntrospectTimeout},
		{"executor.execute_timeout", cfg.Executor.ExecuteTimeoutRaw, &cfg.Executor.ExecuteTimeout},
		{"executor.verify_timeout", cfg.Executor.VerifyTimeoutRaw, &cfg.Executor.VerifyTimeout},
		{"health.interval", cfg.Health.IntervalRaw, &cfg.Health.Interval},
		{"health.tool_timeout", cfg.Health.ToolTimeoutRaw, &cfg.Health.ToolTimeout},
		{"mcp.lookup_timeout", cfg.MCP.LookupTimeoutRaw, &cfg.MCP.LookupTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
