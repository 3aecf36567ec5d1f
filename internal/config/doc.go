// Package config handles configuration loading for toolshed.
//
// # Configuration File
//
// Locations, first match wins:
//
//  1. The --config flag
//  2. Path from TOOLSHED_CONFIG environment variable
//  3. ./toolshed.yaml or ./toolshed.toml
//  4. <user config dir>/toolshed/config.yaml or config.toml
//
// With no file at all, Default() is used. Files ending in .toml are parsed
// as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	executor:
//	  api_key: "${TOOLSHED_SANDBOX_KEY}"
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax ("5s", "1h").
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "/var/lib/toolshed/toolshed.db"
//
//	executor:
//	  default_url: "http://sandbox:3000"
//	  api_key: "${TOOLSHED_SANDBOX_KEY}"
//	  health_timeout: "5s"
//	  introspect_timeout: "30s"
//	  execute_timeout: "60s"
//	  verify_timeout: "20s"
//
//	health:
//	  enabled: true
//	  interval: "1h"
//	  tool_timeout: "15s"
//	  concurrency: 4
//	  rate_per_second: 10
//	  fixtures_path: "/etc/toolshed/fixtures.yaml"
//
//	mcp:
//	  lookup_timeout: "10s"
//
//	auth:
//	  jwt_secret: "${TOOLSHED_JWT_SECRET}"  # at least 32 bytes; empty leaves the API open
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
