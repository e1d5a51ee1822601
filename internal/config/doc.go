// Package config handles configuration loading for the plugin server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MUMU_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	registry:
//	  client_ttl: "1h"
//	  cleanup_interval: "5m"
//	  call_timeout: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/mumu/plugins.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${MUMU_JWT_SECRET}"
//
// Registry sizing:
//
//	registry:
//	  max_clients: 1000
//	  client_ttl: "1h"
//	  cleanup_interval: "5m"
//	  call_timeout: "60s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/mumu/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
