// Package config handles configuration loading for parley-gateway.
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
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Conversation store:
//
//	database:
//	  path: ":memory:"    # or a file path to keep history on disk
//
// Execution engine:
//
//	engine:
//	  model: "claude-sonnet-4-20250514"
//	  max_tokens: 4096
//	  api_key: "${ANTHROPIC_API_KEY}"
//	  init_timeout: "30s"
//	  max_tool_rounds: 8
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "parley-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
