// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

engine:
  model: "claude-sonnet-4-20250514"
  max_tokens: 2048
  init_timeout: "10s"
  system_prompt: "You are a helpful assistant."

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("expected http_addr 0.0.0.0:8080, got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("expected database path ./test.db, got %q", cfg.Database.Path)
	}
	if cfg.Engine.MaxTokens != 2048 {
		t.Errorf("expected max_tokens 2048, got %d", cfg.Engine.MaxTokens)
	}
	if cfg.Engine.InitTimeout != 10*time.Second {
		t.Errorf("expected init_timeout 10s, got %v", cfg.Engine.InitTimeout)
	}
	if cfg.Engine.SystemPrompt != "You are a helpful assistant." {
		t.Errorf("expected system prompt, got %q", cfg.Engine.SystemPrompt)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Database.Path != ":memory:" {
		t.Errorf("expected default database path :memory:, got %q", cfg.Database.Path)
	}
	if cfg.Engine.Model == "" {
		t.Error("expected a default model to be set")
	}
	if cfg.Engine.InitTimeout != 30*time.Second {
		t.Errorf("expected default init_timeout 30s, got %v", cfg.Engine.InitTimeout)
	}
	if cfg.Engine.MaxToolRounds != 8 {
		t.Errorf("expected default max_tool_rounds 8, got %d", cfg.Engine.MaxToolRounds)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_SECRET", "super-secret-value")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

auth:
  jwt_secret: "${PARLEY_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Auth.JWTSecret != "super-secret-value" {
		t.Errorf("expected expanded secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

auth:
  jwt_secret: "${PARLEY_DEFINITELY_UNSET_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Auth.JWTSecret != "" {
		t.Errorf("expected empty secret for unset var, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "info"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for missing http_addr")
	}
	if !strings.Contains(err.Error(), "http_addr") {
		t.Errorf("expected error to mention http_addr, got %v", err)
	}
}

func TestLoad_TailscaleRequiresHostname(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for missing tailscale hostname")
	}
	if !strings.Contains(err.Error(), "hostname") {
		t.Errorf("expected error to mention hostname, got %v", err)
	}
}

func TestLoad_TailscaleWithoutHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "parley-gateway"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Tailscale.Enabled {
		t.Error("expected tailscale to be enabled")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

engine:
  init_timeout: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
