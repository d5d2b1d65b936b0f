// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
  driver: "sqlite3"

model:
  base_url: "http://localhost:9999/v1"
  api_key: "test-key"
  name: "test-model"
  temperature: 0.2
  timeout: "5s"
  retry_count: 1

search:
  enabled: true
  max_results: 2
  timeout: "3s"
  retry_count: 3

turn:
  max_tool_rounds: 3

server:
  http_addr: "0.0.0.0:9000"
  session_idle: "10m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Model.BaseURL)
	assert.Equal(t, "test-key", cfg.Model.APIKey)
	assert.Equal(t, "test-model", cfg.Model.Name)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 1, cfg.Model.RetryCount)
	assert.True(t, cfg.Search.Enabled)
	assert.Equal(t, 2, cfg.Search.MaxResults)
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 3, cfg.Search.RetryCount)
	assert.Equal(t, 3, cfg.Turn.MaxToolRounds)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.Server.SessionIdle)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "database:\n  path: \"./x.db\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "gemini-2.0-flash", cfg.Model.Name)
	assert.InDelta(t, 0.7, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, "https://html.duckduckgo.com/html/", cfg.Search.Endpoint)
	assert.Equal(t, "us-en", cfg.Search.Region)
	assert.Equal(t, 1, cfg.Search.RetryCount)
	assert.Equal(t, 8, cfg.Turn.MaxToolRounds)
	assert.Empty(t, cfg.Turn.TitlePrompt)
	assert.Equal(t, "127.0.0.1:8501", cfg.Server.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionIdle)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[database]
path = "./toml.db"

[model]
name = "toml-model"
timeout = "2s"

[logging]
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./toml.db", cfg.Database.Path)
	assert.Equal(t, "toml-model", cfg.Model.Name)
	assert.Equal(t, 2*time.Second, cfg.Model.Timeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHATBOT_KEY", "secret-from-env")
	t.Setenv("TEST_CHATBOT_DB", "/tmp/env.db")

	path := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_CHATBOT_DB}"
model:
  api_key: "${TEST_CHATBOT_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "secret-from-env", cfg.Model.APIKey)
}

func TestLoad_APIKeyFallback(t *testing.T) {
	t.Setenv("CHATBOT_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	path := writeConfig(t, "config.yaml", "model:\n  name: \"m\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "google-key", cfg.Model.APIKey)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", "model:\n  timeout: \"soon\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cfg.Database.Path, filepath.Join("chatbot", "chatbot.db")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"empty path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"zero rounds", func(c *Config) { c.Turn.MaxToolRounds = 0 }, "max_tool_rounds"},
		{"hot temperature", func(c *Config) { c.Model.Temperature = 3 }, "temperature"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"negative search retries", func(c *Config) { c.Search.RetryCount = -1 }, "search.retry_count"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSampleYAMLLoads(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")
	path := writeConfig(t, "config.yaml", SampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Model.APIKey)
	assert.True(t, cfg.Search.Enabled)
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("CHATBOT_CONFIG", "/etc/chatbot.yaml")
	assert.Equal(t, "/etc/chatbot.yaml", DefaultConfigPath())

	t.Setenv("CHATBOT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "chatbot", "config.yaml"), DefaultConfigPath())
}
