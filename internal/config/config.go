// ABOUTME: Configuration loading and parsing for the chatbot
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chatbot configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Model    ModelConfig    `yaml:"model" toml:"model"`
	Search   SearchConfig   `yaml:"search" toml:"search"`
	Turn     TurnConfig     `yaml:"turn" toml:"turn"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Driver selects the SQLite driver: "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
}

// ModelConfig holds the chat model endpoint configuration
type ModelConfig struct {
	BaseURL     string        `yaml:"base_url" toml:"base_url"`
	APIKey      string        `yaml:"api_key" toml:"api_key"`
	Name        string        `yaml:"name" toml:"name"`
	Temperature float64       `yaml:"temperature" toml:"temperature"`
	RetryCount  int           `yaml:"retry_count" toml:"retry_count"`
	Timeout     time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// SearchConfig holds web search tool configuration
type SearchConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	Endpoint   string        `yaml:"endpoint" toml:"endpoint"`
	Region     string        `yaml:"region" toml:"region"`
	MaxResults int           `yaml:"max_results" toml:"max_results"`
	RetryCount int           `yaml:"retry_count" toml:"retry_count"`
	Timeout    time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// TurnConfig holds turn processing limits and prompts
type TurnConfig struct {
	MaxToolRounds int    `yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	SystemPrompt  string `yaml:"system_prompt" toml:"system_prompt"`
	// TitlePrompt is prefixed to a thread's first message when asking for a
	// title. Empty uses the built-in prompt.
	TitlePrompt string `yaml:"title_prompt" toml:"title_prompt"`
}

// ServerConfig holds the web chat listener configuration
type ServerConfig struct {
	HTTPAddr    string        `yaml:"http_addr" toml:"http_addr"`
	SessionIdle time.Duration `yaml:"-" toml:"-"`

	SessionIdleRaw string `yaml:"session_idle" toml:"session_idle"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills every unset field with its default value
func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDataPath()
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "gemini-2.0-flash"
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.7
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("CHATBOT_API_KEY")
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = 60 * time.Second
	}
	if cfg.Model.RetryCount == 0 {
		cfg.Model.RetryCount = 2
	}

	if cfg.Search.Endpoint == "" {
		cfg.Search.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if cfg.Search.Region == "" {
		cfg.Search.Region = "us-en"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 4
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 15 * time.Second
	}
	if cfg.Search.RetryCount == 0 {
		cfg.Search.RetryCount = 1
	}

	if cfg.Turn.MaxToolRounds == 0 {
		cfg.Turn.MaxToolRounds = 8
	}

	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8501"
	}
	if cfg.Server.SessionIdle == 0 {
		cfg.Server.SessionIdle = 30 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if c.Model.RetryCount < 0 {
		return fmt.Errorf("model.retry_count must not be negative")
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must not be negative")
	}
	if c.Search.RetryCount < 0 {
		return fmt.Errorf("search.retry_count must not be negative")
	}

	if c.Turn.MaxToolRounds < 1 {
		return fmt.Errorf("turn.max_tool_rounds must be at least 1")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Model.TimeoutRaw != "" {
		cfg.Model.Timeout, err = time.ParseDuration(cfg.Model.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing model.timeout %q: %w", cfg.Model.TimeoutRaw, err)
		}
	}

	if cfg.Search.TimeoutRaw != "" {
		cfg.Search.Timeout, err = time.ParseDuration(cfg.Search.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing search.timeout %q: %w", cfg.Search.TimeoutRaw, err)
		}
	}

	if cfg.Server.SessionIdleRaw != "" {
		cfg.Server.SessionIdle, err = time.ParseDuration(cfg.Server.SessionIdleRaw)
		if err != nil {
			return fmt.Errorf("parsing server.session_idle %q: %w", cfg.Server.SessionIdleRaw, err)
		}
	}

	return nil
}

// DefaultConfigPath returns the config file location, honoring CHATBOT_CONFIG
// and XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	if p := os.Getenv("CHATBOT_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatbot", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "chatbot", "config.yaml")
}

// DefaultDataPath returns the default database location under XDG_DATA_HOME.
func DefaultDataPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatbot", "chatbot.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatbot.db"
	}
	return filepath.Join(home, ".local", "share", "chatbot", "chatbot.db")
}

// SampleYAML is the config written by `chatbot init`.
const SampleYAML = `# chatbot configuration

database:
  path: ""          # defaults to $XDG_DATA_HOME/chatbot/chatbot.db
  driver: "sqlite"  # sqlite (pure Go) or sqlite3 (cgo)

model:
  base_url: "https://generativelanguage.googleapis.com/v1beta/openai"
  api_key: "${GOOGLE_API_KEY}"
  name: "gemini-2.0-flash"
  temperature: 0.7
  timeout: "60s"
  retry_count: 2

search:
  enabled: true
  endpoint: "https://html.duckduckgo.com/html/"
  region: "us-en"
  max_results: 4
  timeout: "15s"
  retry_count: 1

turn:
  max_tool_rounds: 8

server:
  http_addr: "127.0.0.1:8501"
  session_idle: "30m"

auth:
  jwt_secret: ""    # set (32+ bytes) to require tokens on the web chat

logging:
  level: "info"
  format: "text"
`
