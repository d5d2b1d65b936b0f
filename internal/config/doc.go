// Package config handles configuration loading for the chatbot.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a missing file is not an error.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATBOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatbot/config.yaml
//  3. ~/.config/chatbot/config.yaml
//
// A path ending in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${GOOGLE_API_KEY}"
//
// When model.api_key is empty after expansion, CHATBOT_API_KEY and then
// GOOGLE_API_KEY are consulted.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	model:
//	  timeout: "60s"
//	server:
//	  session_idle: "30m"
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "~/.local/share/chatbot/chatbot.db"
//	  driver: "sqlite"   # sqlite, sqlite3
//
// Turn limits:
//
//	turn:
//	  max_tool_rounds: 8
//	  system_prompt: ""
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.DefaultConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
