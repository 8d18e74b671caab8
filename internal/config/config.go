// Package config loads client settings from an optional yaml file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	ServerURL string `yaml:"server_url"`
	Username  string `yaml:"username"`
	LogLevel  string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		ServerURL: "ws://localhost:8080/ws",
		LogLevel:  "info",
	}
}

// Load reads path (ignored when empty or missing) and then applies env
// overrides: CODEDUEL_SERVER_URL, CODEDUEL_USERNAME, CODEDUEL_LOG_LEVEL.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Optional file.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.ServerURL = getEnv("CODEDUEL_SERVER_URL", cfg.ServerURL)
	cfg.Username = getEnv("CODEDUEL_USERNAME", cfg.Username)
	cfg.LogLevel = getEnv("CODEDUEL_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once rather than the first one found.
func (c *Config) Validate() error {
	var err error
	if c.ServerURL == "" {
		err = multierr.Append(err, errors.New("server_url is required"))
	} else if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		err = multierr.Append(err, fmt.Errorf("server_url %q must use ws:// or wss://", c.ServerURL))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
