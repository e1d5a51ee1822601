// ABOUTME: Configuration loading for the mumu-admin CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token string `toml:"token"`
}

// configPath returns the admin config location.
// Priority: MUMU_ADMIN_CONFIG env var > XDG_CONFIG_HOME/mumu/admin.toml > ~/.config/mumu/admin.toml
func configPath() string {
	if envPath := os.Getenv("MUMU_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mumu", "admin.toml")
}

// LoadConfig reads config from the given path, expanding environment
// variables. Environment overrides (MUMU_SERVER_URL, MUMU_TOKEN) win
// over file values so the CLI works without a config file at all.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if data, err := os.ReadFile(path); err == nil {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if envURL := os.Getenv("MUMU_SERVER_URL"); envURL != "" {
		cfg.Server.URL = envURL
	}
	if envToken := os.Getenv("MUMU_TOKEN"); envToken != "" {
		cfg.Auth.Token = envToken
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = "http://localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	return nil
}
