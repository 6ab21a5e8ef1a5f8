// Package config loads application configuration from TOML and resolves
// provider API keys.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// Config represents the top-level application configuration.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Server   ServerConfig   `toml:"server"`
	Wiki     WikiConfig     `toml:"wiki"`
	Storage  StorageConfig  `toml:"storage"`
}

// ProviderConfig holds settings for AI provider selection and configuration.
type ProviderConfig struct {
	Default   string                   `toml:"default"`
	Model     string                   `toml:"model"`
	Anthropic AnthropicProviderConfig  `toml:"anthropic"`
	OpenAI    []OpenAICompatibleConfig `toml:"openai_compatible"`
}

// AnthropicProviderConfig holds Anthropic-specific provider settings.
type AnthropicProviderConfig struct {
	APIKeySource string `toml:"api_key_source"`
	APIKey       string `toml:"api_key"`
}

// OpenAICompatibleConfig holds settings for an OpenAI-compatible provider.
type OpenAICompatibleConfig struct {
	Name         string            `toml:"name"`
	BaseURL      string            `toml:"base_url"`
	APIKeySource string            `toml:"api_key_source"`
	APIKey       string            `toml:"api_key"`
	ExtraHeaders map[string]string `toml:"extra_headers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string `toml:"addr"`
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"`
	LogFile           string `toml:"log_file"`
}

// WikiConfig holds wiki generation settings.
type WikiConfig struct {
	PageConcurrency  int      `toml:"page_concurrency"`
	MaxPageAttempts  int      `toml:"max_page_attempts"`
	MaxTokensPerPage int      `toml:"max_tokens_per_page"`
	RequestsPerMin   int      `toml:"requests_per_minute"`
	ExcludedDirs     []string `toml:"excluded_dirs"`
	ExcludedFiles    []string `toml:"excluded_files"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// DefaultConfig returns a Config populated with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Default: "anthropic",
			Model:   "claude-sonnet-4-5",
			Anthropic: AnthropicProviderConfig{
				APIKeySource: "env",
			},
		},
		Server: ServerConfig{
			Addr:              ":8484",
			MaxConcurrentJobs: 4,
			LogFile:           "repowiki.log",
		},
		Wiki: WikiConfig{
			PageConcurrency:  1,
			MaxPageAttempts:  3,
			MaxTokensPerPage: 8192,
			RequestsPerMin:   30,
			ExcludedDirs:     []string{".git", "node_modules", "vendor", "dist"},
			ExcludedFiles:    []string{"package-lock.json", "go.sum", "yarn.lock"},
		},
		Storage: StorageConfig{
			DBPath: "repowiki.db",
		},
	}
}

// Load reads configuration from the given TOML file, layered over defaults.
// A missing file is not an error; the defaults are returned as is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
