// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// ollamachat.
//
// Configuration lives in ~/.ollamachat/config.toml, with sensible
// defaults, environment variable overrides, and validation.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"ollamachat/internal/model"
	"ollamachat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Storage modes.
const (
	// StorageLocal persists chats in an embedded SQLite database.
	StorageLocal = "local"

	// StorageRemote persists chats through a chatd backend over HTTP.
	StorageRemote = "remote"
)

// Config represents the complete ollamachat configuration.
type Config struct {
	Version string `toml:"version"`

	// Ollama is the inference server configuration.
	Ollama OllamaConfig `toml:"ollama"`

	// Storage selects where chats are persisted.
	Storage StorageConfig `toml:"storage"`

	// Server configures the chatd daemon.
	Server ServerConfig `toml:"server"`

	// UI configures the terminal interface.
	UI UIConfig `toml:"ui"`

	// Personas are user-defined system prompt presets, shown alongside
	// the built-in ones.
	Personas []PersonaConfig `toml:"personas"`
}

// OllamaConfig contains inference server settings.
type OllamaConfig struct {
	// URL is the Ollama server address.
	URL string `toml:"url"`

	// Model is the preferred model. Updated when the user switches
	// models so the choice survives restarts.
	Model string `toml:"model"`

	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs"`

	// StreamTimeoutSecs bounds connection establishment for streaming
	// requests. The stream itself has no deadline.
	StreamTimeoutSecs int `toml:"stream_timeout_secs"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	// Mode is "local" (embedded SQLite) or "remote" (chatd over HTTP).
	Mode string `toml:"mode"`

	// DatabasePath overrides the SQLite database location. Empty uses
	// ~/.ollamachat/chat.db.
	DatabasePath string `toml:"database_path"`

	// ChatdURL is the chatd base URL for remote mode.
	ChatdURL string `toml:"chatd_url"`
}

// ServerConfig contains chatd daemon settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `toml:"host"`

	// Port is the listen port.
	Port int `toml:"port"`

	// ImageDir overrides where uploaded images are stored. Empty uses
	// ~/.ollamachat/images.
	ImageDir string `toml:"image_dir"`
}

// UIConfig contains terminal interface settings.
type UIConfig struct {
	// Theme is "dark", "light", or "auto".
	Theme string `toml:"theme"`

	// ShowStats displays token throughput after each reply.
	ShowStats bool `toml:"show_stats"`

	// CompactMode tightens message spacing.
	CompactMode bool `toml:"compact_mode"`
}

// PersonaConfig is a user-defined persona entry.
type PersonaConfig struct {
	Key    string `toml:"key"`
	Label  string `toml:"label"`
	Prompt string `toml:"prompt"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Ollama: OllamaConfig{
			URL:               "http://127.0.0.1:11434",
			Model:             "",
			TimeoutSecs:       30,
			StreamTimeoutSecs: 5,
		},

		Storage: StorageConfig{
			Mode:     StorageLocal,
			ChatdURL: "http://127.0.0.1:11555",
		},

		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 11555,
		},

		UI: UIConfig{
			Theme:       "dark",
			ShowStats:   true,
			CompactMode: false,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the ollamachat data directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ollamachat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the data directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chat.db"), nil
}

// ImageDir returns where uploaded images are stored.
func (c *Config) ImageDir() (string, error) {
	if c.Server.ImageDir != "" {
		return c.Server.ImageDir, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "images"), nil
}

// LogPath returns the diagnostic log location.
func LogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ollamachat.log"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the configuration from ~/.ollamachat/config.toml, falling
// back to defaults when the file does not exist. Environment overrides
// are applied last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the configuration from a specific file. A missing
// file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default config file.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to the given path.
// RELIABILITY: Atomic write with fsync prevents a truncated config on
// crash.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# ollamachat configuration file")
	fmt.Fprintln(&buf, "# Generated by ollamachat - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = defaults.Ollama.URL
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}
	if c.Ollama.StreamTimeoutSecs == 0 {
		c.Ollama.StreamTimeoutSecs = defaults.Ollama.StreamTimeoutSecs
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = defaults.Storage.Mode
	}
	if c.Storage.ChatdURL == "" {
		c.Storage.ChatdURL = defaults.Storage.ChatdURL
	}
	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns the first error.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Ollama.URL); err != nil {
		return ValidationError{Field: "ollama.url", Message: fmt.Sprintf("invalid URL: %v", err)}
	}
	if c.Ollama.TimeoutSecs < 0 {
		return ValidationError{Field: "ollama.timeout_secs", Message: "must be non-negative"}
	}
	if c.Ollama.StreamTimeoutSecs < 0 {
		return ValidationError{Field: "ollama.stream_timeout_secs", Message: "must be non-negative"}
	}

	if c.Storage.Mode != StorageLocal && c.Storage.Mode != StorageRemote {
		return ValidationError{
			Field:   "storage.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: local, remote", c.Storage.Mode),
		}
	}
	if c.Storage.Mode == StorageRemote {
		if _, err := url.Parse(c.Storage.ChatdURL); err != nil {
			return ValidationError{Field: "storage.chatd_url", Message: fmt.Sprintf("invalid URL: %v", err)}
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		}
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		return ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		}
	}

	seen := make(map[string]bool, len(c.Personas))
	for _, p := range c.Personas {
		if strings.TrimSpace(p.Key) == "" || strings.TrimSpace(p.Prompt) == "" {
			return ValidationError{Field: "personas", Message: "key and prompt must not be empty"}
		}
		if seen[p.Key] {
			return ValidationError{Field: "personas", Message: fmt.Sprintf("duplicate key '%s'", p.Key)}
		}
		seen[p.Key] = true
	}

	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - OLLAMACHAT_OLLAMA_URL: overrides ollama.url
//   - OLLAMACHAT_MODEL: overrides ollama.model
//   - OLLAMACHAT_STORAGE_MODE: overrides storage.mode
//   - OLLAMACHAT_CHATD_URL: overrides storage.chatd_url
//   - OLLAMACHAT_PORT: overrides server.port
//   - OLLAMACHAT_THEME: overrides ui.theme
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OLLAMACHAT_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("OLLAMACHAT_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("OLLAMACHAT_STORAGE_MODE"); v != "" {
		c.Storage.Mode = v
	}
	if v := os.Getenv("OLLAMACHAT_CHATD_URL"); v != "" {
		c.Storage.ChatdURL = v
	}
	if v := os.Getenv("OLLAMACHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("OLLAMACHAT_THEME"); v != "" {
		c.UI.Theme = v
	}
}

// =============================================================================
// PERSONAS
// =============================================================================

// AllPersonas returns the built-in personas followed by the custom ones
// from the config file. A custom persona with a built-in key replaces
// the built-in.
func (c *Config) AllPersonas() []model.Persona {
	custom := make(map[string]model.Persona, len(c.Personas))
	for _, p := range c.Personas {
		custom[p.Key] = model.Persona{Key: p.Key, Label: p.Label, Prompt: p.Prompt}
	}

	personas := make([]model.Persona, 0, len(model.BuiltinPersonas)+len(c.Personas))
	for _, p := range model.BuiltinPersonas {
		if override, ok := custom[p.Key]; ok {
			personas = append(personas, override)
			delete(custom, p.Key)
			continue
		}
		personas = append(personas, p)
	}
	for _, p := range c.Personas {
		if _, ok := custom[p.Key]; ok {
			personas = append(personas, custom[p.Key])
		}
	}
	return personas
}

// SaveModel records the preferred model and persists the config so the
// choice survives restarts.
func (c *Config) SaveModel(name string) error {
	c.Ollama.Model = name
	return c.Save()
}
