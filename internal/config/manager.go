// Package config loads, saves, and hot-reloads the user's persistent
// configuration from the platform config directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	Provider string `json:"provider,omitempty"` // gemini, anthropic, openai
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"` // optional API base URL override

	WorkDir string `json:"work_dir,omitempty"` // tool working directory

	DebugLevel           string  `json:"debug_level,omitempty"` // DEBUG, INFO, WARNING, ERROR
	MaxSessionTurns      int     `json:"max_session_turns,omitempty"`
	CompressionThreshold float64 `json:"compression_threshold,omitempty"`
	ToolTimeoutSeconds   int     `json:"tool_timeout_seconds,omitempty"`
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a manager rooted at the platform config dir.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("get user config dir: %w", err)
	}
	return &Manager{configDir: filepath.Join(configDir, "rowboat")}, nil
}

// NewManagerAt creates a manager rooted at an explicit directory.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the config directory.
func (m *Manager) Dir() string {
	return m.configDir
}

// Path returns the absolute path to the config.json file.
func (m *Manager) Path() string {
	return filepath.Join(m.configDir, "config.json")
}

// SessionsDir returns the directory session files persist under.
func (m *Manager) SessionsDir() string {
	return filepath.Join(m.configDir, "sessions")
}

// Load reads the configuration from disk. A missing file yields an
// empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.Path()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration with owner-only permissions; the file
// can carry an API key.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.Path(), data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Exists checks whether the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return !os.IsNotExist(err)
}
