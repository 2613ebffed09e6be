package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// OracleConfig holds configuration for the reasoning oracle (LLM provider).
type OracleConfig struct {
	Provider    string  `json:"provider"` // "anthropic" or "openai"
	Model       string  `json:"model,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// BrowserConfig holds configuration for the browser automation bridge.
type BrowserConfig struct {
	BridgeURL      string `json:"bridge_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// EventsConfig holds configuration for the run event server.
type EventsConfig struct {
	ListenAddr string `json:"listen_addr"`
	Enabled    bool   `json:"enabled"`
}

// Config represents application configuration
type Config struct {
	Oracle  OracleConfig  `json:"oracle"`
	Browser BrowserConfig `json:"browser"`
	Events  EventsConfig  `json:"events"`

	// DatabasePath is where run records and state snapshots are written.
	DatabasePath string `json:"database_path"`

	// MaxIterations bounds a single run's iteration loop.
	MaxIterations int `json:"max_iterations"`

	// ToolTimeoutSeconds bounds a single tool execution.
	ToolTimeoutSeconds int `json:"tool_timeout_seconds"`

	// AllowedTools restricts which registered tools the caller identity may
	// execute. Empty means all tools are allowed.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "botengine")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "botengine")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "botengine")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "botengine")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "botengine")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "botengine")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "botengine")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "botengine")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Oracle: OracleConfig{
			Provider:    "anthropic",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Browser: BrowserConfig{
			BridgeURL:      "http://localhost:9222",
			TimeoutSeconds: 30,
		},
		Events: EventsConfig{
			ListenAddr: "localhost:8941",
			Enabled:    false,
		},
		DatabasePath:       filepath.Join(stateDir, "botengine.db"),
		MaxIterations:      50,
		ToolTimeoutSeconds: 60,
		LogLevel:           "info",
		LogPath:            filepath.Join(stateDir, "botengine.log"),
	}
}

// Load loads configuration from file, starting from defaults and applying
// environment overrides last.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			config.applyEnv()
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "botengine.log")
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 50
	}
	if config.ToolTimeoutSeconds <= 0 {
		config.ToolTimeoutSeconds = 60
	}

	config.applyEnv()
	return config, nil
}

// applyEnv overrides file-provided values with environment variables so API
// keys never have to live in the config file.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("BOTENGINE_PROVIDER")); v != "" {
		c.Oracle.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("BOTENGINE_MODEL")); v != "" {
		c.Oracle.Model = v
	}
	if c.Oracle.APIKey == "" {
		switch c.Oracle.Provider {
		case "openai":
			c.Oracle.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		default:
			c.Oracle.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOTENGINE_BROWSER_BRIDGE")); v != "" {
		c.Browser.BridgeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BOTENGINE_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// IsToolAllowed reports whether the configured caller identity may execute
// the named tool. An empty allowlist permits everything.
func (c *Config) IsToolAllowed(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range c.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}
