// Package config provides application configuration management for pi-island.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds the pi-island configuration.
type Config struct {
	Agent    AgentConfig    `json:"agent"`    // How to launch the pi agent
	Sessions SessionsConfig `json:"sessions"` // Transcript discovery and watching
	RPC      RPCConfig      `json:"rpc"`      // Per-session RPC behaviour
	Server   ServerConfig   `json:"server"`   // UI bridge HTTP server
}

// AgentConfig describes the agent executable and its default selectors.
type AgentConfig struct {
	Binary   string            `json:"binary,omitempty"`   // Path or name of the pi binary (default: "pi")
	Args     []string          `json:"args,omitempty"`     // Extra arguments placed before --mode rpc
	Provider string            `json:"provider,omitempty"` // Default --provider for new sessions
	Model    string            `json:"model,omitempty"`    // Default --model for new sessions
	Env      map[string]string `json:"env,omitempty"`      // Extra environment for the child
}

// SessionsConfig holds transcript-related settings.
type SessionsConfig struct {
	Dir          string `json:"dir,omitempty"` // Transcript root (default: ~/.pi/agent/sessions)
	Watch        bool   `json:"watch"`         // Enable file watching
	Debounce     string `json:"debounce"`      // Debounce duration for writes (e.g. "250ms")
	ParseWorkers int    `json:"parse_workers"` // Background parse concurrency
}

// RPCConfig holds per-session RPC settings.
type RPCConfig struct {
	RequestTimeout string `json:"request_timeout"` // Wait bound for correlated commands (e.g. "10s")
}

// ServerConfig holds settings for the UI bridge server.
type ServerConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token,omitempty"` // Bearer token; empty disables auth
}

// DebounceDuration returns the parsed debounce duration (default: 250ms).
func (c SessionsConfig) DebounceDuration() time.Duration {
	if c.Debounce != "" {
		if d, err := time.ParseDuration(c.Debounce); err == nil && d > 0 {
			return d
		}
	}
	return 250 * time.Millisecond
}

// Workers returns the parse worker count (default: 4).
func (c SessionsConfig) Workers() int {
	if c.ParseWorkers > 0 {
		return c.ParseWorkers
	}
	return 4
}

// ResolvedDir returns the transcript root, expanding the default.
func (c SessionsConfig) ResolvedDir() (string, error) {
	if c.Dir != "" {
		return expandHome(c.Dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pi", "agent", "sessions"), nil
}

// Timeout returns the parsed request timeout (default: 10s).
func (c RPCConfig) Timeout() time.Duration {
	if c.RequestTimeout != "" {
		if d, err := time.ParseDuration(c.RequestTimeout); err == nil && d > 0 {
			return d
		}
	}
	return 10 * time.Second
}

// Dir returns the path to the .pi-island directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pi-island"), nil
}

// Path returns the path to the main config file.
func Path() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// Load loads the configuration from ~/.pi-island/config.json, writing the
// defaults there on first use.
func Load() (Config, error) {
	configPath, err := Path()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg := Default()
		if saveErr := Save(cfg); saveErr != nil {
			return cfg, nil // return defaults even if save fails
		}
		return cfg, nil
	} else if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing keys keep their default values.
	config := Default()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}

	if config.Agent.Binary == "" {
		config.Agent.Binary = DefaultAgentBinary
	}
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}

	return config, nil
}

// Defaults for the server and agent.
const (
	DefaultAgentBinary = "pi"
	DefaultHost        = "localhost"
	DefaultPort        = 8796
)

// Default returns a default configuration with all defaults set.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Binary: DefaultAgentBinary,
		},
		Sessions: SessionsConfig{
			Watch:        true,
			Debounce:     "250ms",
			ParseWorkers: 4,
		},
		RPC: RPCConfig{
			RequestTimeout: "10s",
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

// Save saves the configuration to ~/.pi-island/config.json.
func Save(config Config) error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	// 0600: the server token lives here.
	return os.WriteFile(configPath, data, 0600)
}

func expandHome(path string) (string, error) {
	if path == "~" || (len(path) > 1 && path[:2] == "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
