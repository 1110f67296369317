// Package config handles configuration parsing for sshdrive.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/sshdrive/config.yaml or ~/.config/sshdrive/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sshdrive", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Hosts     []HostConfig    `yaml:"hosts"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`
	Security  SecurityConfig  `yaml:"security"`
}

// HostConfig defines a remote host the tool can drive.
type HostConfig struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"` // env var containing the SSH password
	ScriptPath  string `yaml:"script_path"`  // remote script to run when no command is given
	Enabled     bool   `yaml:"enabled"`
}

// SessionConfig tunes the interactive session engine's deadlines.
type SessionConfig struct {
	OverallTimeout    time.Duration `yaml:"overall_timeout"`
	PromptWait        time.Duration `yaml:"prompt_wait"`
	FallbackSendAfter time.Duration `yaml:"fallback_send_after"`
	IdleAfterSend     time.Duration `yaml:"idle_after_send"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines transcript recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // record session transcripts
	Path    string `yaml:"path"`    // directory to store recordings
}

// SecurityConfig defines credential handling settings.
type SecurityConfig struct {
	UseKeyring bool `yaml:"use_keyring"` // use the OS keyring for stored passwords
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			OverallTimeout:    10 * time.Minute,
			PromptWait:        15 * time.Second,
			FallbackSendAfter: 3 * time.Second,
			IdleAfterSend:     10 * time.Second,
			PollInterval:      100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Security: SecurityConfig{
			UseKeyring: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("hosts[%d]: duplicate name %q", i, h.Name)
		}
		seen[h.Name] = true
		if h.Enabled {
			if h.Host == "" {
				return fmt.Errorf("host %q: host is required", h.Name)
			}
			if h.User == "" {
				return fmt.Errorf("host %q: user is required", h.Name)
			}
		}
	}
	if c.Session.PollInterval < 0 {
		return fmt.Errorf("session: poll_interval must not be negative")
	}
	return nil
}

// Host looks up an enabled host by name. With an empty name it returns the
// sole enabled host, if there is exactly one.
func (c *Config) Host(name string) (*HostConfig, error) {
	if name == "" {
		var only *HostConfig
		for i := range c.Hosts {
			if !c.Hosts[i].Enabled {
				continue
			}
			if only != nil {
				return nil, fmt.Errorf("multiple enabled hosts, pick one with -host")
			}
			only = &c.Hosts[i]
		}
		if only == nil {
			return nil, fmt.Errorf("no enabled hosts configured")
		}
		return only, nil
	}

	for i := range c.Hosts {
		if c.Hosts[i].Name == name {
			if !c.Hosts[i].Enabled {
				return nil, fmt.Errorf("host %q is disabled", name)
			}
			return &c.Hosts[i], nil
		}
	}
	return nil, fmt.Errorf("unknown host %q", name)
}
