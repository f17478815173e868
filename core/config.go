package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the operator-side framework configuration.
type Config struct {
	// Listener settings for reverse shell callbacks.
	Listener ListenerConfig `yaml:"listener"`

	// SSH settings for attaching to targets over SSH.
	SSH SSHConfig `yaml:"ssh"`

	// Remote tuning for the shell channel protocol.
	Remote RemoteConfig `yaml:"remote"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Database settings.
	Database DatabaseConfig `yaml:"database"`
}

// ListenerConfig holds reverse shell listener settings.
type ListenerConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

// SSHConfig holds defaults for SSH-attached targets.
type SSHConfig struct {
	User    string `yaml:"user"`
	KeyFile string `yaml:"key_file"`
}

// RemoteConfig tunes the channel protocol.
type RemoteConfig struct {
	// ReadTimeout bounds each blocking receive on the channel.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// TempDir is where remote temp files are created.
	TempDir string `yaml:"temp_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	File  string `yaml:"file"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			BindAddr: "0.0.0.0:4444",
		},
		SSH: SSHConfig{
			User: "root",
		},
		Remote: RemoteConfig{
			ReadTimeout: 30 * time.Second,
			TempDir:     "/tmp",
		},
		Logging: LoggingConfig{
			Debug: false,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults
// when path is empty. Unset fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Remote.ReadTimeout <= 0 {
		return nil, fmt.Errorf("remote.read_timeout must be positive")
	}
	return cfg, nil
}

// SaveConfig writes configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "grapnel.db"
	}
	return filepath.Join(home, ".grapnel", "grapnel.db")
}
