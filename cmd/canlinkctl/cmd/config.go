package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the resolved canlinkctl configuration.
type Config struct {
	Server  string
	Timeout time.Duration
}

// fileConfig is the on-disk YAML layout; the timeout is a duration string.
type fileConfig struct {
	Server  string `yaml:"server"`
	Timeout string `yaml:"timeout,omitempty"`
}

// DefaultConfigPath returns <user-config-dir>/canlink/config.yaml.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "canlink", "config.yaml")
	}
	return filepath.Join(base, "canlink", "config.yaml")
}

// LoadConfig reads the YAML config from path. A missing file yields the
// defaults with no error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Server: "127.0.0.1:20000", Timeout: 3 * time.Second}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Server != "" {
		cfg.Server = fc.Server
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: timeout: %w", path, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// SaveConfig writes the config with user-only permissions, creating the
// parent directory if needed.
func SaveConfig(path string, cfg *Config) error {
	fc := fileConfig{Server: cfg.Server, Timeout: cfg.Timeout.String()}
	data, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
