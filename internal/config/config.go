package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models geoforge.yml.
type Config struct {
	Server struct {
		Addr        string `yaml:"addr"`
		BasePath    string `yaml:"base_path"`
		TokenHeader string `yaml:"token_header"`
	} `yaml:"server"`
	Storage struct {
		Workspace string `yaml:"workspace"`
		OutputDir string `yaml:"output_dir"`
	} `yaml:"storage"`
	Engine struct {
		DSN string `yaml:"dsn"`
	} `yaml:"engine"`
	Sessions struct {
		// Idle minutes before the reaper expires a session.
		CleanupInterval int `yaml:"cleanup_interval"`
		// Minutes between reaper sweeps.
		SweepEvery int `yaml:"sweep_every"`
	} `yaml:"sessions"`
	Jobs struct {
		// Seconds before a running job is abandoned as hung.
		WatchdogTimeout int `yaml:"watchdog_timeout"`
	} `yaml:"jobs"`
	Results struct {
		MaxPerPage int `yaml:"max_per_page"`
	} `yaml:"results"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Workspace == "" {
		cfg.Storage.Workspace = workspace
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.TokenHeader == "" {
		return fmt.Errorf("config.server.token_header is required")
	}
	if c.Storage.Workspace == "" {
		return fmt.Errorf("config.storage.workspace is required")
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("config.storage.output_dir is required")
	}
	if c.Sessions.CleanupInterval <= 0 {
		return fmt.Errorf("config.sessions.cleanup_interval must be positive")
	}
	if c.Sessions.SweepEvery <= 0 {
		return fmt.Errorf("config.sessions.sweep_every must be positive")
	}
	if c.Jobs.WatchdogTimeout <= 0 {
		return fmt.Errorf("config.jobs.watchdog_timeout must be positive")
	}
	if c.Results.MaxPerPage <= 0 {
		return fmt.Errorf("config.results.max_per_page must be positive")
	}
	return nil
}

// SessionTTL is the idle duration after which a session expires.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.CleanupInterval) * time.Minute
}

// SweepInterval is the period between reaper sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepEvery) * time.Minute
}

// JobTimeout bounds a single engine call made by the executor.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.WatchdogTimeout) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "geoforge.yml")
}

// Default returns the default Config struct for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspace, filepath.Join(workspace, "output")))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: :8080
  base_path: /v1
  token_header: X-Token

storage:
  workspace: %s
  output_dir: %s

engine:
  dsn: postgres://localhost:5432/geoforge

sessions:
  cleanup_interval: 1440
  sweep_every: 60

jobs:
  watchdog_timeout: 1800

results:
  max_per_page: 50
`
