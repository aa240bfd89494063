package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("/srv/geoforge")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.BasePath != "/v1" || cfg.Server.TokenHeader != "X-Token" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Storage.Workspace != "/srv/geoforge" {
		t.Fatalf("unexpected workspace: %q", cfg.Storage.Workspace)
	}
	if cfg.Storage.OutputDir != filepath.Join("/srv/geoforge", "output") {
		t.Fatalf("unexpected output dir: %q", cfg.Storage.OutputDir)
	}
	if cfg.SessionTTL() != 24*time.Hour {
		t.Fatalf("unexpected session TTL: %v", cfg.SessionTTL())
	}
	if cfg.SweepInterval() != time.Hour {
		t.Fatalf("unexpected sweep interval: %v", cfg.SweepInterval())
	}
	if cfg.JobTimeout() != 30*time.Minute {
		t.Fatalf("unexpected job timeout: %v", cfg.JobTimeout())
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Workspace != dir {
		t.Fatalf("expected workspace %q, got %q", dir, cfg.Storage.Workspace)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yml := `server:
  addr: :9999
  token_header: X-Custom
storage:
  output_dir: /out
engine:
  dsn: postgres://db:5432/geo
sessions:
  cleanup_interval: 30
  sweep_every: 5
jobs:
  watchdog_timeout: 60
results:
  max_per_page: 20
`
	if err := os.WriteFile(Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Server.TokenHeader != "X-Custom" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	// Workspace defaults to the directory the config was loaded from.
	if cfg.Storage.Workspace != dir {
		t.Fatalf("expected workspace %q, got %q", dir, cfg.Storage.Workspace)
	}
	if cfg.SessionTTL() != 30*time.Minute || cfg.JobTimeout() != time.Minute {
		t.Fatalf("unexpected durations: %v %v", cfg.SessionTTL(), cfg.JobTimeout())
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		mutate func(*Config)
		want   string
	}{
		{func(c *Config) { c.Server.TokenHeader = "" }, "token_header"},
		{func(c *Config) { c.Storage.OutputDir = "" }, "output_dir"},
		{func(c *Config) { c.Sessions.CleanupInterval = 0 }, "cleanup_interval"},
		{func(c *Config) { c.Sessions.SweepEvery = -1 }, "sweep_every"},
		{func(c *Config) { c.Jobs.WatchdogTimeout = 0 }, "watchdog_timeout"},
		{func(c *Config) { c.Results.MaxPerPage = 0 }, "max_per_page"},
	}
	for _, tc := range cases {
		cfg := Default("/srv/geoforge")
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("expected error containing %q, got %v", tc.want, err)
		}
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("server: [not a map")); err == nil {
		t.Fatal("expected parse error")
	}
}
