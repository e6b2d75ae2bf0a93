package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Point at a directory with no finderd.yaml so the search misses.
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Scheduler.PollInterval != 10*time.Second {
		t.Errorf("poll interval = %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.PoolSize != 10 {
		t.Errorf("pool size = %d", cfg.Scheduler.PoolSize)
	}
	if cfg.Logging.MaxSizeMB != 1 || cfg.Logging.MaxBackups != 7 {
		t.Errorf("rotation = %d MB × %d", cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	}
	if cfg.Providers.RRSMBaseURL == "" || cfg.Providers.ESMBaseURL == "" {
		t.Error("provider defaults missing")
	}
	if cfg.Listener.MinMagnitude != 4.0 {
		t.Errorf("min magnitude = %v", cfg.Listener.MinMagnitude)
	}

	ids := map[string]bool{}
	for _, te := range cfg.TestEvents {
		ids[te.EventID] = true
	}
	if !ids["20230206_0000008"] || !ids["20161030_0000029"] {
		t.Errorf("test events = %v", cfg.TestEvents)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finderd.yaml")
	yaml := `
store:
  path: /var/lib/finderd/tracker.db
listener:
  min_magnitude: 5.5
  target_regions: ["turkey", "greece"]
scheduler:
  poll_interval: 30s
engine:
  binary_path: /opt/finder/finder_run
  live_mode: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path != "/var/lib/finderd/tracker.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Listener.MinMagnitude != 5.5 {
		t.Errorf("min magnitude = %v", cfg.Listener.MinMagnitude)
	}
	if len(cfg.Listener.TargetRegions) != 2 {
		t.Errorf("target regions = %v", cfg.Listener.TargetRegions)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.Scheduler.PollInterval)
	}
	if !cfg.Engine.LiveMode {
		t.Error("live mode not set")
	}
	// Untouched sections keep their defaults.
	if cfg.Scheduler.PoolSize != 10 {
		t.Errorf("pool size = %d, want default", cfg.Scheduler.PoolSize)
	}
}

func TestLoadMissingExplicitFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing config accepted")
	}
}
