package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Workers.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want 4", cfg.Workers.PoolSize)
	}
	if cfg.Company != "default" {
		t.Errorf("Company = %q, want default", cfg.Company)
	}
	if cfg.SchedulerInterval() != time.Minute {
		t.Errorf("SchedulerInterval = %v, want 1m", cfg.SchedulerInterval())
	}
	if cfg.DataPath() != filepath.Join(home, "data") {
		t.Errorf("DataPath = %q", cfg.DataPath())
	}
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	yaml := `
company: acme
log_level: debug
workers:
  pool_size: 2
  task_timeout_seconds: 30
scheduler:
  interval_seconds: 5
remote_memory:
  url: ws://127.0.0.1:9999/memory
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Company != "acme" {
		t.Errorf("Company = %q", cfg.Company)
	}
	if cfg.Workers.PoolSize != 2 {
		t.Errorf("PoolSize = %d", cfg.Workers.PoolSize)
	}
	if cfg.TaskTimeout() != 30*time.Second {
		t.Errorf("TaskTimeout = %v", cfg.TaskTimeout())
	}
	if cfg.RemoteMemory.URL != "ws://127.0.0.1:9999/memory" {
		t.Errorf("RemoteMemory.URL = %q", cfg.RemoteMemory.URL)
	}
}

func TestLoadRejectsBadCompany(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(ConfigPath(home), []byte("company: ../evil\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(home); err == nil {
		t.Fatal("expected error for traversal company id")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(ConfigPath(home), []byte("{{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(home); err == nil {
		t.Fatal("expected error for malformed config.yaml")
	}
}
