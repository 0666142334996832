package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHome_EnvOverride(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/custom-home")
	home, err := Home()
	if err != nil || home != "/tmp/custom-home" {
		t.Errorf("home: %q, %v", home, err)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickIntervalSeconds != 5 || cfg.Workers != 1 {
		t.Errorf("defaults: %+v", cfg)
	}
	if len(cfg.Policy.Allow) == 0 {
		t.Error("default allow tier empty")
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	home := t.TempDir()
	content := "tick_interval_seconds: 2\npolicy:\n  deny:\n    - filesystem.delete\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickIntervalSeconds != 2 {
		t.Errorf("tick interval: %d", cfg.TickIntervalSeconds)
	}
	if cfg.Workers != 1 {
		t.Errorf("untouched default lost: %d", cfg.Workers)
	}
	if len(cfg.Policy.Deny) != 1 || cfg.Policy.Deny[0] != "filesystem.delete" {
		t.Errorf("policy deny: %v", cfg.Policy.Deny)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("no_such_field: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestPaths(t *testing.T) {
	home := "/srv/amon"
	if got := EventsPath(home); got != filepath.Join(home, "logs", "amon.log") {
		t.Errorf("events path: %s", got)
	}
	if got := SchedulesPath(home); got != filepath.Join(home, "schedules", "schedules.json") {
		t.Errorf("schedules path: %s", got)
	}
}
