package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FirstRunCreatesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("unexpected default listen %q", cfg.Listen)
	}
	if cfg.DefaultLessonMinutes != 90 {
		t.Fatalf("unexpected default lesson minutes %d", cfg.DefaultLessonMinutes)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 perms, got %o", perm)
	}
}

func TestLoad_PartialConfigNormalized(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "listen: \"0.0.0.0:9000\"\nweek_start: \"friday\"\nhorizon_days: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("explicit value overwritten: %q", cfg.Listen)
	}
	if cfg.WeekStart != "monday" {
		t.Fatalf("invalid week_start not normalized: %q", cfg.WeekStart)
	}
	if cfg.HorizonDays != 7 {
		t.Fatalf("zero horizon not normalized: %d", cfg.HorizonDays)
	}
	if cfg.SlotGranularityMinutes != 1 {
		t.Fatalf("zero slot granularity not normalized: %d", cfg.SlotGranularityMinutes)
	}
}

func TestSaveAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Database.DSN = "host=localhost user=lms dbname=lms"
	cfg.HorizonDays = 14
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Database.DSN != cfg.Database.DSN {
		t.Fatalf("DSN not round-tripped: %q", reloaded.Database.DSN)
	}
	if reloaded.HorizonDays != 14 {
		t.Fatalf("HorizonDays not round-tripped: %d", reloaded.HorizonDays)
	}
}
