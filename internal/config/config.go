package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds the persistence collaborator's connection settings.
// DSN may be overridden by the LMSCAL_DB_DSN environment variable at startup.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the calendar API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as the canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday is treated as the first day of the
	// week in calendar views. Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// driving the periodic calendar-snapshot refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days covered by the default
	// calendar window and the snapshot refresh.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// SlotGranularityMinutes is the rounding applied to start timestamps
	// when deduplicating. It must match the granularity the lesson-schedule
	// generator uses.
	SlotGranularityMinutes int `yaml:"slot_granularity_minutes" json:"slot_granularity_minutes"`

	// DefaultLessonMinutes is the assumed duration of a planned lesson slot
	// that carries no explicit duration.
	DefaultLessonMinutes int `yaml:"default_lesson_minutes" json:"default_lesson_minutes"`

	// MaxOccurrencesPerTemplate caps recurrence expansion per template.
	MaxOccurrencesPerTemplate int `yaml:"max_occurrences_per_template" json:"max_occurrences_per_template"`

	// Database configures the persistence layer.
	Database DatabaseConfig `yaml:"database" json:"database"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                    "127.0.0.1:8080",
		Timezone:                  "UTC",
		WeekStart:                 "monday",
		RefreshCron:               "*/15 * * * *",
		HorizonDays:               7,
		SlotGranularityMinutes:    1,
		DefaultLessonMinutes:      90,
		MaxOccurrencesPerTemplate: 5000,
		Database:                  DatabaseConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	case "":
		c.WeekStart = "monday"
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.SlotGranularityMinutes <= 0 {
		c.SlotGranularityMinutes = 1
	}
	if c.DefaultLessonMinutes <= 0 {
		c.DefaultLessonMinutes = 90
	}
	if c.MaxOccurrencesPerTemplate <= 0 {
		c.MaxOccurrencesPerTemplate = 5000
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".lmscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
