package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "sportcal/internal/log"
)

// Backend schemas select the wire shape of the create-event request body and
// the endpoint layout used against the Event Store.
const (
	SchemaPlain      = "plain"
	SchemaForeignKey = "foreignkey"
	SchemaLegacy     = "legacy"
)

// Environment variables read from the process or a .env file.
const (
	EnvBackendURL = "SPORTCAL_BACKEND_URL"
	EnvListen     = "SPORTCAL_LISTEN"
)

// BackendConfig describes the REST backend (Options Provider + Event Store).
type BackendConfig struct {
	// BaseURL is prepended to every endpoint path. Empty means same origin
	// as the page, which for a standalone process means "no server".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Schema is one of "plain", "foreignkey" or "legacy".
	Schema string `yaml:"schema" json:"schema"`

	// TimeoutSeconds bounds each request to the backend.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// FormConfig holds the per-variant knobs of the creation form.
type FormConfig struct {
	// ResetSelections resets the sport/venue selects to their placeholder
	// after a successful submission.
	ResetSelections bool `yaml:"reset_selections" json:"reset_selections"`

	// TitleWithStatus appends " ({status})" to the derived title.
	TitleWithStatus bool `yaml:"title_with_status" json:"title_with_status"`

	// SuccessNotice, if set, is shown as a notice after a successful save.
	SuccessNotice string `yaml:"success_notice,omitempty" json:"success_notice,omitempty"`
}

// LogConfig controls the level and optional file output of internal/log.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the calendar page.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for "local" date formatting. Empty
	// means the process' local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" or "sunday" and drives the week/month grids.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DateLayout is the Go layout used for the flat list's date column.
	DateLayout string `yaml:"date_layout" json:"date_layout"`

	// RefreshCron reloads options and events on a cron schedule. Empty
	// disables periodic reloads.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Backend BackendConfig `yaml:"backend" json:"backend"`
	Form    FormConfig    `yaml:"form" json:"form"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// DefaultDateLayout renders like an en-US toLocaleString().
const DefaultDateLayout = "1/2/2006, 3:04:05 PM"

// Defaults pair the /api/* backend (schemas plain and foreignkey) with its
// usual origin. The legacy backend listens on :8000 and needs schema legacy.
const (
	DefaultListen  = "127.0.0.1:8080"
	DefaultBaseURL = "http://127.0.0.1:5000"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      DefaultListen,
		Timezone:    "",
		WeekStart:   "monday",
		DateLayout:  DefaultDateLayout,
		RefreshCron: "",
		Backend: BackendConfig{
			BaseURL:        DefaultBaseURL,
			Schema:         SchemaForeignKey,
			TimeoutSeconds: 15,
		},
		Form: FormConfig{
			ResetSelections: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.DateLayout == "" {
		c.DateLayout = DefaultDateLayout
	}

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	switch c.Backend.Schema {
	case SchemaPlain, SchemaForeignKey, SchemaLegacy:
	default:
		c.Backend.Schema = SchemaForeignKey
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 15
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB <= 0 {
			c.Log.MaxSizeMB = 10
		}
		if c.Log.MaxBackups <= 0 {
			c.Log.MaxBackups = 3
		}
	}
}

// ApplyEnv loads envFile (if it exists) into the process environment and
// lets SPORTCAL_* variables override the file-based values.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	c.Normalize()
	return nil
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
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to path atomically (temp file +
// rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".sportcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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
	return os.Rename(tmpName, path)
}

// Location resolves Timezone, falling back to the local zone when it is
// empty or unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}
