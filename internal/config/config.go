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
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Secrets (store DSN) may instead come from the environment or
// a .env file; see ApplyEnv.

// ProviderConfig describes the schedule provider.
type ProviderConfig struct {
	// BaseURL is the Ergast-compatible API root.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// TimeoutSeconds bounds a single provider request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// MinSeason / MaxSeason bound the seasons the provider is asked for.
	MinSeason int `yaml:"min_season" json:"min_season"`
	MaxSeason int `yaml:"max_season" json:"max_season"`
}

// CacheConfig describes the on-disk schedule cache.
type CacheConfig struct {
	Dir string `yaml:"dir" json:"dir"`
	// FreshnessMinutes is the maximum cache age served without a network call.
	FreshnessMinutes int `yaml:"freshness_minutes" json:"freshness_minutes"`
}

// StoreConfig describes the optional PostgreSQL store. An empty DSN
// disables persistence.
type StoreConfig struct {
	DSN string `yaml:"dsn,omitempty" json:"-"`
}

// CaptureConfig controls headless PNG snapshots of the dashboard.
type CaptureConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	URL            string `yaml:"url" json:"url"`
	OutputPath     string `yaml:"output_path" json:"output_path"`
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used by display surfaces. The pipeline
	// itself always works in UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Season to show by default. Zero means the year of the reference instant.
	Season int `yaml:"season" json:"season"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *") for the
	// serve-mode refresh job.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "UTC"
	defaultRefresh   = "0 * * * *"
	defaultLogLevel  = "info"
	defaultBaseURL   = "https://api.jolpi.ca/ergast/f1"
	defaultCacheDir  = "./var/schedule-cache"
	defaultMinSeason = 2018
	defaultMaxSeason = 2035
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		RefreshCron: defaultRefresh,
		LogLevel:    defaultLogLevel,
		Provider: ProviderConfig{
			BaseURL:        defaultBaseURL,
			TimeoutSeconds: 15,
			MinSeason:      defaultMinSeason,
			MaxSeason:      defaultMaxSeason,
		},
		Cache: CacheConfig{
			Dir:              defaultCacheDir,
			FreshnessMinutes: 360,
		},
		Capture: CaptureConfig{
			Enabled:        false,
			URL:            "http://" + defaultListen + "/calendar",
			OutputPath:     "./var/calendar.png",
			Width:          1280,
			Height:         1600,
			TimeoutSeconds: 30,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Season < 0 {
		c.Season = 0
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = d.LogLevel
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = d.Provider.BaseURL
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = d.Provider.TimeoutSeconds
	}
	if c.Provider.MinSeason <= 0 {
		c.Provider.MinSeason = d.Provider.MinSeason
	}
	if c.Provider.MaxSeason < c.Provider.MinSeason {
		c.Provider.MaxSeason = max(d.Provider.MaxSeason, c.Provider.MinSeason)
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = d.Cache.Dir
	}
	if c.Cache.FreshnessMinutes < 0 {
		c.Cache.FreshnessMinutes = 0
	}

	if c.Capture.URL == "" {
		c.Capture.URL = "http://" + c.Listen + "/calendar"
	}
	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = d.Capture.OutputPath
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = d.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = d.Capture.Height
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = d.Capture.TimeoutSeconds
	}
}

// ProviderTimeout returns the provider timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// CacheFreshness returns the cache freshness window as a duration.
func (c *Config) CacheFreshness() time.Duration {
	return time.Duration(c.Cache.FreshnessMinutes) * time.Minute
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overlays environment variables, loading envFile first if it
// exists. Values already present in the process environment win over the
// file. Recognized keys:
//
//	RACECAL_STORE_DSN (or DATABASE_URL)
//	RACECAL_CACHE_DIR
//	RACECAL_LOG_LEVEL
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if v := os.Getenv("RACECAL_STORE_DSN"); v != "" {
		c.Store.DSN = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("RACECAL_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("RACECAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
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

	tmp, err := os.CreateTemp(dir, ".racecal-config-*.tmp")
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
