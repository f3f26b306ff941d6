// Package config loads the hovertime configuration: a YAML file, then
// HOVERTIME_* environment overrides, then defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // timezone names work on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/hovertime/classify"
	"github.com/hazyhaar/hovertime/display"
	"github.com/hazyhaar/hovertime/domwatch"
	"github.com/hazyhaar/hovertime/store"
)

// Config is the top-level configuration. Browser, page, debounce and sink
// settings sit at the root of the file.
type Config struct {
	domwatch.Config `yaml:",inline"`

	DBPath    string             `yaml:"db_path"`
	Storage   StorageConfig      `yaml:"storage"`
	Selectors classify.Selectors `yaml:"selectors"`
	Delays    DelayConfig        `yaml:"delays"`
	Defaults  display.Settings   `yaml:"defaults"` // display settings before any save
	HTTP      HTTPConfig         `yaml:"http"`
	Timezone  string             `yaml:"timezone"` // IANA name, empty = local
	LogLevel  string             `yaml:"log_level"`
}

// StorageConfig names the persisted keys.
type StorageConfig struct {
	TimestampsKey string        `yaml:"timestamps_key"`
	SettingsKey   string        `yaml:"settings_key"`
	WatchInterval time.Duration `yaml:"watch_interval"` // external settings change polling
}

// DelayConfig holds the coordinator delays.
type DelayConfig struct {
	StateAttach time.Duration `yaml:"state_attach"`
	Retry       time.Duration `yaml:"retry"`
	Rescan      time.Duration `yaml:"rescan"`
}

// HTTPConfig configures the API server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Defaults: display.Defaults()}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML file over the defaults. Fields absent from the
// file keep their default, including individual display settings.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := &Config{Defaults: display.Defaults()}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	c.Config.ApplyDefaults()
	if c.DBPath == "" {
		c.DBPath = "hovertime.db"
	}
	if c.Storage.TimestampsKey == "" {
		c.Storage.TimestampsKey = store.DefaultTimestampsKey
	}
	if c.Storage.SettingsKey == "" {
		c.Storage.SettingsKey = store.DefaultSettingsKey
	}
	if c.Storage.WatchInterval <= 0 {
		c.Storage.WatchInterval = 2 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ApplyEnv overrides fields from HOVERTIME_* variables read through
// getenv (os.Getenv in production).
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&c.DBPath, "HOVERTIME_DB")
	set(&c.HTTP.Addr, "HOVERTIME_HTTP_ADDR")
	set(&c.LogLevel, "HOVERTIME_LOG_LEVEL")
	set(&c.Browser.Remote, "HOVERTIME_CHROME_URL")
	set(&c.Browser.UserDataDir, "HOVERTIME_USER_DATA_DIR")
	set(&c.Page.URL, "HOVERTIME_PAGE_URL")
	set(&c.Timezone, "HOVERTIME_TZ")
}

// Validate checks what defaults cannot repair.
func (c *Config) Validate() error {
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("config: defaults: %w", err)
	}
	if _, err := classify.New(c.Selectors); err != nil {
		return fmt.Errorf("config: selectors: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// Location returns the display time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
