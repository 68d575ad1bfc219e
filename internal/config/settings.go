package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Config carries every tunable of the scraper. It is loaded once and handed
// to constructors explicitly; nothing reads settings through package state.
type Config struct {
	Source struct {
		RegistryURL string `json:"registry_url"`
		Timeout     uint32 `json:"timeout"` // milliseconds
	} `json:"source"`

	Checker struct {
		Threads          uint32 `json:"threads"`
		ProbeTimeout     uint32 `json:"probe_timeout"` // milliseconds, whole check incl. browser launch
		DialTimeout      uint32 `json:"dial_timeout"`  // milliseconds, SOCKS5 reachability pre-check
		ProbeURLTemplate string `json:"probe_url_template"`
		VPNCheckURL      string `json:"vpn_check_url"`
	} `json:"checker"`

	Cache struct {
		Directory   string  `json:"directory"`
		MaxAgeHours float64 `json:"max_age_hours"`
	} `json:"cache"`

	Rotation RotationConfig `json:"rotation"`

	Browser BrowserConfig `json:"browser"`

	Retry struct {
		MaxAttempts int     `json:"max_attempts"`
		Delay       uint32  `json:"delay"` // milliseconds
		Backoff     float64 `json:"backoff"`
	} `json:"retry"`

	History struct {
		Path string `json:"path"` // empty disables the ledger
	} `json:"history"`
}

// RotationConfig decides when a long-lived session swaps its exit node.
// RandomType is "fixed" (counter = Interval[0]) or "uniform" (counter drawn
// from [Interval[0], Interval[1]] inclusive).
type RotationConfig struct {
	Enabled    bool   `json:"enabled"`
	RandomType string `json:"random_type"`
	Interval   [2]int `json:"interval"`
}

type BrowserConfig struct {
	Headless        bool   `json:"headless"`
	PageLoadTimeout uint32 `json:"page_load_timeout"` // milliseconds
}

// DefaultSettingsPath is where Load materialises the embedded defaults when
// no settings file exists yet.
const DefaultSettingsPath = "data/settings.json"

//go:embed default_settings.json
var defaultSettings []byte

// Load reads the settings file at path, creating it from the embedded
// defaults on first run. The returned Config is a plain value; callers pass
// it (or sub-structs) into constructors.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultSettingsPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read settings file: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return Config{}, fmt.Errorf("create settings directory: %w", err)
		}
		if err := os.WriteFile(path, defaultSettings, os.ModePerm); err != nil {
			return Config{}, fmt.Errorf("write default settings file: %w", err)
		}
		data = defaultSettings
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal settings file: %w", err)
	}

	log.Debug("Settings loaded", "path", path)
	return cfg, nil
}

// SourceTimeout returns the registry fetch timeout as a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.Timeout) * time.Millisecond
}

// ProbeTimeout returns the per-candidate validation budget as a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Checker.ProbeTimeout) * time.Millisecond
}

// DialTimeout returns the SOCKS5 reachability pre-check budget.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.Checker.DialTimeout) * time.Millisecond
}

// PageLoadTimeout returns the browser navigation budget as a duration.
func (c Config) PageLoadTimeout() time.Duration {
	return time.Duration(c.Browser.PageLoadTimeout) * time.Millisecond
}

// RetryDelay returns the base delay between retry attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.Delay) * time.Millisecond
}
