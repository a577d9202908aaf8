// Package config handles TOML-based configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"unfurl/internal/classify"
)

// Duration is a time.Duration written as a Go duration string ("90s", "10m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all application configuration.
type Config struct {
	Listen   string `toml:"listen"`
	MediaDir string `toml:"media_dir"`
	TempDir  string `toml:"temp_dir"`

	YtDlpPath      string   `toml:"ytdlp_path"`
	ExtractTimeout Duration `toml:"extract_timeout"`
	MergeTimeout   Duration `toml:"merge_timeout"`

	APITimeout      Duration `toml:"api_timeout"`
	APIRetries      int      `toml:"api_retries"`
	DownloadTimeout Duration `toml:"download_timeout"`
	MaxMediaBytes   int64    `toml:"max_media_bytes"`
	MaxQuoteDepth   int      `toml:"max_quote_depth"`

	MetadataFallback bool     `toml:"metadata_fallback"`
	HostAPatterns    []string `toml:"host_a_patterns"`
	HostBPatterns    []string `toml:"host_b_patterns"`

	CORSOrigins string `toml:"cors_origins"`
	IndexFile   string `toml:"index_file"`
	LogLevel    string `toml:"log_level"`
	Debug       bool   `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:           ":8000",
		MediaDir:         "media",
		TempDir:          os.TempDir(),
		YtDlpPath:        "yt-dlp",
		ExtractTimeout:   Duration{60 * time.Second},
		MergeTimeout:     Duration{10 * time.Minute},
		APITimeout:       Duration{20 * time.Second},
		APIRetries:       2,
		DownloadTimeout:  Duration{2 * time.Minute},
		MaxMediaBytes:    512 << 20,
		MaxQuoteDepth:    10,
		MetadataFallback: false,
		HostAPatterns:    slices.Clone(classify.DefaultHostA),
		HostBPatterns:    slices.Clone(classify.DefaultHostB),
		CORSOrigins:      "*",
		LogLevel:         "info",
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "unfurl"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "unfurl"), nil
}

// ConfigPath returns the default path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at the default location and merges it with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path, false)
}

// LoadFile reads the config file at path and merges it with defaults.
// A missing file is an error only when required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("media_dir cannot be empty")
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}
	if c.YtDlpPath == "" {
		return fmt.Errorf("ytdlp_path cannot be empty")
	}

	timeouts := map[string]Duration{
		"extract_timeout":  c.ExtractTimeout,
		"merge_timeout":    c.MergeTimeout,
		"api_timeout":      c.APITimeout,
		"download_timeout": c.DownloadTimeout,
	}
	for name, d := range timeouts {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration)
		}
	}

	if c.APIRetries < 0 || c.APIRetries > 10 {
		return fmt.Errorf("api_retries must be between 0 and 10, got %d", c.APIRetries)
	}
	if c.MaxQuoteDepth < 1 || c.MaxQuoteDepth > 50 {
		return fmt.Errorf("max_quote_depth must be between 1 and 50, got %d", c.MaxQuoteDepth)
	}
	if c.MaxMediaBytes <= 0 {
		return fmt.Errorf("max_media_bytes must be positive, got %d", c.MaxMediaBytes)
	}
	if len(c.HostAPatterns) == 0 || len(c.HostBPatterns) == 0 {
		return fmt.Errorf("host pattern lists cannot be empty")
	}

	if _, err := log.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("unsupported log_level %q (valid: trace, debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// Level returns the effective log level; Debug overrides LogLevel.
func (c *Config) Level() log.Level {
	if c.Debug {
		return log.DebugLevel
	}
	lvl, err := log.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// ExpandDir resolves ~ in a configured directory path and makes it absolute.
func ExpandDir(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	return filepath.Abs(dir)
}
