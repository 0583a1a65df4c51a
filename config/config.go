// Package config handles ctxsync configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level ctxsync configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Settings SettingsConfig `yaml:"settings"`
	Server   ServerConfig   `yaml:"server"`
	LogLevel string         `yaml:"log_level"` // debug | info | warn | error
}

// BrowserConfig selects the Chrome to drive.
type BrowserConfig struct {
	Remote      string `yaml:"remote"` // DevTools ws:// URL; empty = launch
	Headful     bool   `yaml:"headful"`
	UserDataDir string `yaml:"user_data_dir"`
	KeepAlive   bool   `yaml:"keep_alive"`
	Stealth     bool   `yaml:"stealth"`
}

// SessionConfig tunes save and restore runs.
type SessionConfig struct {
	LoadTimeout time.Duration `yaml:"load_timeout"`
	FailFast    bool          `yaml:"fail_fast"`
}

// StoreConfig points at the remote document store.
type StoreConfig struct {
	APIURL   string `yaml:"api_url"`
	GistName string `yaml:"gist_name"`
	MaxBody  int64  `yaml:"max_body"`
	// PassphraseEnv names the environment variable holding the passphrase
	// that seals snapshots. Unset or empty variable = plain JSON.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// SettingsConfig locates local state.
type SettingsConfig struct {
	DB             string `yaml:"db"`
	KeyringService string `yaml:"keyring_service"`
}

// ServerConfig controls `ctxsync serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file. An empty path yields Default.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Session.LoadTimeout <= 0 {
		c.Session.LoadTimeout = 30 * time.Second
	}
	if c.Store.APIURL == "" {
		c.Store.APIURL = "https://api.github.com"
	}
	if c.Store.GistName == "" {
		c.Store.GistName = "chrome-context-sync.json"
	}
	if c.Store.MaxBody <= 0 {
		c.Store.MaxBody = 32 << 20
	}
	if c.Settings.DB == "" {
		c.Settings.DB = defaultDBPath()
	}
	if c.Settings.KeyringService == "" {
		c.Settings.KeyringService = "ctxsync"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7717"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if r := c.Browser.Remote; r != "" && !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
		errs = append(errs, fmt.Errorf("config: browser.remote must be a ws:// or wss:// URL, got %q", r))
	}
	if strings.ContainsAny(c.Store.GistName, "/\\") {
		errs = append(errs, fmt.Errorf("config: store.gist_name must be a bare file name, got %q", c.Store.GistName))
	}
	return errors.Join(errs...)
}

// Passphrase returns the snapshot passphrase, or "" when sealing is off.
func (c *Config) Passphrase() string {
	if c.Store.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Store.PassphraseEnv)
}

// ParseLevel maps a log_level string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ctxsync", "ctxsync.db")
}
