// Package config loads the scale-sync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvDatabaseURL overrides history.dsn when set.
const EnvDatabaseURL = "SCALESYNC_DATABASE_URL"

// Config holds all application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Scale    ScaleConfig   `yaml:"scale"`
	Sync     SyncConfig    `yaml:"sync"`
	History  HistoryConfig `yaml:"history"`
	Upload   UploadConfig  `yaml:"upload"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// ScaleConfig holds BLE session settings.
type ScaleConfig struct {
	Timeout      time.Duration `yaml:"timeout"`       // absolute session deadline
	StageTimeout time.Duration `yaml:"stage_timeout"` // 0 disables per-stage limits
}

// SyncConfig holds scheduling settings.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 runs only on demand (SIGHUP)
}

// HistoryConfig selects the local measurement store.
type HistoryConfig struct {
	Driver string `yaml:"driver"` // "file", "memory" or "postgres"
	Path   string `yaml:"path"`   // file driver only
	DSN    string `yaml:"dsn"`    // postgres driver only
}

// UploadConfig holds backend settings.
type UploadConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	CredentialFile string        `yaml:"credential_file"`
	SecretFile     string        `yaml:"secret_file"`
}

// NotifyConfig selects how sync outcomes are presented.
type NotifyConfig struct {
	Method  string `yaml:"method"` // "log" or "exec"
	Command string `yaml:"command"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "scale-sync")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dir := DefaultConfigDir()
	return &Config{
		LogLevel: "info",
		Scale: ScaleConfig{
			Timeout: 20 * time.Second,
		},
		Sync: SyncConfig{
			Interval: 12 * time.Hour,
		},
		History: HistoryConfig{
			Driver: "file",
			Path:   filepath.Join(dir, "history.json"),
		},
		Upload: UploadConfig{
			Timeout:        20 * time.Second,
			CredentialFile: filepath.Join(dir, "token"),
			SecretFile:     filepath.Join(dir, "secret"),
		},
		Notify: NotifyConfig{
			Method: "log",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults, ~ in file paths is expanded, and SCALESYNC_DATABASE_URL
// replaces history.dsn.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()

	cfg.History.Path = expandTilde(cfg.History.Path)
	cfg.Upload.CredentialFile = expandTilde(cfg.Upload.CredentialFile)
	cfg.Upload.SecretFile = expandTilde(cfg.Upload.SecretFile)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults (plus environment) when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv(EnvDatabaseURL); dsn != "" {
		c.History.DSN = dsn
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Scale.Timeout <= 0 {
		return fmt.Errorf("scale.timeout must be > 0")
	}
	if c.Scale.StageTimeout < 0 {
		return fmt.Errorf("scale.stage_timeout must be >= 0")
	}
	if c.Scale.StageTimeout >= c.Scale.Timeout {
		return fmt.Errorf("scale.stage_timeout must be shorter than scale.timeout")
	}

	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must be >= 0")
	}
	if c.Sync.Interval > 0 && c.Sync.Interval < c.Scale.Timeout {
		return fmt.Errorf("sync.interval must be at least scale.timeout (%s)", c.Scale.Timeout)
	}

	switch c.History.Driver {
	case "memory":
	case "file":
		if c.History.Path == "" {
			return fmt.Errorf("history.path must be set for the file driver")
		}
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres driver (or %s)", EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("history.driver must be \"file\", \"memory\" or \"postgres\", got %q", c.History.Driver)
	}

	if c.Upload.BaseURL != "" {
		u, err := url.Parse(c.Upload.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("upload.base_url must be an http(s) URL, got %q", c.Upload.BaseURL)
		}
	}
	if c.Upload.Timeout <= 0 {
		return fmt.Errorf("upload.timeout must be > 0")
	}
	if c.Upload.CredentialFile == "" {
		return fmt.Errorf("upload.credential_file must not be empty")
	}
	if c.Upload.SecretFile == "" {
		return fmt.Errorf("upload.secret_file must not be empty")
	}

	switch c.Notify.Method {
	case "log":
	case "exec":
		if strings.TrimSpace(c.Notify.Command) == "" {
			return fmt.Errorf("notify.command must be set for the exec method")
		}
	default:
		return fmt.Errorf("notify.method must be \"log\" or \"exec\", got %q", c.Notify.Method)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigYAML = `# scale-sync configuration
# See the README for all options.

log_level: info

scale:
  timeout: 20s
  # Per-stage limit once connected; 0 disables it.
  stage_timeout: 0s

sync:
  # How often the daemon starts a sync cycle; 0 syncs only on SIGHUP.
  interval: 12h

history:
  # file, memory (lost on exit) or postgres.
  # SCALESYNC_DATABASE_URL overrides dsn.
  driver: file
  path: ~/.config/scale-sync/history.json
  dsn: ""

upload:
  base_url: ""
  timeout: 20s
  credential_file: ~/.config/scale-sync/token
  secret_file: ~/.config/scale-sync/secret

notify:
  # log or exec. exec appends the title and message to command.
  method: log
  command: ""
`

// WriteDefault writes the default config file if none exists yet. It returns
// the written path, or "" when a config file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
