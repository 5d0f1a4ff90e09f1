// Package config loads the aipulse configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/aipulse/pkg/settings"
)

// HomeEnv overrides the configuration and data directory.
const HomeEnv = "AIPULSE_HOME"

// FileName is the config file inside the home directory.
const FileName = "config.yaml"

// Store backends
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Config is the on-disk configuration. Zero fields take defaults.
type Config struct {
	// DataDir holds credentials, settings and the audit log.
	DataDir string `yaml:"data_dir"`

	// Store is the credential and settings backend: json or sqlite.
	Store string `yaml:"store"`

	// KDF selects the key deriver: fold or argon2.
	KDF       string `yaml:"kdf"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// RefreshInterval overrides the stored settings for watch, e.g. "2m".
	RefreshInterval string `yaml:"refresh_interval,omitempty"`

	// MetricsAddr serves /metrics during watch when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// Audit enables the audit log of account changes. Defaults to true.
	Audit *bool `yaml:"audit,omitempty"`
}

// HomeDir returns $AIPULSE_HOME or ~/.aipulse.
func HomeDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".aipulse"), nil
}

// DefaultPath returns the config file location.
func DefaultPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	dir, err := HomeDir()
	if err != nil {
		return nil, err
	}
	enabled := true
	return &Config{
		DataDir:   dir,
		Store:     StoreJSON,
		KDF:       "fold",
		LogLevel:  "info",
		LogFormat: "text",
		Audit:     &enabled,
	}, nil
}

// Load reads path, or DefaultPath when empty. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.merge(file)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.DataDir, o.DataDir)
	set(&c.Store, o.Store)
	set(&c.KDF, o.KDF)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)
	set(&c.RefreshInterval, o.RefreshInterval)
	set(&c.MetricsAddr, o.MetricsAddr)
	if o.Audit != nil {
		c.Audit = o.Audit
	}
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown store %q (want json or sqlite)", c.Store)
	}
	switch c.KDF {
	case "fold", "argon2":
	default:
		return fmt.Errorf("config: unknown kdf %q (want fold or argon2)", c.KDF)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q (want text or json)", c.LogFormat)
	}
	d, err := c.Interval()
	if err != nil {
		return err
	}
	if d != 0 && d < settings.MinRefreshInterval*time.Second {
		return fmt.Errorf("config: refresh_interval %s is below the %ds minimum", d, settings.MinRefreshInterval)
	}
	return nil
}

// Interval parses RefreshInterval. Zero means "use the stored settings".
func (c *Config) Interval() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("config: invalid refresh_interval %q: %w", c.RefreshInterval, err)
	}
	return d, nil
}

// AuditEnabled reports whether account changes are audited.
func (c *Config) AuditEnabled() bool {
	return c.Audit == nil || *c.Audit
}

// CredentialsPath is the credential store file for the configured backend.
func (c *Config) CredentialsPath() string {
	if c.Store == StoreSQLite {
		return filepath.Join(c.DataDir, "aipulse.db")
	}
	return filepath.Join(c.DataDir, "credentials.json")
}

// SettingsPath is the settings store file for the JSON backend. The SQLite
// backend keeps settings in CredentialsPath.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}

// AuditDir is where audit logs are written.
func (c *Config) AuditDir() string {
	return filepath.Join(c.DataDir, "audit")
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
