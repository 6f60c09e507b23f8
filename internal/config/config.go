// Package config provides the resticgx configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Dir returns the resticgx config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/resticgx if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "resticgx"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Password delivery modes.
const (
	PasswordEnv     = "env"
	PasswordCommand = "command"
)

// Config is the application configuration.
type Config struct {
	// Engine selects the backup engine: restic or rustic.
	Engine string `yaml:"engine" validate:"oneof=restic rustic"`
	// BinDir holds the engine binaries. Empty means look them up on PATH.
	BinDir string `yaml:"bin_dir,omitempty"`
	// DataDir holds profiles and the state database.
	DataDir      string `yaml:"data_dir" validate:"required"`
	PasswordMode string `yaml:"password_mode" validate:"oneof=env command"`

	SettleDelay       Duration `yaml:"settle_delay" validate:"min=0"`
	MountPollAttempts int      `yaml:"mount_poll_attempts" validate:"min=1,max=100"`
	MountPollInterval Duration `yaml:"mount_poll_interval" validate:"min=1"`

	LogFormat string `yaml:"log_format" validate:"oneof=console json"`
	Debug     bool   `yaml:"debug"`
}

// Default returns the built-in configuration. DataDir falls back to
// ~/.resticgx when no home directory can be resolved through XDG.
func Default() *Config {
	dataDir := ""
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		dataDir = filepath.Join(base, "resticgx")
	} else if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "resticgx")
	} else {
		dataDir = ".resticgx"
	}
	return &Config{
		Engine:            "restic",
		DataDir:           dataDir,
		PasswordMode:      PasswordEnv,
		SettleDelay:       Duration(300 * time.Millisecond),
		MountPollAttempts: 5,
		MountPollInterval: Duration(500 * time.Millisecond),
		LogFormat:         "console",
	}
}

// DBPath returns the state database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "resticgx.db")
}

// ProfilesDir returns the profile root inside DataDir.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.DataDir, "profiles")
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads the config at path over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	err := NewFileStore(path).Load(cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, nil
	case errors.Is(err, ErrEmpty):
		return cfg, nil
	case err != nil:
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Duration is a time.Duration that reads and writes as "500ms" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}
