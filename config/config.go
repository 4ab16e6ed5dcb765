// Package config loads the tool's YAML configuration. A missing file is
// not an error; every field has a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so YAML values read as "250ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the tool's runtime configuration.
type Config struct {
	// PollInterval is the progress sampling cadence.
	PollInterval Duration `yaml:"poll_interval"`

	// ChunkSize is the transfer buffer size in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// StateDir holds the profile database.
	StateDir string `yaml:"state_dir"`

	// TrashDir overrides the XDG trash location. Empty uses the
	// standard one.
	TrashDir string `yaml:"trash_dir"`

	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PollInterval: Duration(100 * time.Millisecond),
		ChunkSize:    4 * 1024 * 1024,
		StateDir:     defaultStateDir(),
		LogLevel:     "info",
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "fops")
	}
	return ".fops"
}

// Load reads path, layering it over the defaults. An empty path or a
// missing file returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = Default().ChunkSize
	}
	if time.Duration(cfg.PollInterval) <= 0 {
		cfg.PollInterval = Default().PollInterval
	}
	return cfg, nil
}
