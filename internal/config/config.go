package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Isolation modes for running repetitions.
const (
	IsolationInProcess  = "inprocess"
	IsolationSubprocess = "subprocess"
)

// Settings are tool-level options that are not part of any experiment.
type Settings struct {
	Workers   int    `yaml:"workers"`
	Isolation string `yaml:"isolation"`
	Journal   string `yaml:"journal"`
	LogLevel  string `yaml:"log_level"`
}

// DefaultSettings uses one worker per CPU and runs repetitions in process.
func DefaultSettings() Settings {
	return Settings{
		Workers:   runtime.NumCPU(),
		Isolation: IsolationInProcess,
		LogLevel:  "info",
	}
}

// DefaultPath resolves $XDG_CONFIG_HOME/expsuite/config.yaml or
// ~/.config/expsuite/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "expsuite", "config.yaml")
}

// LoadSettings reads YAML settings from path. With an empty path the default
// location is tried and a missing file yields defaults. EXPSUITE_WORKERS and
// EXPSUITE_JOURNAL override the file.
func LoadSettings(path string) (Settings, error) {
	cfg := DefaultSettings()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("open config: %w", err)
	}

	if v := os.Getenv("EXPSUITE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("EXPSUITE_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("EXPSUITE_JOURNAL"); v != "" {
		cfg.Journal = v
	}
	return cfg, cfg.Validate()
}

// Validate checks worker count and isolation mode.
func (s Settings) Validate() error {
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	switch s.Isolation {
	case IsolationInProcess, IsolationSubprocess:
		return nil
	}
	return fmt.Errorf("unknown isolation %q, use %s or %s", s.Isolation, IsolationInProcess, IsolationSubprocess)
}
