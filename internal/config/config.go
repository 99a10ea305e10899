// Package config loads, normalizes, and validates the daemon's settings file.
//
// Settings cover ambient concerns only: where the state file lives, logging
// format and level, and the transcript database. The persisted network and
// control-endpoint document is a separate JSON file owned by internal/state;
// its format is part of the control protocol and never lives here.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains file locations the daemon depends on.
type Paths struct {
	StateFile string `toml:"state_file"`
	LogDir    string `toml:"log_dir"`
}

// History contains transcript database settings.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains log output settings.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates every setting the daemon and CLI read.
type Config struct {
	Paths   Paths   `toml:"paths"`
	History History `toml:"history"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the default settings file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ircgate/config.toml")
}

// Load locates, parses, normalizes, and validates a settings file. A missing
// file yields defaults; exists reports whether one was read.
func Load(path string) (cfg *Config, resolvedPath string, exists bool, err error) {
	loaded := Default()

	resolvedPath, exists, err = resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, openErr := os.Open(resolvedPath)
		if openErr != nil {
			return nil, "", false, fmt.Errorf("open config: %w", openErr)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if decodeErr := decoder.Decode(&loaded); decodeErr != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", decodeErr)
		}
	}

	if err := loaded.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", false, err
	}
	return &loaded, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, statErr := os.Stat(defaultPath); statErr == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StateFile, err = expandPath(c.Paths.StateFile); err != nil {
		return fmt.Errorf("paths.state_file: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}
