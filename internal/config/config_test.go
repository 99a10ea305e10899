package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ircgate/internal/config"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected no config file in temp HOME")
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if want := filepath.Join(tempHome, ".config", "ircgate", "state.json"); cfg.Paths.StateFile != want {
		t.Fatalf("state file: got %q want %q", cfg.Paths.StateFile, want)
	}
	if !cfg.History.Enabled {
		t.Fatal("history should default to enabled")
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		`[paths]`,
		`state_file = "/var/lib/ircgate/state.json"`,
		``,
		`[history]`,
		`enabled = false`,
		``,
		`[logging]`,
		`format = "JSON"`,
		`level = "Debug"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be read")
	}
	if cfg.Paths.StateFile != "/var/lib/ircgate/state.json" {
		t.Fatalf("state file: %q", cfg.Paths.StateFile)
	}
	if cfg.History.Enabled {
		t.Fatal("history should be disabled")
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nformat = \"xml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for bad format")
	}
}

func TestValidateHistoryPathRequired(t *testing.T) {
	cfg := config.Default()
	cfg.History.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when history enabled without path")
	}
}
