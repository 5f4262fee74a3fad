package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.Workers != runtime.NumCPU() {
		t.Errorf("Expected Workers = %d, got %d", runtime.NumCPU(), cfg.Processing.Workers)
	}
	if cfg.Processing.Preset != "top" {
		t.Errorf("Expected Preset = top, got %s", cfg.Processing.Preset)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Paths.Output != DefaultConfig().Paths.Output {
		t.Errorf("Expected defaults, got output %q", cfg.Paths.Output)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "echodeid.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Preset = "spectrum_high"
	cfg.Processing.Workers = 3
	cfg.Paths.Ledger = "audit.db"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Processing.Preset != "spectrum_high" || loaded.Processing.Workers != 3 {
		t.Errorf("Processing not preserved: %+v", loaded.Processing)
	}
	if loaded.Paths.Ledger != "audit.db" {
		t.Errorf("Expected ledger audit.db, got %q", loaded.Paths.Ledger)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echodeid.yaml")
	if err := os.WriteFile(path, []byte("processing:\n  preset: none\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Preset != "none" {
		t.Errorf("Expected preset none, got %s", cfg.Processing.Preset)
	}
	if cfg.Paths.IDMap != "name_map.csv" {
		t.Errorf("Expected default idMap, got %q", cfg.Paths.IDMap)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("processing: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown preset", func(c *Config) { c.Processing.Preset = "bottom" }},
		{"negative workers", func(c *Config) { c.Processing.Workers = -2 }},
		{"missing input", func(c *Config) { c.Paths.Input = "" }},
		{"same folders", func(c *Config) { c.Paths.Output = c.Paths.Input + "/" }},
		{"missing id map", func(c *Config) { c.Paths.IDMap = "" }},
		{"preview width", func(c *Config) { c.Paths.PreviewDir = "p"; c.Output.PreviewMaxWidth = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateUnknownPresetWithoutHalt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.Preset = "bogus"
	cfg.Processing.HaltOnInvalidPreset = false

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected the preset to be left to the pipeline, got %v", err)
	}
}

func TestValidateZeroWorkersUsesAllCores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.Workers = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Processing.Workers != runtime.NumCPU() {
		t.Errorf("Expected Workers = %d, got %d", runtime.NumCPU(), cfg.Processing.Workers)
	}
}
