// Package config provides configuration loading and management for echodeid.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"echodeid/pkg/masking"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// File and folder locations
	Paths struct {
		// Input is the folder holding the raw studies
		Input string `yaml:"input"`

		// Output is the folder the anonymized studies are written to
		Output string `yaml:"output"`

		// IDMap is the CSV key file mapping MRNs to study codes
		IDMap string `yaml:"idMap"`

		// PreviewDir receives first-frame JPEG previews when set
		PreviewDir string `yaml:"previewDir"`

		// Ledger is the SQLite audit database; empty disables the ledger
		Ledger string `yaml:"ledger"`

		// MetricsFile receives a Prometheus textfile dump after each run when set
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"paths"`

	// Processing parameters
	Processing struct {
		// Preset names the PHI region layout of the scanner
		Preset string `yaml:"preset"`

		// Workers bounds how many studies are processed concurrently; 0 means all cores
		Workers int `yaml:"workers"`

		// HaltOnInvalidPreset rejects an unknown preset before any study is
		// processed. When false every study fails with the preset error instead.
		HaltOnInvalidPreset bool `yaml:"haltOnInvalidPreset"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// PreviewMaxWidth caps the width of preview images in pixels
		PreviewMaxWidth int `yaml:"previewMaxWidth"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Paths.Input = "raw_dicoms"
	cfg.Paths.Output = "anonymized_dicoms"
	cfg.Paths.IDMap = "name_map.csv"

	cfg.Processing.Preset = string(masking.Top)
	cfg.Processing.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.HaltOnInvalidPreset = true

	cfg.Output.Verbose = false
	cfg.Output.PreviewMaxWidth = 320

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the values a run depends on. With HaltOnInvalidPreset the
// preset is parsed here, so a bad name fails before any study is dispatched.
// A zero worker count is replaced by runtime.NumCPU().
func (c *Config) Validate() error {
	if c.Paths.Input == "" {
		return fmt.Errorf("%w: paths.input is required", ErrInvalidConfig)
	}
	if c.Paths.Output == "" {
		return fmt.Errorf("%w: paths.output is required", ErrInvalidConfig)
	}
	if filepath.Clean(c.Paths.Input) == filepath.Clean(c.Paths.Output) {
		return fmt.Errorf("%w: input and output folders must differ", ErrInvalidConfig)
	}
	if c.Paths.IDMap == "" {
		return fmt.Errorf("%w: paths.idMap is required", ErrInvalidConfig)
	}
	if c.Processing.HaltOnInvalidPreset {
		if _, err := masking.ParsePreset(c.Processing.Preset); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Processing.Workers == 0 {
		c.Processing.Workers = runtime.NumCPU()
	}
	if c.Processing.Workers < 0 {
		return fmt.Errorf("%w: processing.workers must not be negative, got %d", ErrInvalidConfig, c.Processing.Workers)
	}
	if c.Paths.PreviewDir != "" && c.Output.PreviewMaxWidth < 1 {
		return fmt.Errorf("%w: output.previewMaxWidth must be positive", ErrInvalidConfig)
	}
	return nil
}
