// Package util holds configuration loading and host identity helpers.
package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/supporttools/restime/pkg/types"
)

// LoadConfig loads a RestimeConfig from a YAML or JSON file, chosen by
// extension. Environment references are expanded before parsing, then
// defaults are applied and the result is validated.
func LoadConfig(path string) (*types.RestimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Expand before parsing so ${VAR} also works in numeric fields (port: ${PORT}).
	data = []byte(os.ExpandEnv(string(data)))

	var config types.RestimeConfig
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".json":
		err = json.Unmarshal(data, &config)
	default:
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			err = json.Unmarshal(data, &config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.SubstituteEnvVars()

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadConfigOrDefault loads path, or returns DefaultConfig when path is empty
// or does not exist.
func LoadConfigOrDefault(path string) (*types.RestimeConfig, error) {
	if path == "" {
		return DefaultConfig()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig()
	}
	return LoadConfig(path)
}

// DefaultConfig returns the built-in configuration. The node name comes from
// NODE_NAME, falling back to the hostname.
func DefaultConfig() (*types.RestimeConfig, error) {
	config := &types.RestimeConfig{
		Settings: types.GlobalSettings{
			NodeName: os.Getenv("NODE_NAME"),
		},
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("default config validation failed: %w", err)
	}
	return config, nil
}

// SaveConfig writes config as YAML or JSON, chosen by extension.
func SaveConfig(config *types.RestimeConfig, path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported file extension: %s (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfigFile loads path and reports any error.
func ValidateConfigFile(path string) error {
	_, err := LoadConfig(path)
	return err
}
