package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const configFileName = "weft.yaml"

// Load reads weft.yaml from configDir, expands environment variables, merges
// the result over the built-in defaults, and validates it. A missing file is
// not an error; the defaults are returned.
func Load(configDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("No configuration file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		loaded, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		// Loaded values win; defaults fill whatever the file leaves unset.
		if err := mergo.Merge(loaded, cfg); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
		cfg = *loaded
		slog.Info("Configuration loaded", "path", path)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func parse(data []byte) (*Config, error) {
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
