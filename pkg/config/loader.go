package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize reads the YAML file at path, expands environment references,
// merges it over the built-in defaults and validates the result. It is the
// single entry point cmd/complianceengine calls at process startup.
func Initialize(ctx context.Context, path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{File: path, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{File: path, Err: err}
	}

	var user Config
	if err := yaml.Unmarshal(ExpandEnv(raw), &user); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %w", ErrInvalidYAML, err)}
	}

	cfg := defaultConfig()
	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("merging defaults: %w", err)}
	}
	return cfg, nil
}
