// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// DefaultPath returns ~/.aleutian/subconscious.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "subconscious.yaml"), nil
}

// Load reads the config at path, creating it with defaults when missing.
//
// # Description
//
// An empty path means DefaultPath. Fields absent from the file keep their
// defaults. Environment overrides are applied after the file, then the
// result is validated.
//
// # Outputs
//
//   - *Config: Ready to use.
//   - error: The file could not be created, read or parsed, or the merged
//     config is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies the environment and
// validates.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	applyEnv(&cfg, os.Getenv)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags on every section.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
//
//   - SUBCONSCIOUS_LISTEN_ADDR, SUBCONSCIOUS_LOG_LEVEL, SUBCONSCIOUS_STORE_BACKEND
//   - SUBCONSCIOUS_BADGER_PATH, SUBCONSCIOUS_LLM_PROVIDER, SUBCONSCIOUS_LLM_MODEL
//   - WEAVIATE_SERVICE_URL
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.Trim(getenv(key), "\"' "); v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Address, "SUBCONSCIOUS_LISTEN_ADDR")
	set(&cfg.Logging.Level, "SUBCONSCIOUS_LOG_LEVEL")
	set(&cfg.Store.Backend, "SUBCONSCIOUS_STORE_BACKEND")
	set(&cfg.Store.BadgerPath, "SUBCONSCIOUS_BADGER_PATH")
	set(&cfg.Store.WeaviateURL, "WEAVIATE_SERVICE_URL")
	set(&cfg.LLM.Provider, "SUBCONSCIOUS_LLM_PROVIDER")
	set(&cfg.LLM.Model, "SUBCONSCIOUS_LLM_MODEL")

	switch cfg.LLM.Provider {
	case "anthropic":
		set(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
	case "openai":
		set(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	}
	if cfg.Embeddings.Provider == "openai" {
		set(&cfg.Embeddings.APIKey, "OPENAI_API_KEY")
	}
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
