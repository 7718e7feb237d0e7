// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the YAML configuration for the audit pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend selects the graph store adapter.
const (
	BackendWeaviate = "weaviate"
	BackendBadger   = "badger"
)

// Config is the full pipeline configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Cache   CacheConfig   `yaml:"cache"`
	Filter  FilterConfig  `yaml:"filter"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects and parameterizes the graph store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
	Badger   BadgerConfig   `yaml:"badger"`
}

type WeaviateConfig struct {
	URL string `yaml:"url"`
}

type BadgerConfig struct {
	Path string `yaml:"path"`
}

type OpenAIConfig struct {
	Model string `yaml:"model"`
}

// CacheConfig controls workspace placement and cleanup retries.
type CacheConfig struct {
	Root                string `yaml:"root"`
	CleanupRetries      int    `yaml:"cleanup_retries"`
	CleanupDelaySeconds int    `yaml:"cleanup_delay_seconds"`
}

// FilterConfig overrides the code-file filter table. Empty lists keep the
// built-in defaults.
type FilterConfig struct {
	Extensions []string `yaml:"extensions"`
	Filenames  []string `yaml:"filenames"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:  BackendBadger,
			Weaviate: WeaviateConfig{URL: "http://localhost:8080"},
			Badger:   BadgerConfig{Path: "/var/lib/repoaudit/graph"},
		},
		Cache: CacheConfig{
			Root:                os.TempDir() + "/repoaudit-cache",
			CleanupRetries:      3,
			CleanupDelaySeconds: 2,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendWeaviate:
		if c.Store.Weaviate.URL == "" {
			return fmt.Errorf("store.weaviate.url is required for the weaviate backend")
		}
	case BackendBadger:
		if c.Store.Badger.Path == "" {
			return fmt.Errorf("store.badger.path is required for the badger backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Cache.Root == "" {
		return fmt.Errorf("cache.root must not be empty")
	}
	if c.Cache.CleanupRetries < 0 || c.Cache.CleanupDelaySeconds < 0 {
		return fmt.Errorf("cache cleanup retry settings must not be negative")
	}
	return nil
}
