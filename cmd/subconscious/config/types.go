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
	"time"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/maintenance"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/telemetry"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/worker"
)

// Config is the on-disk configuration of the subconscious service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	LLM         LLMConfig         `yaml:"llm"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Worker      worker.Config     `yaml:"worker"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	RequireToken    bool          `yaml:"require_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=auto json text"`
	Dir    string `yaml:"dir"`
}

// StoreConfig selects the skill store. Badger is embedded; Weaviate is the
// shared deployment store.
type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=badger weaviate"`
	BadgerPath  string `yaml:"badger_path" validate:"required_if=Backend badger InMemory false"`
	InMemory    bool   `yaml:"in_memory"`
	WeaviateURL string `yaml:"weaviate_url" validate:"required_if=Backend weaviate"`
}

// LLMConfig selects the completer used by the planner, synthesizer and
// merger. "none" runs the heuristic and template paths only.
type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=anthropic openai none"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" validate:"min=0"`
	MaxAttempts uint          `yaml:"max_attempts" validate:"min=1,max=10"`

	// APIKey is read from the environment only.
	APIKey string `yaml:"-"`
}

// EmbeddingConfig selects the embedding provider. "none" disables the
// semantic channel and embedding dedup.
type EmbeddingConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai none"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`

	APIKey string `yaml:"-"`
}

type PipelineConfig struct {
	MinTurnsBetweenInjection int     `yaml:"min_turns_between_injection" validate:"min=0"`
	ContentDedup             bool    `yaml:"content_dedup"`
	EmbeddingDedup           bool    `yaml:"embedding_dedup"`
	EmbeddingDedupThreshold  float64 `yaml:"embedding_dedup_threshold" validate:"gt=0,lte=1"`
}

// MaintenanceConfig wraps the merge scheduler with an on/off switch. The
// scheduler also evicts idle thread state.
type MaintenanceConfig struct {
	Enabled                     bool `yaml:"enabled"`
	maintenance.SchedulerConfig `yaml:",inline"`
}

// DefaultConfig returns a local single-node setup: Badger under
// ~/.aleutian/subconscious, Anthropic for completions, OpenAI embeddings.
func DefaultConfig() Config {
	mw := subconscious.DefaultMiddlewareConfig()
	return Config{
		Server: ServerConfig{
			Address:         "127.0.0.1:12220",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Store: StoreConfig{
			Backend:    "badger",
			BadgerPath: "~/.aleutian/subconscious/skills",
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Embeddings: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Pipeline: PipelineConfig{
			MinTurnsBetweenInjection: mw.MinTurnsBetweenInjection,
			ContentDedup:             mw.ContentDedup,
			EmbeddingDedup:           mw.EmbeddingDedup,
			EmbeddingDedupThreshold:  mw.EmbeddingDedupThreshold,
		},
		Worker:      worker.DefaultConfig(),
		Maintenance: MaintenanceConfig{Enabled: true, SchedulerConfig: maintenance.DefaultSchedulerConfig()},
		Telemetry:   telemetry.DefaultConfig(),
	}
}

// MiddlewareConfig maps the pipeline section onto the orchestrator config.
func (c *Config) MiddlewareConfig() subconscious.MiddlewareConfig {
	mw := subconscious.DefaultMiddlewareConfig()
	mw.MinTurnsBetweenInjection = c.Pipeline.MinTurnsBetweenInjection
	mw.ContentDedup = c.Pipeline.ContentDedup
	mw.EmbeddingDedup = c.Pipeline.EmbeddingDedup
	mw.EmbeddingDedupThreshold = c.Pipeline.EmbeddingDedupThreshold
	return mw
}
