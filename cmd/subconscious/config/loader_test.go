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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var envKeys = []string{
	"SUBCONSCIOUS_LISTEN_ADDR", "SUBCONSCIOUS_LOG_LEVEL", "SUBCONSCIOUS_STORE_BACKEND",
	"SUBCONSCIOUS_BADGER_PATH", "SUBCONSCIOUS_LLM_PROVIDER", "SUBCONSCIOUS_LLM_MODEL",
	"WEAVIATE_SERVICE_URL", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.True(t, cfg.Maintenance.DryRun)
	assert.Equal(t, 24*time.Hour, cfg.Maintenance.Interval)
}

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".aleutian", "subconscious.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Contains(t, onDisk, "pipeline")
	assert.NotContains(t, string(data), "api_key")
}

func TestParse_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
server:
  address: 0.0.0.0:9000
  require_token: true
store:
  backend: weaviate
  weaviate_url: http://weaviate:8080
pipeline:
  min_turns_between_injection: 4
  embedding_dedup: true
maintenance:
  interval: 6h
  dry_run: false
`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.True(t, cfg.Server.RequireToken)
	assert.Equal(t, "weaviate", cfg.Store.Backend)
	assert.Equal(t, 6*time.Hour, cfg.Maintenance.Interval)
	assert.False(t, cfg.Maintenance.DryRun)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.92, cfg.Maintenance.Threshold)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	mw := cfg.MiddlewareConfig()
	assert.Equal(t, 4, mw.MinTurnsBetweenInjection)
	assert.True(t, mw.EmbeddingDedup)
	assert.True(t, mw.ContentDedup)
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBCONSCIOUS_STORE_BACKEND", "weaviate")
	t.Setenv("WEAVIATE_SERVICE_URL", `"http://weaviate:8080"`)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_API_KEY", "sk-oai")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "weaviate", cfg.Store.Backend)
	assert.Equal(t, "http://weaviate:8080", cfg.Store.WeaviateURL)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.Equal(t, "sk-oai", cfg.Embeddings.APIKey)
}

func TestParse_OpenAICompleterTakesOpenAIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBCONSCIOUS_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-oai")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-oai", cfg.LLM.APIKey)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "store:\n  backend: postgres\n"},
		{"weaviate without url", "store:\n  backend: weaviate\n"},
		{"badger without path", "store:\n  badger_path: \"\"\n"},
		{"bad provider", "llm:\n  provider: cohere\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad threshold", "pipeline:\n  embedding_dedup_threshold: 1.5\n"},
		{"zero workers", "worker:\n  workers: 0\n"},
		{"bad trace exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"malformed", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_InMemoryBadgerNeedsNoPath(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("store:\n  badger_path: \"\"\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Store.InMemory)
}
