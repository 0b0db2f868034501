// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subconscious

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// =============================================================================
// Component Configuration
// =============================================================================

// PlannerConfig configures the retrieval planner.
type PlannerConfig struct {
	// MaxTokens bounds the planner completion. Default: 1000
	MaxTokens int

	// Temperature for the planner completion. Default: 0.3
	Temperature float32

	// MaxKeywordQueries caps keyword_queries. Default: 5
	MaxKeywordQueries int

	// MaxSemanticQueries caps semantic_queries. Default: 3
	MaxSemanticQueries int

	// FallbackSemanticChars is how much of the context becomes the
	// fallback semantic query. Default: 200
	FallbackSemanticChars int
}

// DefaultPlannerConfig returns planner defaults. Overrides:
//   - SUBCONSCIOUS_PLANNER_MAX_TOKENS (default: 1000)
//   - SUBCONSCIOUS_PLANNER_TEMPERATURE (default: 0.3)
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxTokens:             getEnvInt("SUBCONSCIOUS_PLANNER_MAX_TOKENS", 1000),
		Temperature:           float32(getEnvFloat("SUBCONSCIOUS_PLANNER_TEMPERATURE", 0.3)),
		MaxKeywordQueries:     5,
		MaxSemanticQueries:    3,
		FallbackSemanticChars: 200,
	}
}

// RetrieverConfig configures the three retrieval channels.
type RetrieverConfig struct {
	// AlwaysLimit caps importance-3 skills per turn. Default: 10
	AlwaysLimit int

	// KeywordLimit caps tag matches per turn. Default: 5
	KeywordLimit int

	// SemanticLimitPerQuery caps vector matches per semantic query. Default: 3
	SemanticLimitPerQuery int

	// MaxSemanticQueries is how many planner queries are embedded. Default: 2
	MaxSemanticQueries int

	// MinSimilarity filters vector matches. Default: 0.3
	MinSimilarity float64
}

// DefaultRetrieverConfig returns retriever defaults. Overrides:
//   - SUBCONSCIOUS_KEYWORD_LIMIT (default: 5)
//   - SUBCONSCIOUS_SEMANTIC_LIMIT (default: 3)
//   - SUBCONSCIOUS_MIN_SIMILARITY (default: 0.3)
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		AlwaysLimit:           10,
		KeywordLimit:          getEnvInt("SUBCONSCIOUS_KEYWORD_LIMIT", 5),
		SemanticLimitPerQuery: getEnvInt("SUBCONSCIOUS_SEMANTIC_LIMIT", 3),
		MaxSemanticQueries:    2,
		MinSimilarity:         getEnvFloat("SUBCONSCIOUS_MIN_SIMILARITY", 0.3),
	}
}

// SynthesizerConfig configures injected text production.
type SynthesizerConfig struct {
	// TemplateMaxSkills is the largest set eligible for the template path. Default: 2
	TemplateMaxSkills int

	// TemplateMinRelevance must be exceeded by every skill on the template path. Default: 0.7
	TemplateMinRelevance float64

	// TemplateTopN is how many skills the template renders. Default: 3
	TemplateTopN int

	// LLMMaxSkills is how many skills are shown to the LLM. Default: 7
	LLMMaxSkills int

	// MaxWords bounds the synthesized text. Default: 150
	MaxWords int

	// MaxTokens bounds the synthesis completion. Default: 500
	MaxTokens int

	// Temperature for the synthesis completion. Default: 0.3
	Temperature float32
}

// DefaultSynthesizerConfig returns synthesizer defaults.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		TemplateMaxSkills:    2,
		TemplateMinRelevance: 0.7,
		TemplateTopN:         3,
		LLMMaxSkills:         7,
		MaxWords:             getEnvInt("SUBCONSCIOUS_SYNTHESIS_MAX_WORDS", 150),
		MaxTokens:            500,
		Temperature:          0.3,
	}
}

// MiddlewareConfig configures the per-turn orchestrator.
type MiddlewareConfig struct {
	// MinTurnsBetweenInjection is the rate gate. Default: 2
	MinTurnsBetweenInjection int

	// PlannerMessages is how many trailing messages the planner sees. Default: 10
	PlannerMessages int

	// MaxMessageChars truncates each planner message. Default: 500
	MaxMessageChars int

	// MaxContextChars bounds the reconstructed context. Default: 2000
	MaxContextChars int

	// ContentDedup enables fingerprint dedup after ID dedup. Default: true
	ContentDedup bool

	// EmbeddingDedup enables embedding dedup after ID dedup. Default: false
	EmbeddingDedup bool

	// EmbeddingDedupThreshold is the cosine above which two skills collide. Default: 0.92
	EmbeddingDedupThreshold float64

	// MaxInjectedTopics bounds State.InjectedTopics. Default: 20
	MaxInjectedTopics int

	// RecordTimeout bounds inline injection recording. Default: 5s
	RecordTimeout time.Duration
}

// DefaultMiddlewareConfig returns orchestrator defaults. Overrides:
//   - SUBCONSCIOUS_MIN_TURNS_BETWEEN_INJECTION (default: 2)
//   - SUBCONSCIOUS_CONTENT_DEDUP (default: true)
//   - SUBCONSCIOUS_EMBEDDING_DEDUP (default: false)
//   - SUBCONSCIOUS_EMBEDDING_DEDUP_THRESHOLD (default: 0.92)
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		MinTurnsBetweenInjection: getEnvInt("SUBCONSCIOUS_MIN_TURNS_BETWEEN_INJECTION", 2),
		PlannerMessages:          10,
		MaxMessageChars:          500,
		MaxContextChars:          2000,
		ContentDedup:             getEnvBool("SUBCONSCIOUS_CONTENT_DEDUP", true),
		EmbeddingDedup:           getEnvBool("SUBCONSCIOUS_EMBEDDING_DEDUP", false),
		EmbeddingDedupThreshold:  getEnvFloat("SUBCONSCIOUS_EMBEDDING_DEDUP_THRESHOLD", 0.92),
		MaxInjectedTopics:        20,
		RecordTimeout:            5 * time.Second,
	}
}

// MergerConfig configures LLM-driven skill consolidation.
type MergerConfig struct {
	// MaxTokens bounds the merge completion. Default: 1000
	MaxTokens int

	// Temperature for the merge completion. Default: 0.3
	Temperature float32

	// MergesPerMinute paces non-dry-run auto merges. Default: 10
	MergesPerMinute float64

	// DuplicateScanLimit is how many active skills FindDuplicates reads. Default: 100
	DuplicateScanLimit int
}

// DefaultMergerConfig returns merger defaults.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		MaxTokens:          1000,
		Temperature:        0.3,
		MergesPerMinute:    getEnvFloat("SUBCONSCIOUS_MERGES_PER_MINUTE", 10),
		DuplicateScanLimit: getEnvInt("SUBCONSCIOUS_DUPLICATE_SCAN_LIMIT", 100),
	}
}

// validateMiddlewareConfig replaces nonsensical values with defaults.
func validateMiddlewareConfig(cfg MiddlewareConfig) MiddlewareConfig {
	def := DefaultMiddlewareConfig()
	if cfg.MinTurnsBetweenInjection < 0 {
		slog.Warn("Invalid MinTurnsBetweenInjection, using default", "value", cfg.MinTurnsBetweenInjection)
		cfg.MinTurnsBetweenInjection = def.MinTurnsBetweenInjection
	}
	if cfg.PlannerMessages <= 0 {
		cfg.PlannerMessages = def.PlannerMessages
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = def.MaxMessageChars
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	if cfg.EmbeddingDedupThreshold <= 0 || cfg.EmbeddingDedupThreshold > 1 {
		cfg.EmbeddingDedupThreshold = def.EmbeddingDedupThreshold
	}
	if cfg.MaxInjectedTopics <= 0 {
		cfg.MaxInjectedTopics = def.MaxInjectedTopics
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = def.RecordTimeout
	}
	return cfg
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set/invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if not set/invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
