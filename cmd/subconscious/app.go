// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianSubconscious/cmd/subconscious/config"
	"github.com/AleutianAI/AleutianSubconscious/services/llm"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/skillstore"
)

// store is what both concrete backends provide.
type store interface {
	subconscious.SkillStore
	subconscious.InjectionStore
}

// app holds the wired components shared by every command.
type app struct {
	store      store
	weaviate   *weaviate.Client
	completer  subconscious.Completer
	embedder   subconscious.EmbeddingProvider
	states     *subconscious.StateRegistry
	tracker    *subconscious.OutcomeTracker
	merger     *subconscious.SkillMerger
	retriever  *subconscious.Retriever
	pipeline   *subconscious.Middleware
	closeStore func() error
}

// newApp opens the store and builds the pipeline.
//
// # Description
//
// A missing LLM or embedding key is logged and the corresponding collaborator
// is left nil, so the pipeline runs its heuristic planner and template
// synthesizer and merges report unavailable. A store that cannot be opened
// is an error.
//
// # Inputs
//
//   - queue: Optional background queue for injection recording. Nil records
//     inline.
func newApp(ctx context.Context, cfg *config.Config, queue subconscious.TaskSubmitter) (*app, error) {
	a := &app{states: subconscious.NewStateRegistry()}

	if err := a.openStore(ctx, cfg.Store); err != nil {
		return nil, err
	}
	a.completer = newCompleter(cfg.LLM)
	a.embedder = newEmbedder(cfg.Embeddings)

	a.tracker = subconscious.NewOutcomeTracker(a.store, a.store)
	a.merger = subconscious.NewSkillMerger(a.store, a.completer, a.embedder, subconscious.DefaultMergerConfig())

	opts := []subconscious.MiddlewareOption{
		subconscious.WithOutcomeTracker(a.tracker),
		subconscious.WithDeduplicator(subconscious.NewDeduplicator(a.store, a.embedder)),
	}
	if queue != nil {
		opts = append(opts, subconscious.WithTaskQueue(queue))
	}
	a.retriever = subconscious.NewRetriever(a.store, a.embedder, subconscious.DefaultRetrieverConfig())
	a.pipeline = subconscious.NewMiddleware(
		subconscious.NewPlanner(a.completer, subconscious.DefaultPlannerConfig()),
		a.retriever,
		subconscious.NewSynthesizer(a.completer, subconscious.DefaultSynthesizerConfig()),
		cfg.MiddlewareConfig(),
		opts...,
	)
	return a, nil
}

func (a *app) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

func (a *app) openStore(ctx context.Context, cfg config.StoreConfig) error {
	switch cfg.Backend {
	case "weaviate":
		client, err := newWeaviateClient(cfg.WeaviateURL)
		if err != nil {
			return err
		}
		a.weaviate = client
		a.store = skillstore.NewWeaviateStore(client)
		slog.Info("Using Weaviate skill store", "url", cfg.WeaviateURL)
		return nil

	case "badger":
		bcfg := skillstore.InMemoryBadgerConfig()
		if !cfg.InMemory {
			bcfg = skillstore.DefaultBadgerConfig(expandHome(cfg.BadgerPath))
		}
		bcfg.Logger = slog.Default()
		bs, err := skillstore.OpenBadgerStore(bcfg)
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		a.store = bs
		a.closeStore = bs.Close
		slog.Info("Using Badger skill store", "path", bcfg.Path, "in_memory", bcfg.InMemory)
		return nil

	default:
		return fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newWeaviateClient parses the service URL the way the stack passes it,
// tolerating stray quotes.
func newWeaviateClient(raw string) (*weaviate.Client, error) {
	raw = strings.Trim(raw, "\"' ")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", raw)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// ensureSchema creates the subconscious classes when the store is Weaviate.
func (a *app) ensureSchema(ctx context.Context) error {
	if a.weaviate == nil {
		return errors.New("schema init needs the weaviate store backend")
	}
	return datatypes.EnsureSchema(ctx, a.weaviate)
}

func newCompleter(cfg config.LLMConfig) subconscious.Completer {
	var (
		base llm.Completer
		err  error
	)
	switch cfg.Provider {
	case "anthropic":
		base, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "openai":
		base, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		slog.Info("LLM disabled, using heuristic planning and template synthesis")
		return nil
	}
	if err != nil {
		slog.Warn("LLM unavailable, using heuristic planning and template synthesis",
			"provider", cfg.Provider, "error", err)
		return nil
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxAttempts
	return llm.NewRetryingCompleter(base, retry)
}

func newEmbedder(cfg config.EmbeddingConfig) subconscious.EmbeddingProvider {
	if cfg.Provider != "openai" {
		slog.Info("Embeddings disabled, semantic retrieval is off")
		return nil
	}
	e, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.Model,
		BaseURL:        cfg.BaseURL,
	})
	if err != nil {
		slog.Warn("Embeddings unavailable, semantic retrieval is off", "error", err)
		return nil
	}
	return e
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
