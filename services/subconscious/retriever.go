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
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	alwaysRelevance  = 1.0
	keywordRelevance = 0.8
)

// Limits used when RetrieveByKeywords or RetrieveByEmbedding is called with
// limit <= 0. RetrieveAll uses the smaller per-turn RetrieverConfig limits.
const (
	DefaultKeywordLimit  = 7
	DefaultSemanticLimit = 5
	DefaultMinSimilarity = 0.3
)

// Retriever fetches candidate skills over three channels.
//
// # Description
//
// Channels:
//   - always: active importance-3 skills, relevance 1.0
//   - keyword: tag overlap with planner keywords, relevance 0.8
//   - semantic: vector search per semantic query, relevance = similarity
//
// Every channel degrades to an empty slice on failure or when its backend is
// not configured, so one broken channel never blocks the others.
//
// # Thread Safety
//
// Safe for concurrent use.
type Retriever struct {
	store    SkillStore
	embedder EmbeddingProvider
	config   RetrieverConfig
}

// NewRetriever creates a retriever. store and embedder may be nil.
func NewRetriever(store SkillStore, embedder EmbeddingProvider, config RetrieverConfig) *Retriever {
	return &Retriever{store: store, embedder: embedder, config: config}
}

// RetrieveAlways returns the always-on skills.
func (r *Retriever) RetrieveAlways(ctx context.Context) []RetrievedSkill {
	if r.store == nil {
		return []RetrievedSkill{}
	}
	skills, err := r.store.ListAlwaysSkills(ctx, r.config.AlwaysLimit)
	if err != nil {
		slog.Warn("Always-on retrieval failed", "error", err)
		return []RetrievedSkill{}
	}

	out := make([]RetrievedSkill, 0, len(skills))
	for _, s := range skills {
		out = append(out, newRetrievedSkill(s, alwaysRelevance, SourceAlways))
	}
	recordRetrieved(ctx, SourceAlways, len(out))
	return out
}

// RetrieveByKeywords returns skills whose tags overlap keywords. A limit <= 0
// means DefaultKeywordLimit.
func (r *Retriever) RetrieveByKeywords(ctx context.Context, keywords []string, limit int) []RetrievedSkill {
	if r.store == nil || len(keywords) == 0 {
		return []RetrievedSkill{}
	}
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}
	skills, err := r.store.SearchByTags(ctx, keywords, limit)
	if err != nil {
		slog.Warn("Keyword retrieval failed", "error", err, "keywords", keywords)
		return []RetrievedSkill{}
	}

	out := make([]RetrievedSkill, 0, len(skills))
	for _, s := range skills {
		out = append(out, newRetrievedSkill(s, keywordRelevance, SourceKeyword))
	}
	recordRetrieved(ctx, SourceKeyword, len(out))
	return out
}

// RetrieveByEmbedding embeds query and returns similar skills.
//
// # Inputs
//
//   - query: Natural-language search phrase.
//   - limit: Maximum matches; <= 0 means DefaultSemanticLimit.
//   - minSimilarity: Matches below this cosine similarity are dropped.
//
// # Outputs
//
//   - []RetrievedSkill: Relevance equals similarity. Empty when the
//     embedder or store is missing or either call fails.
func (r *Retriever) RetrieveByEmbedding(ctx context.Context, query string, limit int, minSimilarity float64) []RetrievedSkill {
	if r.store == nil || r.embedder == nil || query == "" {
		return []RetrievedSkill{}
	}

	if limit <= 0 {
		limit = DefaultSemanticLimit
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Failed to embed semantic query", "error", err)
		return []RetrievedSkill{}
	}

	matches, err := r.store.SearchByVector(ctx, vector, limit, minSimilarity)
	if err != nil {
		slog.Warn("Semantic retrieval failed", "error", err)
		return []RetrievedSkill{}
	}

	out := make([]RetrievedSkill, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < minSimilarity {
			continue
		}
		out = append(out, newRetrievedSkill(m.Skill, m.Similarity, SourceSemantic))
	}
	recordRetrieved(ctx, SourceSemantic, len(out))
	return out
}

// RetrieveAll runs every channel the plan calls for concurrently.
//
// # Description
//
// The always channel runs unconditionally; the keyword channel runs when
// keywords is non-empty; the semantic channel runs once per query for the
// first MaxSemanticQueries queries. Results are concatenated in channel
// order (always, keyword, semantic in query order) regardless of which
// finished first. Duplicates are left for the deduplicator.
func (r *Retriever) RetrieveAll(ctx context.Context, keywords, semanticQueries []string) []RetrievedSkill {
	ctx, span := tracer.Start(ctx, "Retriever.RetrieveAll",
		trace.WithAttributes(
			attribute.Int("retrieve.keywords", len(keywords)),
			attribute.Int("retrieve.semantic", len(semanticQueries)),
		))
	defer span.End()

	if len(semanticQueries) > r.config.MaxSemanticQueries {
		semanticQueries = semanticQueries[:r.config.MaxSemanticQueries]
	}

	// Slot 0 always, slot 1 keyword, slots 2.. semantic.
	slots := make([][]RetrievedSkill, 2+len(semanticQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slots[0] = r.RetrieveAlways(gctx)
		return nil
	})
	if len(keywords) > 0 {
		g.Go(func() error {
			slots[1] = r.RetrieveByKeywords(gctx, keywords, r.config.KeywordLimit)
			return nil
		})
	}
	for i, q := range semanticQueries {
		g.Go(func() error {
			slots[2+i] = r.RetrieveByEmbedding(gctx, q, r.config.SemanticLimitPerQuery, r.config.MinSimilarity)
			return nil
		})
	}
	_ = g.Wait()

	var all []RetrievedSkill
	for _, s := range slots {
		all = append(all, s...)
	}
	if all == nil {
		all = []RetrievedSkill{}
	}
	span.SetAttributes(attribute.Int("retrieve.total", len(all)))
	return all
}
