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
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/similarity"
)

const (
	fingerprintTokens  = 20
	embedContentLength = 500
)

var fingerprintStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "when": {},
	"with": {}, "do": {}, "why": {},
}

// DeduplicateByID keeps the first occurrence of each skill ID, preserving order.
func DeduplicateByID(skills []RetrievedSkill) []RetrievedSkill {
	seen := make(map[string]struct{}, len(skills))
	out := make([]RetrievedSkill, 0, len(skills))
	for _, s := range skills {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// DeduplicateByContent drops skills whose content fingerprint was already seen.
//
// # Description
//
// Skills are considered in descending relevance (stable for ties), so the
// most relevant member of a collision group survives. The output is in that
// order. Applying the function twice yields the same result as once.
func DeduplicateByContent(skills []RetrievedSkill) []RetrievedSkill {
	ordered := make([]RetrievedSkill, len(skills))
	copy(ordered, skills)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RelevanceScore > ordered[j].RelevanceScore
	})

	seen := make(map[uint64]struct{}, len(ordered))
	out := make([]RetrievedSkill, 0, len(ordered))
	for _, s := range ordered {
		fp := ContentFingerprint(s.Content)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ContentFingerprint hashes the first 20 sorted unique non-stop-word tokens.
//
// Tokens are lower-cased and stripped of surrounding punctuation, so
// formatting and word order do not change the fingerprint.
func ContentFingerprint(content string) uint64 {
	unique := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}*#`-_")
		if tok == "" {
			continue
		}
		if _, stop := fingerprintStopWords[tok]; stop {
			continue
		}
		unique[tok] = struct{}{}
	}

	tokens := make([]string, 0, len(unique))
	for tok := range unique {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	if len(tokens) > fingerprintTokens {
		tokens = tokens[:fingerprintTokens]
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(tokens, "\x00")))
	return h.Sum64()
}

// =============================================================================
// Embedding-based deduplication
// =============================================================================

// DuplicatePair is a pair of active skills whose vectors nearly coincide.
type DuplicatePair struct {
	SkillAID   string  `json:"skill_a_id"`
	SkillAName string  `json:"skill_a_name"`
	SkillBID   string  `json:"skill_b_id"`
	SkillBName string  `json:"skill_b_name"`
	Similarity float64 `json:"similarity"`
}

// Deduplicator performs vector-based duplicate detection.
//
// # Thread Safety
//
// Safe for concurrent use.
type Deduplicator struct {
	store    SkillStore
	embedder EmbeddingProvider
}

// NewDeduplicator creates a deduplicator. Both dependencies may be nil, in
// which case embedding dedup degrades to ID dedup and FindDuplicates
// returns nothing.
func NewDeduplicator(store SkillStore, embedder EmbeddingProvider) *Deduplicator {
	return &Deduplicator{store: store, embedder: embedder}
}

// DeduplicateByEmbedding drops the lower-relevance member of any pair whose
// cosine similarity exceeds threshold.
//
// # Description
//
// Each skill's cached embedding is used when present; otherwise the first
// 500 characters of its content are embedded, concurrently. If any
// embedding cannot be produced the whole call falls back to DeduplicateByID.
// When two skills tie on relevance the earlier one is kept.
//
// # Outputs
//
//   - []RetrievedSkill: Survivors in input order.
func (d *Deduplicator) DeduplicateByEmbedding(ctx context.Context, skills []RetrievedSkill, threshold float64) []RetrievedSkill {
	if len(skills) <= 1 {
		return DeduplicateByID(skills)
	}

	vectors, err := d.embeddings(ctx, skills)
	if err != nil {
		slog.Warn("Embedding dedup unavailable, falling back to ID dedup", "error", err)
		return DeduplicateByID(skills)
	}

	dropped := make([]bool, len(skills))
	for i := range skills {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(skills); j++ {
			if dropped[j] {
				continue
			}
			if similarity.Cosine(vectors[i], vectors[j]) <= threshold {
				continue
			}
			if skills[j].RelevanceScore > skills[i].RelevanceScore {
				dropped[i] = true
				break
			}
			dropped[j] = true
		}
	}

	out := make([]RetrievedSkill, 0, len(skills))
	for i, s := range skills {
		if !dropped[i] {
			out = append(out, s)
		}
	}
	return out
}

func (d *Deduplicator) embeddings(ctx context.Context, skills []RetrievedSkill) ([][]float32, error) {
	vectors := make([][]float32, len(skills))
	needEmbedder := false
	for i, s := range skills {
		if len(s.Embedding) > 0 {
			vectors[i] = s.Embedding
		} else {
			needEmbedder = true
		}
	}
	if !needEmbedder {
		return vectors, nil
	}
	if d.embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range skills {
		if vectors[i] != nil {
			continue
		}
		g.Go(func() error {
			vec, err := d.embedder.Embed(gctx, truncateString(s.Content, embedContentLength))
			if err != nil {
				return fmt.Errorf("embed skill %s: %w", s.ID, err)
			}
			if len(vec) == 0 {
				return fmt.Errorf("empty embedding for skill %s", s.ID)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// FindDuplicates scans up to limit active skills for near-identical pairs.
//
// # Description
//
// Offline operation backing auto-merge. Skills without stored vectors are
// skipped. Pairs with similarity strictly above threshold are returned,
// most similar first. Store failures yield an empty result.
func (d *Deduplicator) FindDuplicates(ctx context.Context, threshold float64, limit int) []DuplicatePair {
	ctx, span := tracer.Start(ctx, "Deduplicator.FindDuplicates")
	defer span.End()

	if d.store == nil {
		return []DuplicatePair{}
	}
	skills, err := d.store.ListActiveSkills(ctx, limit, true)
	if err != nil {
		failSpan(span, err)
		slog.Warn("Failed to list skills for duplicate scan", "error", err)
		return []DuplicatePair{}
	}

	pairs := []DuplicatePair{}
	for i := 0; i < len(skills); i++ {
		if len(skills[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(skills); j++ {
			if len(skills[j].Embedding) == 0 {
				continue
			}
			sim := similarity.Cosine(skills[i].Embedding, skills[j].Embedding)
			if sim > threshold {
				pairs = append(pairs, DuplicatePair{
					SkillAID:   skills[i].ID,
					SkillAName: skills[i].Name,
					SkillBID:   skills[j].ID,
					SkillBName: skills[j].Name,
					Similarity: sim,
				})
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })
	return pairs
}
