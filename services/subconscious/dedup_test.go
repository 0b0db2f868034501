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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(skills []RetrievedSkill) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		out = append(out, s.ID)
	}
	return out
}

func TestDeduplicateByID(t *testing.T) {
	in := []RetrievedSkill{
		{ID: "a", Source: SourceAlways},
		{ID: "b"},
		{ID: "a", Source: SourceSemantic},
	}
	out := DeduplicateByID(in)
	assert.Equal(t, []string{"a", "b"}, ids(out))
	assert.Equal(t, SourceAlways, out[0].Source)
	assert.Empty(t, DeduplicateByID(nil))
}

func TestContentFingerprint_IgnoresFormattingAndOrder(t *testing.T) {
	a := ContentFingerprint("**Use RSI** when the market is ranging.")
	b := ContentFingerprint("ranging market: use the rsi")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ContentFingerprint("use macd when trending"))
}

func TestDeduplicateByContent_KeepsMostRelevant(t *testing.T) {
	in := []RetrievedSkill{
		{ID: "low", Content: "Use RSI in ranging markets", RelevanceScore: 0.4},
		{ID: "other", Content: "Size positions by volatility", RelevanceScore: 0.6},
		{ID: "high", Content: "use rsi in ranging markets!", RelevanceScore: 0.9},
	}
	out := DeduplicateByContent(in)
	assert.Equal(t, []string{"high", "other"}, ids(out))
}

func TestDeduplicateByContent_Idempotent(t *testing.T) {
	in := []RetrievedSkill{
		{ID: "1", Content: "alpha beta", RelevanceScore: 0.5},
		{ID: "2", Content: "beta alpha", RelevanceScore: 0.5},
		{ID: "3", Content: "gamma", RelevanceScore: 0.7},
	}
	once := DeduplicateByContent(in)
	twice := DeduplicateByContent(once)
	assert.Equal(t, ids(once), ids(twice))
	assert.Equal(t, []string{"3", "1"}, ids(once))
}

func TestDeduplicateByEmbedding_DropsLowerRelevance(t *testing.T) {
	d := NewDeduplicator(nil, nil)
	in := []RetrievedSkill{
		{ID: "a", RelevanceScore: 0.5, Embedding: []float32{1, 0}},
		{ID: "b", RelevanceScore: 0.9, Embedding: []float32{0.99, 0.01}},
		{ID: "c", RelevanceScore: 0.3, Embedding: []float32{0, 1}},
	}
	out := d.DeduplicateByEmbedding(context.Background(), in, 0.92)
	assert.Equal(t, []string{"b", "c"}, ids(out))
}

func TestDeduplicateByEmbedding_TieKeepsEarlier(t *testing.T) {
	d := NewDeduplicator(nil, nil)
	in := []RetrievedSkill{
		{ID: "first", RelevanceScore: 0.8, Embedding: []float32{1, 0}},
		{ID: "second", RelevanceScore: 0.8, Embedding: []float32{1, 0}},
	}
	out := d.DeduplicateByEmbedding(context.Background(), in, 0.92)
	assert.Equal(t, []string{"first"}, ids(out))
}

func TestDeduplicateByEmbedding_EmbedsMissingVectors(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"x content": {1, 0},
		"y content": {1, 0},
	}}
	d := NewDeduplicator(nil, embedder)
	in := []RetrievedSkill{
		{ID: "x", Content: "x content", RelevanceScore: 0.9},
		{ID: "y", Content: "y content", RelevanceScore: 0.5},
	}
	out := d.DeduplicateByEmbedding(context.Background(), in, 0.92)
	assert.Equal(t, []string{"x"}, ids(out))
	assert.Equal(t, 2, embedder.calls)
}

func TestDeduplicateByEmbedding_FallsBackToID(t *testing.T) {
	d := NewDeduplicator(nil, &mockEmbedder{err: errBackend})
	in := []RetrievedSkill{
		{ID: "a", Content: "same"},
		{ID: "b", Content: "same"},
		{ID: "a", Content: "same"},
	}
	out := d.DeduplicateByEmbedding(context.Background(), in, 0.92)
	assert.Equal(t, []string{"a", "b"}, ids(out))

	noEmbedder := NewDeduplicator(nil, nil)
	assert.Equal(t, []string{"a", "b"}, ids(noEmbedder.DeduplicateByEmbedding(context.Background(), in, 0.92)))
}

func TestDeduplicator_FindDuplicates(t *testing.T) {
	a := testSkill("a", "RSI oversold", 2, "rsi")
	a.Embedding = []float32{1, 0, 0}
	b := testSkill("b", "RSI below 30", 2, "rsi")
	b.Embedding = []float32{0.98, 0.05, 0}
	c := testSkill("c", "Sizing", 2, "sizing")
	c.Embedding = []float32{0, 1, 0}
	noVec := testSkill("d", "No vector", 2)
	store := newMemStore(a, b, c, noVec)

	pairs := NewDeduplicator(store, nil).FindDuplicates(context.Background(), 0.9, 100)
	require.Len(t, pairs, 1)
	got := []string{pairs[0].SkillAID, pairs[0].SkillBID}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
	assert.Greater(t, pairs[0].Similarity, 0.9)

	assert.Empty(t, NewDeduplicator(nil, nil).FindDuplicates(context.Background(), 0.9, 100))
}
