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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

func retrievalFixture() (*memStore, *mockEmbedder) {
	always := testSkill("always-1", "Risk rules", datatypes.ImportanceAlways, "risk")
	rsi := testSkill("rsi-1", "RSI thresholds", datatypes.ImportanceMedium, "rsi", "momentum")
	rsi.Embedding = []float32{1, 0, 0}
	sizing := testSkill("size-1", "Position sizing", datatypes.ImportanceLow, "position sizing")
	sizing.Embedding = []float32{0, 1, 0}
	retired := testSkill("old-1", "Old RSI", datatypes.ImportanceAlways, "rsi")
	retired.IsActive = false

	store := newMemStore(always, rsi, sizing, retired)
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"rsi oversold levels": {0.9, 0.1, 0},
		"how big a position":  {0, 1, 0},
		"unrelated":           {0, 0, 1},
	}}
	return store, embedder
}

func TestRetriever_Channels(t *testing.T) {
	store, embedder := retrievalFixture()
	r := NewRetriever(store, embedder, DefaultRetrieverConfig())
	ctx := context.Background()

	always := r.RetrieveAlways(ctx)
	require.Len(t, always, 1)
	assert.Equal(t, "always-1", always[0].ID)
	assert.Equal(t, 1.0, always[0].RelevanceScore)
	assert.Equal(t, SourceAlways, always[0].Source)
	assert.Contains(t, always[0].Content, "**Risk rules**")

	kw := r.RetrieveByKeywords(ctx, []string{"rsi"}, 5)
	require.Len(t, kw, 1)
	assert.Equal(t, "rsi-1", kw[0].ID)
	assert.Equal(t, 0.8, kw[0].RelevanceScore)
	assert.Equal(t, SourceKeyword, kw[0].Source)

	sem := r.RetrieveByEmbedding(ctx, "rsi oversold levels", 3, 0.3)
	require.Len(t, sem, 1)
	assert.Equal(t, "rsi-1", sem[0].ID)
	assert.InDelta(t, 0.9939, sem[0].RelevanceScore, 0.001)
	assert.Equal(t, SourceSemantic, sem[0].Source)

	assert.Empty(t, r.RetrieveByEmbedding(ctx, "unrelated", 3, 0.3))
}

func TestRetriever_InactiveNeverReturned(t *testing.T) {
	store, embedder := retrievalFixture()
	r := NewRetriever(store, embedder, DefaultRetrieverConfig())

	all := r.RetrieveAll(context.Background(), []string{"rsi"}, []string{"rsi oversold levels"})
	for _, s := range all {
		assert.NotEqual(t, "old-1", s.ID)
	}
}

func TestRetriever_RetrieveAllOrder(t *testing.T) {
	store, embedder := retrievalFixture()
	r := NewRetriever(store, embedder, DefaultRetrieverConfig())

	all := r.RetrieveAll(context.Background(), []string{"rsi"}, []string{"how big a position", "rsi oversold levels", "unrelated"})

	var ids []string
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	// always, keyword, then semantic per query; the third query is beyond the cap.
	assert.Equal(t, []string{"always-1", "rsi-1", "size-1", "rsi-1"}, ids)
}

func TestRetriever_DegradesPerChannel(t *testing.T) {
	store, embedder := retrievalFixture()
	store.failAlways = true
	store.failTags = true
	r := NewRetriever(store, embedder, DefaultRetrieverConfig())

	all := r.RetrieveAll(context.Background(), []string{"rsi"}, []string{"rsi oversold levels"})
	require.Len(t, all, 1)
	assert.Equal(t, SourceSemantic, all[0].Source)
}

func TestRetriever_EmbedderFailure(t *testing.T) {
	store, embedder := retrievalFixture()
	embedder.err = errBackend
	r := NewRetriever(store, embedder, DefaultRetrieverConfig())

	assert.Empty(t, r.RetrieveByEmbedding(context.Background(), "rsi oversold levels", 3, 0.3))
}

func TestRetriever_NoBackends(t *testing.T) {
	r := NewRetriever(nil, nil, DefaultRetrieverConfig())
	all := r.RetrieveAll(context.Background(), []string{"rsi"}, []string{"q"})
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestRetriever_StandaloneDefaults(t *testing.T) {
	var skills []*datatypes.Skill
	for i := 0; i < 9; i++ {
		sk := testSkill(fmt.Sprintf("rsi-%d", i), fmt.Sprintf("RSI rule %d", i), datatypes.ImportanceMedium, "rsi")
		sk.Embedding = []float32{1, 0}
		skills = append(skills, sk)
	}
	r := NewRetriever(newMemStore(skills...), &mockEmbedder{fallback: []float32{1, 0}}, DefaultRetrieverConfig())
	ctx := context.Background()

	assert.Len(t, r.RetrieveByKeywords(ctx, []string{"rsi"}, 0), DefaultKeywordLimit)
	assert.Len(t, r.RetrieveByEmbedding(ctx, "rsi levels", 0, DefaultMinSimilarity), DefaultSemanticLimit)
	assert.Len(t, r.RetrieveByKeywords(ctx, []string{"rsi"}, 2), 2)
}
