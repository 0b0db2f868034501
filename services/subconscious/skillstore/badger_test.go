// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package skillstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSkill(t *testing.T, store *BadgerStore, name string, tags []string, importance int, embedding []float32) *datatypes.Skill {
	t.Helper()
	sk := datatypes.NewSkill(name, name+" description", "when", "do", "why", tags, importance)
	sk.Embedding = embedding
	created, err := store.CreateSkill(context.Background(), sk)
	require.NoError(t, err)
	return created
}

// =============================================================================
// Skills
// =============================================================================

func TestBadgerStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := seedSkill(t, store, "RSI basics", []string{"RSI", "Momentum"}, datatypes.ImportanceMedium, nil)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"momentum", "rsi"}, created.Tags)

	got, err := store.GetSkill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "RSI basics", got.Name)
	assert.InDelta(t, datatypes.InitialConfidence, got.ConfidenceScore, 1e-9)

	_, err = store.GetSkill(ctx, "missing")
	assert.True(t, errors.Is(err, datatypes.ErrSkillNotFound))
}

func TestBadgerStore_CreateRejectsInvalidSkill(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSkill(context.Background(), &datatypes.Skill{ImportanceLevel: 2, ConfidenceScore: 0.5, IsActive: true})
	assert.Error(t, err)
}

func TestBadgerStore_ListAlwaysSkills(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSkill(t, store, "always-1", nil, datatypes.ImportanceAlways, nil)
	seedSkill(t, store, "normal", nil, datatypes.ImportanceMedium, nil)
	inactive := seedSkill(t, store, "always-off", nil, datatypes.ImportanceAlways, nil)
	off := false
	_, err := store.UpdateSkill(ctx, inactive.ID, datatypes.SkillPatch{IsActive: &off})
	require.NoError(t, err)

	skills, err := store.ListAlwaysSkills(ctx, 10)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "always-1", skills[0].Name)
}

func TestBadgerStore_SearchByTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSkill(t, store, "rsi", []string{"rsi", "indicator"}, datatypes.ImportanceMedium, nil)
	seedSkill(t, store, "macd", []string{"macd", "indicator"}, datatypes.ImportanceMedium, nil)
	seedSkill(t, store, "risk", []string{"risk"}, datatypes.ImportanceMedium, nil)

	skills, err := store.SearchByTags(ctx, []string{"Indicator"}, 7)
	require.NoError(t, err)
	assert.Len(t, skills, 2)

	skills, err = store.SearchByTags(ctx, []string{"indicator"}, 1)
	require.NoError(t, err)
	assert.Len(t, skills, 1)

	skills, err = store.SearchByTags(ctx, nil, 7)
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestBadgerStore_SearchByVector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSkill(t, store, "close", nil, datatypes.ImportanceMedium, []float32{1, 0.1})
	seedSkill(t, store, "exact", nil, datatypes.ImportanceMedium, []float32{1, 0})
	seedSkill(t, store, "far", nil, datatypes.ImportanceMedium, []float32{0, 1})
	seedSkill(t, store, "no-vector", nil, datatypes.ImportanceMedium, nil)

	matches, err := store.SearchByVector(ctx, []float32{1, 0}, 5, 0.3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Skill.Name)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, "close", matches[1].Skill.Name)
}

func TestBadgerStore_UpdateSkill(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := seedSkill(t, store, "rsi", []string{"rsi"}, datatypes.ImportanceMedium, nil)

	conf := 0.9
	applied := 4
	updated, err := store.UpdateSkill(ctx, created.ID, datatypes.SkillPatch{ConfidenceScore: &conf, TimesApplied: &applied})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, updated.ConfidenceScore, 1e-9)

	got, err := store.GetSkill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TimesApplied)

	_, err = store.UpdateSkill(ctx, "missing", datatypes.SkillPatch{ConfidenceScore: &conf})
	assert.True(t, errors.Is(err, datatypes.ErrSkillNotFound))
}

func TestBadgerStore_MergedSkillStaysInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedSkill(t, store, "a", nil, datatypes.ImportanceMedium, nil)

	off := false
	into := "b"
	_, err := store.UpdateSkill(ctx, a.ID, datatypes.SkillPatch{IsActive: &off, MergedInto: &into})
	require.NoError(t, err)

	on := true
	_, err = store.UpdateSkill(ctx, a.ID, datatypes.SkillPatch{IsActive: &on})
	assert.True(t, errors.Is(err, datatypes.ErrSkillMerged))

	active, err := store.ListActiveSkills(ctx, 100, false)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBadgerStore_ListActiveSkillsEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSkill(t, store, "a", nil, datatypes.ImportanceMedium, []float32{1, 2})

	with, err := store.ListActiveSkills(ctx, 100, true)
	require.NoError(t, err)
	require.Len(t, with, 1)
	assert.Equal(t, []float32{1, 2}, with[0].Embedding)

	without, err := store.ListActiveSkills(ctx, 100, false)
	require.NoError(t, err)
	assert.Nil(t, without[0].Embedding)
}

func TestBadgerStore_EvolutionHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEvolution(ctx, datatypes.EvolutionLogEntry{SkillID: "s1", EvolutionType: datatypes.EvolutionTypeMerge, Changelog: "first"}))
	require.NoError(t, store.AppendEvolution(ctx, datatypes.EvolutionLogEntry{SkillID: "s1", EvolutionType: datatypes.EvolutionTypeMerge, Changelog: "second"}))
	require.NoError(t, store.AppendEvolution(ctx, datatypes.EvolutionLogEntry{SkillID: "s2", EvolutionType: datatypes.EvolutionTypeMerge}))

	history, err := store.EvolutionHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Changelog)

	assert.Error(t, store.AppendEvolution(ctx, datatypes.EvolutionLogEntry{EvolutionType: "merge"}))
}

// =============================================================================
// Injections
// =============================================================================

func TestBadgerStore_InjectionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateInjection(ctx, &datatypes.SkillInjection{
		SkillIDs:        []string{"s1", "s2"},
		ThreadID:        "t1",
		UserIntent:      "understand RSI",
		SynthesisMethod: "llm",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	updated, err := store.UpdateInjectionOutcome(ctx, id, datatypes.OutcomeUpdate{Outcome: datatypes.OutcomeSuccess, Feedback: "great"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.OutcomeSuccess, updated.Outcome)
	require.NotNil(t, updated.OutcomeRecordedAt)

	got, err := store.GetInjection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "great", got.UserFeedback)

	_, err = store.UpdateInjectionOutcome(ctx, "missing", datatypes.OutcomeUpdate{Outcome: datatypes.OutcomeFailure})
	assert.True(t, errors.Is(err, datatypes.ErrInjectionNotFound))
}

func TestBadgerStore_CreateInjectionKeepsProvidedID(t *testing.T) {
	store := newTestStore(t)
	id, err := store.CreateInjection(context.Background(), &datatypes.SkillInjection{ID: "fixed", SkillIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = store.CreateInjection(context.Background(), &datatypes.SkillInjection{})
	assert.Error(t, err, "an injection needs at least one skill")
}
