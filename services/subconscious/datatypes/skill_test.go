// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Validation
// =============================================================================

func TestSkill_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Skill)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *Skill) {}},
		{name: "missing name", mutate: func(s *Skill) { s.Name = "" }, wantErr: true},
		{name: "importance too high", mutate: func(s *Skill) { s.ImportanceLevel = 4 }, wantErr: true},
		{name: "confidence below floor", mutate: func(s *Skill) { s.ConfidenceScore = 0.05 }, wantErr: true},
		{name: "blank tag", mutate: func(s *Skill) { s.Tags = []string{"rsi", "  "} }, wantErr: true},
		{name: "active but merged", mutate: func(s *Skill) { s.MergedInto = "other" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSkill("RSI basics", "d", "t", "a", "r", []string{"rsi"}, ImportanceMedium)
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" RSI ", "momentum", "rsi", "", "Alpha"})
	assert.Equal(t, []string{"alpha", "momentum", "rsi"}, got)
	assert.Equal(t, []string{}, NormalizeTags(nil))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, MinConfidence, ClampConfidence(-3))
	assert.Equal(t, MaxConfidence, ClampConfidence(1.7))
	assert.InDelta(t, 0.42, ClampConfidence(0.42), 1e-9)
}

// =============================================================================
// Patches
// =============================================================================

func TestSkillPatch_Apply(t *testing.T) {
	s := NewSkill("RSI basics", "d", "t", "a", "r", []string{"rsi"}, ImportanceMedium)
	name := "RSI divergence"
	conf := 1.4
	count := 3

	require.NoError(t, SkillPatch{Name: &name, ConfidenceScore: &conf, EvolutionCount: &count}.Apply(s))

	assert.Equal(t, "RSI divergence", s.Name)
	assert.Equal(t, MaxConfidence, s.ConfidenceScore, "confidence is clamped on apply")
	assert.Equal(t, 3, s.EvolutionCount)
	assert.Equal(t, "d", s.Description, "untouched fields survive")
}

func TestSkillPatch_CannotReactivateMergedSkill(t *testing.T) {
	s := NewSkill("A", "", "", "", "", nil, ImportanceLow)
	target := "b-id"
	inactive := false
	require.NoError(t, SkillPatch{IsActive: &inactive, MergedInto: &target}.Apply(s))
	assert.False(t, s.IsActive)

	active := true
	err := SkillPatch{IsActive: &active}.Apply(s)
	assert.True(t, errors.Is(err, ErrSkillMerged))
	assert.False(t, s.IsActive)
}

// =============================================================================
// Outcomes
// =============================================================================

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome(" Success ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, o)

	_, err = ParseOutcome("great")
	assert.Error(t, err)
}

func TestSkill_SuccessRate(t *testing.T) {
	s := &Skill{}
	assert.Equal(t, 0.0, s.SuccessRate())
	s.TimesApplied, s.TimesSucceeded = 4, 3
	assert.InDelta(t, 0.75, s.SuccessRate(), 1e-9)
}

// =============================================================================
// Weaviate wire form
// =============================================================================

func TestParseGraphQLResponse_Skill(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Skill": []interface{}{
					map[string]interface{}{
						"name":             "RSI",
						"tags":             []interface{}{"rsi"},
						"importance_level": 3,
						"confidence_score": 0.6,
						"is_active":        true,
						"created_at":       1700000000000,
						"_additional": map[string]interface{}{
							"id":       "abc",
							"distance": 0.2,
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[SkillQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.Skill, 1)

	s := parsed.Get.Skill[0].ToSkill()
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, 3, s.ImportanceLevel)
	assert.True(t, s.IsActive)
	assert.Equal(t, int64(1700000000000), s.CreatedAt.UnixMilli())
	assert.InDelta(t, 0.2, parsed.Get.Skill[0].Additional.Distance, 1e-9)
}

func TestParseGraphQLResponse_Errors(t *testing.T) {
	_, err := ParseGraphQLResponse[SkillQueryResponse](nil)
	assert.Error(t, err)

	_, err = ParseGraphQLResponse[SkillQueryResponse](&models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "no such class"}},
	})
	assert.ErrorContains(t, err, "no such class")
}

func TestSkillProperties_RoundTripThroughRecord(t *testing.T) {
	evolved := time.UnixMilli(1700000005000).UTC()
	s := NewSkill("Merge", "desc", "when", "do", "why", []string{"a"}, ImportanceAlways)
	s.LastEvolvedAt = &evolved
	s.MergedFrom = []string{"x", "y"}

	rec, err := DecodeProperties[SkillRecord](SkillProperties(s))
	require.NoError(t, err)
	back := rec.ToSkill()

	assert.Equal(t, s.Name, back.Name)
	assert.Equal(t, s.MergedFrom, back.MergedFrom)
	require.NotNil(t, back.LastEvolvedAt)
	assert.True(t, evolved.Equal(*back.LastEvolvedAt))
}
