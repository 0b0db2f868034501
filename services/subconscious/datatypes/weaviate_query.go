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
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse converts Weaviate's dynamic GraphQL payload into T.
//
// # Inputs
//
//   - resp: The GraphQL response from a Get().Do() call.
//
// # Outputs
//
//   - *T: Parsed value. Fields missing from the payload keep zero values.
//   - error: Non-nil if resp is nil, carries GraphQL errors, or fails to decode.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// DecodeProperties decodes an object's property map (as returned by the
// objects endpoint) into T.
func DecodeProperties[T any](props interface{}) (*T, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return &out, nil
}

// =============================================================================
// Skill Records
// =============================================================================

// SkillFields lists the properties requested from the Skill class.
var SkillFields = []string{
	"name", "description", "trigger_condition", "action", "reasoning", "tags",
	"importance_level", "confidence_score", "times_applied", "times_succeeded",
	"times_failed", "is_active", "merged_into", "merged_from", "evolution_count",
	"last_evolved_at", "last_evolution_type", "created_at", "updated_at",
}

// SkillQueryResponse is the shape of Get { Skill { ... } }.
type SkillQueryResponse struct {
	Get struct {
		Skill []SkillRecord `json:"Skill"`
	} `json:"Get"`
}

// SkillRecord is the wire form of a Skill in Weaviate. Timestamps are unix
// milliseconds.
type SkillRecord struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	TriggerCondition  string   `json:"trigger_condition"`
	Action            string   `json:"action"`
	Reasoning         string   `json:"reasoning"`
	Tags              []string `json:"tags"`
	ImportanceLevel   int      `json:"importance_level"`
	ConfidenceScore   float64  `json:"confidence_score"`
	TimesApplied      int      `json:"times_applied"`
	TimesSucceeded    int      `json:"times_succeeded"`
	TimesFailed       int      `json:"times_failed"`
	IsActive          bool     `json:"is_active"`
	MergedInto        string   `json:"merged_into"`
	MergedFrom        []string `json:"merged_from"`
	EvolutionCount    int      `json:"evolution_count"`
	LastEvolvedAt     int64    `json:"last_evolved_at"`
	LastEvolutionType string   `json:"last_evolution_type"`
	CreatedAt         int64    `json:"created_at"`
	UpdatedAt         int64    `json:"updated_at"`
	Additional        struct {
		ID       string    `json:"id"`
		Distance float64   `json:"distance"`
		Vector   []float32 `json:"vector"`
	} `json:"_additional"`
}

// ToSkill converts the wire record into a Skill.
func (r *SkillRecord) ToSkill() *Skill {
	s := &Skill{
		ID:                r.Additional.ID,
		Name:              r.Name,
		Description:       r.Description,
		TriggerCondition:  r.TriggerCondition,
		Action:            r.Action,
		Reasoning:         r.Reasoning,
		Tags:              r.Tags,
		ImportanceLevel:   r.ImportanceLevel,
		ConfidenceScore:   r.ConfidenceScore,
		TimesApplied:      r.TimesApplied,
		TimesSucceeded:    r.TimesSucceeded,
		TimesFailed:       r.TimesFailed,
		IsActive:          r.IsActive,
		MergedInto:        r.MergedInto,
		MergedFrom:        r.MergedFrom,
		EvolutionCount:    r.EvolutionCount,
		LastEvolutionType: r.LastEvolutionType,
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
		Embedding:         r.Additional.Vector,
	}
	if r.LastEvolvedAt > 0 {
		t := fromMillis(r.LastEvolvedAt)
		s.LastEvolvedAt = &t
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s
}

// SkillProperties returns the Weaviate property map for a skill. The vector
// and ID travel separately.
func SkillProperties(s *Skill) map[string]interface{} {
	props := map[string]interface{}{
		"name":                s.Name,
		"description":         s.Description,
		"trigger_condition":   s.TriggerCondition,
		"action":              s.Action,
		"reasoning":           s.Reasoning,
		"tags":                s.Tags,
		"importance_level":    s.ImportanceLevel,
		"confidence_score":    s.ConfidenceScore,
		"times_applied":       s.TimesApplied,
		"times_succeeded":     s.TimesSucceeded,
		"times_failed":        s.TimesFailed,
		"is_active":           s.IsActive,
		"merged_into":         s.MergedInto,
		"merged_from":         s.MergedFrom,
		"evolution_count":     s.EvolutionCount,
		"last_evolution_type": s.LastEvolutionType,
		"created_at":          s.CreatedAt.UnixMilli(),
		"updated_at":          s.UpdatedAt.UnixMilli(),
	}
	if s.LastEvolvedAt != nil {
		props["last_evolved_at"] = s.LastEvolvedAt.UnixMilli()
	}
	if s.MergedFrom == nil {
		props["merged_from"] = []string{}
	}
	return props
}

// =============================================================================
// Injection Records
// =============================================================================

// InjectionRecord is the wire form of a SkillInjection.
type InjectionRecord struct {
	SkillIDs          []string `json:"skill_ids"`
	ThreadID          string   `json:"thread_id"`
	UserIntent        string   `json:"user_intent"`
	SynthesisMethod   string   `json:"synthesis_method"`
	InjectedAt        int64    `json:"injected_at"`
	Outcome           string   `json:"outcome"`
	OutcomeContext    string   `json:"outcome_context"`
	UserFeedback      string   `json:"user_feedback"`
	OutcomeRecordedAt int64    `json:"outcome_recorded_at"`
}

// ToInjection converts the wire record into a SkillInjection.
func (r *InjectionRecord) ToInjection(id string) *SkillInjection {
	inj := &SkillInjection{
		ID:              id,
		SkillIDs:        r.SkillIDs,
		ThreadID:        r.ThreadID,
		UserIntent:      r.UserIntent,
		SynthesisMethod: r.SynthesisMethod,
		InjectedAt:      fromMillis(r.InjectedAt),
		Outcome:         Outcome(r.Outcome),
		OutcomeContext:  r.OutcomeContext,
		UserFeedback:    r.UserFeedback,
	}
	if r.OutcomeRecordedAt > 0 {
		t := fromMillis(r.OutcomeRecordedAt)
		inj.OutcomeRecordedAt = &t
	}
	return inj
}

// InjectionProperties returns the Weaviate property map for an injection row.
func InjectionProperties(i *SkillInjection) map[string]interface{} {
	props := map[string]interface{}{
		"skill_ids":        i.SkillIDs,
		"thread_id":        i.ThreadID,
		"user_intent":      i.UserIntent,
		"synthesis_method": i.SynthesisMethod,
		"injected_at":      i.InjectedAt.UnixMilli(),
	}
	if i.Outcome != "" {
		props["outcome"] = string(i.Outcome)
		props["outcome_context"] = i.OutcomeContext
		props["user_feedback"] = i.UserFeedback
	}
	if i.OutcomeRecordedAt != nil {
		props["outcome_recorded_at"] = i.OutcomeRecordedAt.UnixMilli()
	}
	return props
}

// EvolutionProperties returns the Weaviate property map for a log entry.
func EvolutionProperties(e *EvolutionLogEntry) map[string]interface{} {
	return map[string]interface{}{
		"skill_id":        e.SkillID,
		"evolution_type":  e.EvolutionType,
		"changelog":       e.Changelog,
		"learning_note":   e.LearningNote,
		"trigger_outcome": e.TriggerOutcome,
		"trigger_context": e.TriggerContext,
		"created_at":      e.CreatedAt.UnixMilli(),
	}
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
