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
	"fmt"
	"strings"
	"time"
)

// Outcome is the result recorded against an injection.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeUnknown Outcome = "unknown"
)

// ParseOutcome maps a case-insensitive string onto a known Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial, OutcomeUnknown:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// SkillInjection is the log row written each time skills are injected.
//
// # Fields
//
//   - ID: UUID, either pre-generated by the caller or assigned by the store.
//   - SkillIDs: Skills that contributed to the injected text.
//   - ThreadID: Conversation the injection belongs to.
//   - UserIntent: The planner's intent summary at injection time.
//   - SynthesisMethod: "template" or "llm".
//   - Outcome: Empty until an outcome is recorded.
type SkillInjection struct {
	ID                string     `json:"id"`
	SkillIDs          []string   `json:"skill_ids" validate:"required,min=1,dive,required"`
	ThreadID          string     `json:"thread_id"`
	UserIntent        string     `json:"user_intent" validate:"max=2000"`
	SynthesisMethod   string     `json:"synthesis_method" validate:"omitempty,oneof=template llm skipped"`
	InjectedAt        time.Time  `json:"injected_at"`
	Outcome           Outcome    `json:"outcome,omitempty"`
	OutcomeContext    string     `json:"outcome_context,omitempty"`
	UserFeedback      string     `json:"user_feedback,omitempty"`
	OutcomeRecordedAt *time.Time `json:"outcome_recorded_at,omitempty"`
}

// Validate checks the injection row against its struct tags.
func (i *SkillInjection) Validate() error {
	if err := skillValidate.Struct(i); err != nil {
		return fmt.Errorf("invalid injection: %w", err)
	}
	return nil
}

// OutcomeUpdate is the patch applied to an injection row when feedback arrives.
type OutcomeUpdate struct {
	Outcome    Outcome
	Context    string
	Feedback   string
	RecordedAt time.Time
}

// EvolutionLogEntry records a structural change to a skill.
type EvolutionLogEntry struct {
	ID             string    `json:"id"`
	SkillID        string    `json:"skill_id" validate:"required"`
	EvolutionType  string    `json:"evolution_type" validate:"required"`
	Changelog      string    `json:"changelog"`
	LearningNote   string    `json:"learning_note"`
	TriggerOutcome string    `json:"trigger_outcome"`
	TriggerContext string    `json:"trigger_context"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the entry against its struct tags.
func (e *EvolutionLogEntry) Validate() error {
	if err := skillValidate.Struct(e); err != nil {
		return fmt.Errorf("invalid evolution entry: %w", err)
	}
	return nil
}

// EffectivenessStats summarises how a skill has performed.
type EffectivenessStats struct {
	SkillID         string  `json:"skill_id"`
	Name            string  `json:"name"`
	ConfidenceScore float64 `json:"confidence_score"`
	TimesApplied    int     `json:"times_applied"`
	TimesSucceeded  int     `json:"times_succeeded"`
	TimesFailed     int     `json:"times_failed"`
	SuccessRate     float64 `json:"success_rate"`
	IsActive        bool    `json:"is_active"`
}

// StatsFor builds EffectivenessStats from a skill.
func StatsFor(s *Skill) EffectivenessStats {
	return EffectivenessStats{
		SkillID:         s.ID,
		Name:            s.Name,
		ConfidenceScore: s.ConfidenceScore,
		TimesApplied:    s.TimesApplied,
		TimesSucceeded:  s.TimesSucceeded,
		TimesFailed:     s.TimesFailed,
		SuccessRate:     s.SuccessRate(),
		IsActive:        s.IsActive,
	}
}
