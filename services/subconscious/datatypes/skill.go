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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// ImportanceLow marks a skill retrieved only on keyword or semantic match.
	ImportanceLow = 1

	// ImportanceMedium is the default tier for learned skills.
	ImportanceMedium = 2

	// ImportanceAlways marks a skill retrieved on every injection attempt.
	ImportanceAlways = 3

	// MinConfidence is the floor every confidence update is clamped to.
	MinConfidence = 0.1

	// MaxConfidence is the ceiling every confidence update is clamped to.
	MaxConfidence = 1.0

	// InitialConfidence is assigned to newly created skills.
	InitialConfidence = 0.5

	// EvolutionTypeMerge is recorded when two skills are consolidated.
	EvolutionTypeMerge = "merge"
)

// Sentinel errors shared by every store implementation.
var (
	ErrSkillNotFound     = errors.New("skill not found")
	ErrInjectionNotFound = errors.New("injection not found")
	ErrSkillMerged       = errors.New("skill has been merged and is permanently inactive")
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// skillValidate is the validator instance for subconscious datatypes.
var skillValidate *validator.Validate

func init() {
	skillValidate = validator.New()
	_ = skillValidate.RegisterValidation("tag", validateTag)
}

// validateTag rejects empty or whitespace-only tags.
func validateTag(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Skill
// =============================================================================

// Skill is a persisted unit of domain knowledge.
//
// # Description
//
// A Skill captures one actionable lesson: when it applies (TriggerCondition),
// what to do (Action), and why (Reasoning). Skills are retrieved by tag
// overlap, by vector similarity, or unconditionally when ImportanceLevel is
// ImportanceAlways. ConfidenceScore moves with recorded outcomes.
//
// # Fields
//
//   - ID: UUID assigned by the store on creation.
//   - Name: Required short title.
//   - Tags: Lower-cased keywords used by the keyword retrieval channel.
//   - ImportanceLevel: 1..3, where 3 means always retrieved.
//   - ConfidenceScore: Always within [MinConfidence, MaxConfidence].
//   - IsActive: Inactive skills are never retrieved.
//   - MergedInto: Set when the skill was consolidated into another one. A
//     skill with MergedInto set is permanently inactive.
//   - MergedFrom: Source skill IDs for a skill created by a merge.
//   - Embedding: Optional cached vector, populated only when a store is
//     asked to return vectors.
//
// # Validation
//
// Validate() enforces the struct tags below. Stores call Normalize() followed
// by Validate() before any write.
type Skill struct {
	ID                string     `json:"id"`
	Name              string     `json:"name" validate:"required,max=200"`
	Description       string     `json:"description" validate:"max=4000"`
	TriggerCondition  string     `json:"trigger_condition" validate:"max=4000"`
	Action            string     `json:"action" validate:"max=4000"`
	Reasoning         string     `json:"reasoning" validate:"max=4000"`
	Tags              []string   `json:"tags" validate:"max=50,dive,tag,max=100"`
	ImportanceLevel   int        `json:"importance_level" validate:"min=1,max=3"`
	ConfidenceScore   float64    `json:"confidence_score" validate:"gte=0.1,lte=1"`
	TimesApplied      int        `json:"times_applied" validate:"gte=0"`
	TimesSucceeded    int        `json:"times_succeeded" validate:"gte=0"`
	TimesFailed       int        `json:"times_failed" validate:"gte=0"`
	IsActive          bool       `json:"is_active"`
	MergedInto        string     `json:"merged_into,omitempty"`
	MergedFrom        []string   `json:"merged_from,omitempty"`
	EvolutionCount    int        `json:"evolution_count" validate:"gte=0"`
	LastEvolvedAt     *time.Time `json:"last_evolved_at,omitempty"`
	LastEvolutionType string     `json:"last_evolution_type,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Embedding         []float32  `json:"embedding,omitempty"`
}

// Validate checks the skill against its struct tags and cross-field rules.
func (s *Skill) Validate() error {
	if err := skillValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid skill: %w", err)
	}
	if s.MergedInto != "" && s.IsActive {
		return fmt.Errorf("invalid skill: merged skill %s cannot be active", s.ID)
	}
	return nil
}

// Normalize brings a skill into canonical form before it is stored.
//
// Tags are trimmed, lower-cased, de-duplicated and sorted; confidence is
// clamped; a zero importance becomes ImportanceMedium.
func (s *Skill) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Tags = NormalizeTags(s.Tags)
	s.ConfidenceScore = ClampConfidence(s.ConfidenceScore)
	if s.ImportanceLevel == 0 {
		s.ImportanceLevel = ImportanceMedium
	}
	if s.MergedInto != "" {
		s.IsActive = false
	}
}

// SuccessRate returns succeeded / applied, or 0 when never applied.
func (s *Skill) SuccessRate() float64 {
	if s.TimesApplied == 0 {
		return 0
	}
	return float64(s.TimesSucceeded) / float64(s.TimesApplied)
}

// NewSkill returns an active skill with initial confidence and timestamps set.
func NewSkill(name, description, trigger, action, reasoning string, tags []string, importance int) *Skill {
	now := time.Now().UTC()
	s := &Skill{
		Name:             name,
		Description:      description,
		TriggerCondition: trigger,
		Action:           action,
		Reasoning:        reasoning,
		Tags:             tags,
		ImportanceLevel:  importance,
		ConfidenceScore:  InitialConfidence,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.Normalize()
	return s
}

// ClampConfidence bounds a confidence score to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts a tag list.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Partial Updates
// =============================================================================

// SkillPatch is a partial update. Nil fields are left untouched.
type SkillPatch struct {
	Name              *string
	Description       *string
	TriggerCondition  *string
	Action            *string
	Reasoning         *string
	Tags              []string
	ImportanceLevel   *int
	ConfidenceScore   *float64
	TimesApplied      *int
	TimesSucceeded    *int
	TimesFailed       *int
	IsActive          *bool
	MergedInto        *string
	EvolutionCount    *int
	LastEvolvedAt     *time.Time
	LastEvolutionType *string
}

// Apply copies every non-nil field onto s and refreshes UpdatedAt.
//
// # Description
//
// Apply is the single place that mutates a stored skill, so both store
// implementations share the same merge semantics. The result is normalized
// but not validated; stores validate after applying.
//
// # Limitations
//
//   - A merged skill cannot be reactivated: ErrSkillMerged is returned when
//     the patch sets IsActive to true on a skill with MergedInto.
func (p SkillPatch) Apply(s *Skill) error {
	if p.IsActive != nil && *p.IsActive && s.MergedInto != "" && p.MergedInto == nil {
		return fmt.Errorf("reactivate %s: %w", s.ID, ErrSkillMerged)
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.TriggerCondition != nil {
		s.TriggerCondition = *p.TriggerCondition
	}
	if p.Action != nil {
		s.Action = *p.Action
	}
	if p.Reasoning != nil {
		s.Reasoning = *p.Reasoning
	}
	if p.Tags != nil {
		s.Tags = p.Tags
	}
	if p.ImportanceLevel != nil {
		s.ImportanceLevel = *p.ImportanceLevel
	}
	if p.ConfidenceScore != nil {
		s.ConfidenceScore = *p.ConfidenceScore
	}
	if p.TimesApplied != nil {
		s.TimesApplied = *p.TimesApplied
	}
	if p.TimesSucceeded != nil {
		s.TimesSucceeded = *p.TimesSucceeded
	}
	if p.TimesFailed != nil {
		s.TimesFailed = *p.TimesFailed
	}
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
	}
	if p.MergedInto != nil {
		s.MergedInto = *p.MergedInto
	}
	if p.EvolutionCount != nil {
		s.EvolutionCount = *p.EvolutionCount
	}
	if p.LastEvolvedAt != nil {
		t := *p.LastEvolvedAt
		s.LastEvolvedAt = &t
	}
	if p.LastEvolutionType != nil {
		s.LastEvolutionType = *p.LastEvolutionType
	}
	s.UpdatedAt = time.Now().UTC()
	s.Normalize()
	return nil
}

// SkillMatch is a vector search hit.
type SkillMatch struct {
	Skill      *Skill
	Similarity float64
}
