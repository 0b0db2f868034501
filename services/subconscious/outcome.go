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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

// Confidence deltas applied per outcome.
const (
	SuccessDelta = 0.02
	FailureDelta = -0.03
	PartialDelta = 0.005
)

// InjectionRecord describes an injection to persist.
type InjectionRecord struct {
	ID              string
	SkillIDs        []string
	ThreadID        string
	UserIntent      string
	SynthesisMethod SynthesisMethod
}

// OutcomeTracker logs injections and feeds outcomes back into skill confidence.
//
// # Description
//
// RecordOutcome updates the injection row first and then each skill
// independently: a failure on one skill is logged and does not stop the
// others. Updates are read-modify-write through the store, so concurrent
// outcomes for the same skill are last-write-wins.
//
// # Thread Safety
//
// Safe for concurrent use.
type OutcomeTracker struct {
	skills     SkillStore
	injections InjectionStore
}

// NewOutcomeTracker creates a tracker. Either store may be nil, in which case
// the corresponding operations are no-ops.
func NewOutcomeTracker(skills SkillStore, injections InjectionStore) *OutcomeTracker {
	return &OutcomeTracker{skills: skills, injections: injections}
}

// RecordInjection persists an injection row.
//
// # Outputs
//
//   - string: The injection ID, or "" when nothing was recorded (no store,
//     no skills, or a store failure). Never returns an error.
func (t *OutcomeTracker) RecordInjection(ctx context.Context, rec InjectionRecord) string {
	if t.injections == nil || len(rec.SkillIDs) == 0 {
		return ""
	}

	id, err := t.injections.CreateInjection(ctx, &datatypes.SkillInjection{
		ID:              rec.ID,
		SkillIDs:        rec.SkillIDs,
		ThreadID:        rec.ThreadID,
		UserIntent:      rec.UserIntent,
		SynthesisMethod: string(rec.SynthesisMethod),
		InjectedAt:      time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to record injection", "error", err, "thread_id", rec.ThreadID)
		return ""
	}
	return id
}

// RecordOutcome stores the outcome of an injection and adjusts confidence.
//
// # Inputs
//
//   - injectionID: Row returned by RecordInjection.
//   - outcome: success, failure, partial or unknown (case-insensitive).
//   - outcomeContext: Free-text description of what happened.
//   - feedback: Optional user feedback.
//
// # Outputs
//
//   - bool: true when the injection row was updated. Individual skill
//     update failures do not change the result.
func (t *OutcomeTracker) RecordOutcome(ctx context.Context, injectionID, outcome, outcomeContext, feedback string) bool {
	ctx, span := tracer.Start(ctx, "OutcomeTracker.RecordOutcome",
		trace.WithAttributes(attribute.String("outcome", outcome)))
	defer span.End()

	if t.injections == nil || injectionID == "" {
		return false
	}
	parsed, err := datatypes.ParseOutcome(outcome)
	if err != nil {
		slog.Warn("Rejected outcome", "error", err, "injection_id", injectionID)
		return false
	}

	inj, err := t.injections.UpdateInjectionOutcome(ctx, injectionID, datatypes.OutcomeUpdate{
		Outcome:    parsed,
		Context:    outcomeContext,
		Feedback:   feedback,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		failSpan(span, err)
		slog.Warn("Failed to record outcome", "error", err, "injection_id", injectionID)
		return false
	}

	if parsed == datatypes.OutcomeUnknown || t.skills == nil {
		return true
	}

	for _, skillID := range inj.SkillIDs {
		if err := t.updateSkillConfidence(ctx, skillID, parsed); err != nil {
			slog.Warn("Failed to update skill confidence", "error", err, "skill_id", skillID)
			continue
		}
		recordConfidenceUpdate(ctx, string(parsed))
	}
	return true
}

func (t *OutcomeTracker) updateSkillConfidence(ctx context.Context, skillID string, outcome datatypes.Outcome) error {
	skill, err := t.skills.GetSkill(ctx, skillID)
	if err != nil {
		return err
	}
	patch, changed := ConfidencePatch(skill, outcome)
	if !changed {
		return nil
	}
	if _, err := t.skills.UpdateSkill(ctx, skillID, patch); err != nil {
		return fmt.Errorf("apply outcome to %s: %w", skillID, err)
	}
	return nil
}

// ConfidencePatch computes the counter and confidence update for one outcome.
//
// success +0.02, failure -0.03, partial +0.005, each clamped to [0.1, 1.0] and
// each incrementing times_applied. unknown changes nothing (changed=false).
func ConfidencePatch(skill *datatypes.Skill, outcome datatypes.Outcome) (datatypes.SkillPatch, bool) {
	var delta float64
	succeeded, failed := skill.TimesSucceeded, skill.TimesFailed
	switch outcome {
	case datatypes.OutcomeSuccess:
		delta = SuccessDelta
		succeeded++
	case datatypes.OutcomeFailure:
		delta = FailureDelta
		failed++
	case datatypes.OutcomePartial:
		delta = PartialDelta
	default:
		return datatypes.SkillPatch{}, false
	}

	confidence := datatypes.ClampConfidence(skill.ConfidenceScore + delta)
	applied := skill.TimesApplied + 1
	return datatypes.SkillPatch{
		ConfidenceScore: &confidence,
		TimesApplied:    &applied,
		TimesSucceeded:  &succeeded,
		TimesFailed:     &failed,
	}, true
}

// SkillStats returns the effectiveness summary for one skill.
func (t *OutcomeTracker) SkillStats(ctx context.Context, skillID string) (*datatypes.EffectivenessStats, error) {
	if t.skills == nil {
		return nil, fmt.Errorf("no skill store configured")
	}
	skill, err := t.skills.GetSkill(ctx, skillID)
	if err != nil {
		return nil, err
	}
	stats := datatypes.StatsFor(skill)
	return &stats, nil
}
