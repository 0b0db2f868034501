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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSubconscious/services/llm"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

const mergerSystemPrompt = `You consolidate two overlapping pieces of stored knowledge into one.

Keep every concrete rule, threshold and caveat from both, remove repetition, and
prefer the more precise wording when they disagree.

Return only a JSON object:
{
  "name": "short title",
  "description": "what the skill is about",
  "trigger_condition": "when it applies",
  "action": "what to do",
  "reasoning": "why it works",
  "tags": ["lowercase", "tags"],
  "importance_level": 1
}
importance_level is 1 (situational), 2 (common) or 3 (always relevant).`

// Errors returned by Merge.
var (
	ErrMergeSameSkill   = errors.New("cannot merge a skill with itself")
	ErrInvalidPrimary   = errors.New("keep_primary must be one of the merged skills")
	ErrSkillInactive    = errors.New("skill is inactive")
	ErrMergeUnavailable = errors.New("merger has no store or LLM configured")
)

// MergeAction is the result kind reported by AutoMergeDuplicates.
type MergeAction string

const (
	ActionWouldMerge  MergeAction = "would_merge"
	ActionMerged      MergeAction = "merged"
	ActionMergeFailed MergeAction = "merge_failed"
)

// MergeReport describes what happened to one duplicate pair.
type MergeReport struct {
	Action        MergeAction `json:"action"`
	SkillAID      string      `json:"skill_a_id"`
	SkillAName    string      `json:"skill_a_name"`
	SkillBID      string      `json:"skill_b_id"`
	SkillBName    string      `json:"skill_b_name"`
	Similarity    float64     `json:"similarity"`
	MergedSkillID string      `json:"merged_skill_id,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// SkillMerger consolidates duplicate skills with the help of an LLM.
//
// # Description
//
// Merge either rewrites a primary skill in place and retires the other, or
// creates a brand-new skill and retires both. Retired skills point at the
// survivor through MergedInto and can never be reactivated. Merge fails
// closed: nothing is written until the LLM produced a usable draft.
//
// # Limitations
//
//   - The sequence (update survivor, retire other, log evolution) is not
//     transactional across rows. A crash between writes can leave both
//     skills active; the next duplicate scan finds them again.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent merges touching the same skill are not
// coordinated.
type SkillMerger struct {
	store    SkillStore
	llm      Completer
	embedder EmbeddingProvider
	dedup    *Deduplicator
	config   MergerConfig
	limiter  *rate.Limiter
}

// NewSkillMerger creates a merger. embedder may be nil; merged skills then
// carry no vector until re-embedded.
func NewSkillMerger(store SkillStore, completer Completer, embedder EmbeddingProvider, config MergerConfig) *SkillMerger {
	limit := rate.Inf
	if config.MergesPerMinute > 0 {
		limit = rate.Limit(config.MergesPerMinute / 60)
	}
	if config.DuplicateScanLimit <= 0 {
		config.DuplicateScanLimit = DefaultMergerConfig().DuplicateScanLimit
	}
	return &SkillMerger{
		store:    store,
		llm:      completer,
		embedder: embedder,
		dedup:    NewDeduplicator(store, embedder),
		config:   config,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// FindDuplicates exposes the duplicate scan used by auto-merge.
func (m *SkillMerger) FindDuplicates(ctx context.Context, threshold float64, limit int) []DuplicatePair {
	if limit <= 0 {
		limit = m.config.DuplicateScanLimit
	}
	return m.dedup.FindDuplicates(ctx, threshold, limit)
}

type mergeDraft struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	TriggerCondition string   `json:"trigger_condition"`
	Action           string   `json:"action"`
	Reasoning        string   `json:"reasoning"`
	Tags             []string `json:"tags"`
	ImportanceLevel  int      `json:"importance_level"`
}

// Merge consolidates skills aID and bID.
//
// # Inputs
//
//   - aID, bID: Distinct active skills.
//   - keepPrimary: "" to create a new skill, or aID/bID to rewrite that
//     skill in place.
//
// # Outputs
//
//   - *datatypes.Skill: The surviving skill.
//   - error: Non-nil (and no skill) when the merge was refused or failed.
func (m *SkillMerger) Merge(ctx context.Context, aID, bID, keepPrimary string) (*datatypes.Skill, error) {
	ctx, span := tracer.Start(ctx, "SkillMerger.Merge",
		trace.WithAttributes(
			attribute.String("merge.skill_a", aID),
			attribute.String("merge.skill_b", bID),
			attribute.Bool("merge.keep_primary", keepPrimary != ""),
		))
	defer span.End()

	skill, err := m.merge(ctx, aID, bID, keepPrimary)
	if err != nil {
		failSpan(span, err)
		slog.Warn("Skill merge failed", "skill_a", aID, "skill_b", bID, "error", err)
		return nil, err
	}
	slog.Info("Merged skills", "skill_a", aID, "skill_b", bID, "result", skill.ID)
	return skill, nil
}

func (m *SkillMerger) merge(ctx context.Context, aID, bID, keepPrimary string) (*datatypes.Skill, error) {
	if m.store == nil || m.llm == nil {
		return nil, ErrMergeUnavailable
	}
	if aID == bID {
		return nil, ErrMergeSameSkill
	}
	if keepPrimary != "" && keepPrimary != aID && keepPrimary != bID {
		return nil, ErrInvalidPrimary
	}

	a, err := m.loadActive(ctx, aID)
	if err != nil {
		return nil, err
	}
	b, err := m.loadActive(ctx, bID)
	if err != nil {
		return nil, err
	}

	draft, err := m.draft(ctx, a, b)
	if err != nil {
		return nil, err
	}

	if keepPrimary != "" {
		primary, other := a, b
		if keepPrimary == bID {
			primary, other = b, a
		}
		return m.mergeIntoPrimary(ctx, primary, other, draft)
	}
	return m.mergeIntoNew(ctx, a, b, draft)
}

func (m *SkillMerger) loadActive(ctx context.Context, id string) (*datatypes.Skill, error) {
	s, err := m.store.GetSkill(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load skill %s: %w", id, err)
	}
	if s.MergedInto != "" {
		return nil, fmt.Errorf("skill %s: %w", id, datatypes.ErrSkillMerged)
	}
	if !s.IsActive {
		return nil, fmt.Errorf("skill %s: %w", id, ErrSkillInactive)
	}
	return s, nil
}

func (m *SkillMerger) draft(ctx context.Context, a, b *datatypes.Skill) (*mergeDraft, error) {
	prompt := fmt.Sprintf("Skill A:\n%s\nTags: %s\nImportance: %d\n\nSkill B:\n%s\nTags: %s\nImportance: %d\n\nReturn the merged skill JSON.",
		FormatSkillContent(a), strings.Join(a.Tags, ", "), a.ImportanceLevel,
		FormatSkillContent(b), strings.Join(b.Tags, ", "), b.ImportanceLevel)

	raw, err := m.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: mergerSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    m.config.MaxTokens,
		Temperature:  m.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("merge completion: %w", err)
	}

	obj, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var d mergeDraft
	if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return nil, fmt.Errorf("failed to parse merge JSON: %w", err)
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, fmt.Errorf("merge draft has no name")
	}
	if d.ImportanceLevel < datatypes.ImportanceLow || d.ImportanceLevel > datatypes.ImportanceAlways {
		d.ImportanceLevel = max(a.ImportanceLevel, b.ImportanceLevel)
	}
	if len(d.Tags) == 0 {
		d.Tags = append(append([]string{}, a.Tags...), b.Tags...)
	}
	d.Tags = datatypes.NormalizeTags(d.Tags)
	return &d, nil
}

func (m *SkillMerger) mergeIntoPrimary(ctx context.Context, primary, other *datatypes.Skill, d *mergeDraft) (*datatypes.Skill, error) {
	now := time.Now().UTC()
	evolutions := primary.EvolutionCount + 1
	evolutionType := datatypes.EvolutionTypeMerge

	updated, err := m.store.UpdateSkill(ctx, primary.ID, datatypes.SkillPatch{
		Name:              &d.Name,
		Description:       &d.Description,
		TriggerCondition:  &d.TriggerCondition,
		Action:            &d.Action,
		Reasoning:         &d.Reasoning,
		Tags:              d.Tags,
		ImportanceLevel:   &d.ImportanceLevel,
		EvolutionCount:    &evolutions,
		LastEvolvedAt:     &now,
		LastEvolutionType: &evolutionType,
	})
	if err != nil {
		return nil, fmt.Errorf("update primary %s: %w", primary.ID, err)
	}

	if err := m.retire(ctx, other.ID, primary.ID); err != nil {
		return nil, err
	}
	m.logEvolution(ctx, primary.ID, fmt.Sprintf("Merged with skill '%s'", other.Name))
	return updated, nil
}

func (m *SkillMerger) mergeIntoNew(ctx context.Context, a, b *datatypes.Skill, d *mergeDraft) (*datatypes.Skill, error) {
	skill := datatypes.NewSkill(d.Name, d.Description, d.TriggerCondition, d.Action, d.Reasoning, d.Tags, d.ImportanceLevel)
	skill.ID = uuid.NewString()
	skill.MergedFrom = []string{a.ID, b.ID}
	skill.EvolutionCount = 1
	evolved := skill.CreatedAt
	skill.LastEvolvedAt = &evolved
	skill.LastEvolutionType = datatypes.EvolutionTypeMerge

	if m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, truncateString(FormatSkillContent(skill), embedContentLength))
		if err != nil {
			slog.Warn("Failed to embed merged skill, storing without vector", "error", err)
		} else {
			skill.Embedding = vec
		}
	}

	created, err := m.store.CreateSkill(ctx, skill)
	if err != nil {
		return nil, fmt.Errorf("create merged skill: %w", err)
	}

	if err := m.retire(ctx, a.ID, created.ID); err != nil {
		return nil, err
	}
	if err := m.retire(ctx, b.ID, created.ID); err != nil {
		return nil, err
	}
	m.logEvolution(ctx, created.ID, fmt.Sprintf("Merged from skills '%s' and '%s'", a.Name, b.Name))
	return created, nil
}

func (m *SkillMerger) retire(ctx context.Context, id, into string) error {
	inactive := false
	if _, err := m.store.UpdateSkill(ctx, id, datatypes.SkillPatch{IsActive: &inactive, MergedInto: &into}); err != nil {
		return fmt.Errorf("deactivate %s: %w", id, err)
	}
	return nil
}

// logEvolution appends an audit entry; failures are logged only.
func (m *SkillMerger) logEvolution(ctx context.Context, skillID, changelog string) {
	err := m.store.AppendEvolution(ctx, datatypes.EvolutionLogEntry{
		SkillID:        skillID,
		EvolutionType:  datatypes.EvolutionTypeMerge,
		Changelog:      changelog,
		LearningNote:   "Skills consolidated to reduce redundancy",
		TriggerOutcome: "automation",
		TriggerContext: "Duplicate detection",
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to append evolution log", "skill_id", skillID, "error", err)
	}
}

// AutoMergeDuplicates finds duplicate pairs and merges them.
//
// # Description
//
// Up to maxMerges pairs (most similar first) are processed. In dry-run mode
// nothing is written and every pair is reported as would_merge. Otherwise
// each pair is merged into its first skill (SkillAID), which keeps its ID,
// confidence and counters while the second is retired. Merges are paced by
// the merge rate limiter; a failed pair is reported as merge_failed and
// processing continues. A pair whose skill was already retired earlier in
// the run fails that way too.
func (m *SkillMerger) AutoMergeDuplicates(ctx context.Context, threshold float64, maxMerges int, dryRun bool) []MergeReport {
	ctx, span := tracer.Start(ctx, "SkillMerger.AutoMergeDuplicates",
		trace.WithAttributes(
			attribute.Float64("merge.threshold", threshold),
			attribute.Bool("merge.dry_run", dryRun),
		))
	defer span.End()

	pairs := m.FindDuplicates(ctx, threshold, 0)
	if maxMerges >= 0 && len(pairs) > maxMerges {
		pairs = pairs[:maxMerges]
	}

	reports := make([]MergeReport, 0, len(pairs))
	for _, p := range pairs {
		report := MergeReport{
			SkillAID:   p.SkillAID,
			SkillAName: p.SkillAName,
			SkillBID:   p.SkillBID,
			SkillBName: p.SkillBName,
			Similarity: p.Similarity,
		}

		if dryRun {
			report.Action = ActionWouldMerge
			reports = append(reports, report)
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			report.Action = ActionMergeFailed
			report.Error = err.Error()
			reports = append(reports, report)
			continue
		}

		merged, err := m.Merge(ctx, p.SkillAID, p.SkillBID, p.SkillAID)
		if err != nil {
			report.Action = ActionMergeFailed
			report.Error = err.Error()
		} else {
			report.Action = ActionMerged
			report.MergedSkillID = merged.ID
		}
		reports = append(reports, report)
	}

	span.SetAttributes(attribute.Int("merge.pairs", len(reports)))
	return reports
}
