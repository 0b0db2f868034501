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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

// =============================================================================
// Conversation
// =============================================================================

// ContentPart is one block of a multi-part message. Only "text" parts carry
// text the pipeline reads.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one conversation turn as seen by the host agent.
//
// Content holds plain text. Parts holds structured content; when both are
// present Content wins.
type Message struct {
	Role    string        `json:"role" validate:"required,oneof=user assistant system tool"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the message text, joining text parts with a space.
func (m Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// =============================================================================
// Retrieval
// =============================================================================

// Source names the retrieval channel a skill came from.
type Source string

const (
	SourceAlways   Source = "always"
	SourceKeyword  Source = "keyword"
	SourceSemantic Source = "semantic"
)

// RetrievedSkill is a candidate skill with its channel-assigned relevance.
type RetrievedSkill struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Content         string    `json:"content"`
	Tags            []string  `json:"tags"`
	ImportanceLevel int       `json:"importance_level"`
	RelevanceScore  float64   `json:"relevance_score"`
	Source          Source    `json:"source"`
	Embedding       []float32 `json:"-"`
}

// newRetrievedSkill formats a stored skill for injection.
func newRetrievedSkill(s *datatypes.Skill, relevance float64, source Source) RetrievedSkill {
	return RetrievedSkill{
		ID:              s.ID,
		Name:            s.Name,
		Content:         FormatSkillContent(s),
		Tags:            s.Tags,
		ImportanceLevel: s.ImportanceLevel,
		RelevanceScore:  relevance,
		Source:          source,
		Embedding:       s.Embedding,
	}
}

// FormatSkillContent renders a skill as the markdown block injected into
// agent context.
func FormatSkillContent(s *datatypes.Skill) string {
	lines := []string{fmt.Sprintf("**%s**", s.Name)}
	if s.Description != "" {
		lines = append(lines, s.Description)
	}
	if s.TriggerCondition != "" {
		lines = append(lines, "When: "+s.TriggerCondition)
	}
	if s.Action != "" {
		lines = append(lines, "Do: "+s.Action)
	}
	if s.Reasoning != "" {
		lines = append(lines, "Why: "+s.Reasoning)
	}
	return strings.Join(lines, "\n")
}

// RetrievalPlan is the planner's decision for one turn.
type RetrievalPlan struct {
	UserIntent      string   `json:"user_intent"`
	KeywordQueries  []string `json:"keyword_queries"`
	SemanticQueries []string `json:"semantic_queries"`
	SkipReason      string   `json:"skip_reason,omitempty"`
}

// ShouldSkip reports whether the planner decided no retrieval is needed.
func (p RetrievalPlan) ShouldSkip() bool {
	return p.SkipReason != ""
}

// =============================================================================
// Synthesis
// =============================================================================

// SynthesisMethod records how injected text was produced.
type SynthesisMethod string

const (
	SynthesisTemplate SynthesisMethod = "template"
	SynthesisLLM      SynthesisMethod = "llm"
	SynthesisSkipped  SynthesisMethod = "skipped"
)

// InjectionResult is the synthesizer's output.
//
// DriftScore is reserved for topic-drift detection and is always 0.
type InjectionResult struct {
	Content         string          `json:"content"`
	SkillIDs        []string        `json:"skill_ids"`
	TokenCount      int             `json:"token_count"`
	DriftScore      float64         `json:"drift_score"`
	SynthesisMethod SynthesisMethod `json:"synthesis_method"`
}

// =============================================================================
// Events
// =============================================================================

// EventType distinguishes progress events from the injection event.
type EventType string

const (
	EventThinking  EventType = "subconscious_thinking"
	EventInjection EventType = "instinct_injection"
)

// Stage is a pipeline stage reported by a thinking event.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageRetrieving   Stage = "retrieving"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
)

// SkillSummary is the short form of a skill carried in the injection event.
type SkillSummary struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Tags   []string `json:"tags"`
	Source Source   `json:"source"`
}

// InjectionEventData is the payload of an instinct_injection event.
type InjectionEventData struct {
	InjectionID     string          `json:"injection_id,omitempty"`
	SkillIDs        []string        `json:"skill_ids"`
	Skills          []SkillSummary  `json:"skills"`
	UserIntent      string          `json:"user_intent"`
	Content         string          `json:"content"`
	TokenCount      int             `json:"token_count"`
	SynthesisMethod SynthesisMethod `json:"synthesis_method"`
	DriftScore      float64         `json:"drift_score"`
}

// Event is emitted to the EventSink while a turn is processed.
type Event struct {
	Type      EventType           `json:"type"`
	ThreadID  string              `json:"thread_id,omitempty"`
	Stage     Stage               `json:"stage,omitempty"`
	Injection *InjectionEventData `json:"data,omitempty"`
}
