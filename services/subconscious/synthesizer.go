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
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSubconscious/services/llm"
)

const synthesizerSystemPrompt = `You condense stored knowledge into a short directive for an assistant that is mid-conversation.

Pick only the skills that matter for the user's current intent and merge them into one
actionable note of at most 150 words. Resolve overlaps, keep concrete numbers and rules,
and drop anything irrelevant.

Return only a JSON object:
{"selected_skill_ids": ["id", ...], "synthesized_context": "the directive"}`

const synthesisContextChars = 1000

// Synthesizer turns retrieved skills into injected text.
//
// # Description
//
// Small, confident sets are rendered with a fixed template. Everything else
// goes through the LLM, which selects and condenses the skills; any LLM
// failure falls back to the template over the same input, so Synthesize
// never fails for a non-empty input.
//
// # Thread Safety
//
// Safe for concurrent use.
type Synthesizer struct {
	llm    Completer
	config SynthesizerConfig
}

// NewSynthesizer creates a synthesizer. A nil completer forces the template path.
func NewSynthesizer(completer Completer, config SynthesizerConfig) *Synthesizer {
	if config.TemplateTopN <= 0 || config.LLMMaxSkills <= 0 {
		slog.Warn("Invalid synthesizer config, using defaults")
		config = DefaultSynthesizerConfig()
	}
	return &Synthesizer{llm: completer, config: config}
}

// Synthesize produces the injection for one turn.
//
// # Inputs
//
//   - skills: Deduplicated candidates.
//   - userIntent: Planner's intent summary.
//   - conversationContext: Recent context text.
//   - useLLM: Forces the LLM path even for small confident sets.
//
// # Outputs
//
//   - InjectionResult: SynthesisSkipped with empty content when skills is
//     empty; otherwise template or llm.
func (s *Synthesizer) Synthesize(ctx context.Context, skills []RetrievedSkill, userIntent, conversationContext string, useLLM bool) InjectionResult {
	ctx, span := tracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()

	if len(skills) == 0 {
		return InjectionResult{SkillIDs: []string{}, SynthesisMethod: SynthesisSkipped}
	}

	var result InjectionResult
	if s.templateEligible(skills, useLLM) || s.llm == nil {
		result = s.template(skills)
	} else {
		var err error
		result, err = s.synthesizeWithLLM(ctx, skills, userIntent, conversationContext)
		if err != nil {
			failSpan(span, err)
			slog.Warn("LLM synthesis failed, using template", "error", err)
			result = s.template(skills)
		}
	}

	span.SetAttributes(
		attribute.String("synthesis.method", string(result.SynthesisMethod)),
		attribute.Int("synthesis.tokens", result.TokenCount),
	)
	return result
}

func (s *Synthesizer) templateEligible(skills []RetrievedSkill, useLLM bool) bool {
	if useLLM || len(skills) > s.config.TemplateMaxSkills {
		return false
	}
	for _, sk := range skills {
		if sk.RelevanceScore <= s.config.TemplateMinRelevance {
			return false
		}
	}
	return true
}

// template renders the top skills verbatim inside <active_skills>.
func (s *Synthesizer) template(skills []RetrievedSkill) InjectionResult {
	top := topByRelevance(skills, s.config.TemplateTopN)

	var sb strings.Builder
	ids := make([]string, 0, len(top))
	for _, sk := range top {
		fmt.Fprintf(&sb, "### %s\n%s\n\n", sk.Name, sk.Content)
		ids = append(ids, sk.ID)
	}

	content := wrapSkills(sb.String())
	return InjectionResult{
		Content:         content,
		SkillIDs:        ids,
		TokenCount:      EstimateTokens(content),
		SynthesisMethod: SynthesisTemplate,
	}
}

type synthesisResponse struct {
	SelectedSkillIDs   []string `json:"selected_skill_ids"`
	SynthesizedContext string   `json:"synthesized_context"`
}

func (s *Synthesizer) synthesizeWithLLM(ctx context.Context, skills []RetrievedSkill, userIntent, conversationContext string) (InjectionResult, error) {
	shown := topByRelevance(skills, s.config.LLMMaxSkills)

	var sb strings.Builder
	fmt.Fprintf(&sb, "User intent: %s\n\n", userIntent)
	if conversationContext != "" {
		fmt.Fprintf(&sb, "Recent conversation:\n%s\n\n", truncateString(conversationContext, synthesisContextChars))
	}
	sb.WriteString("Available skills:\n")
	known := make(map[string]struct{}, len(shown))
	for _, sk := range shown {
		known[sk.ID] = struct{}{}
		fmt.Fprintf(&sb, "\n[id: %s] (relevance %.2f)\n%s\n", sk.ID, sk.RelevanceScore, sk.Content)
	}

	raw, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesizerSystemPrompt,
		UserPrompt:   sb.String(),
		MaxTokens:    s.config.MaxTokens,
		Temperature:  s.config.Temperature,
	})
	if err != nil {
		return InjectionResult{}, err
	}

	obj, err := extractJSONObject(raw)
	if err != nil {
		return InjectionResult{}, err
	}
	var resp synthesisResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return InjectionResult{}, fmt.Errorf("failed to parse synthesis JSON: %w", err)
	}

	text := limitWords(resp.SynthesizedContext, s.config.MaxWords)
	if text == "" {
		return InjectionResult{}, fmt.Errorf("synthesis returned empty context")
	}
	content := wrapSkills(text + "\n")

	ids := make([]string, 0, len(resp.SelectedSkillIDs))
	for _, id := range resp.SelectedSkillIDs {
		if _, ok := known[id]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for _, sk := range shown {
			ids = append(ids, sk.ID)
		}
	}

	return InjectionResult{
		Content:         content,
		SkillIDs:        ids,
		TokenCount:      EstimateTokens(content),
		SynthesisMethod: SynthesisLLM,
	}, nil
}

func wrapSkills(body string) string {
	return "<active_skills>\n" + body + "</active_skills>"
}

// topByRelevance returns up to n skills, most relevant first, stable on ties.
func topByRelevance(skills []RetrievedSkill, n int) []RetrievedSkill {
	ordered := make([]RetrievedSkill, len(skills))
	copy(ordered, skills)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RelevanceScore > ordered[j].RelevanceScore
	})
	if len(ordered) > n {
		ordered = ordered[:n]
	}
	return ordered
}
