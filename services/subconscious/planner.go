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
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSubconscious/services/llm"
)

const plannerSystemPrompt = `You decide what background knowledge would help an assistant answer the latest user message.

Return only a JSON object with these fields:
{
  "user_intent": "one sentence describing what the user is trying to do",
  "keyword_queries": ["short", "lowercase", "tags"],
  "semantic_queries": ["natural language search phrases"],
  "skip_reason": ""
}

Rules:
- At most 5 keyword_queries, each a single concept such as "rsi" or "position sizing".
- At most 3 semantic_queries, each a complete phrase describing the knowledge needed.
- Set skip_reason to a short explanation only when no stored knowledge could help
  (small talk, acknowledgements, questions fully answered by the conversation itself).`

// defaultFallbackVocabulary is scanned when the planner LLM is unavailable.
var defaultFallbackVocabulary = []string{
	"momentum", "mean reversion", "breakout", "trend", "rsi", "macd",
	"bollinger", "moving average", "sma", "ema", "backtest", "optimize",
	"risk", "drawdown", "sharpe", "position sizing", "stop loss",
	"take profit", "leverage", "portfolio", "rebalance", "universe",
	"selection", "alpha", "beta", "volatility", "correlation",
}

// Planner turns recent conversation into a RetrievalPlan.
//
// # Description
//
// The planner asks the LLM for the user's intent plus keyword and semantic
// queries. Any failure (no LLM configured, call error, unparseable output)
// produces a deterministic fallback plan built by scanning the context for
// known vocabulary, so retrieval still runs.
//
// # Thread Safety
//
// Safe for concurrent use.
type Planner struct {
	llm        Completer
	config     PlannerConfig
	vocabulary []string
}

// NewPlanner creates a planner. A nil completer always yields the fallback plan.
func NewPlanner(completer Completer, config PlannerConfig) *Planner {
	if config.MaxKeywordQueries <= 0 || config.MaxSemanticQueries <= 0 {
		slog.Warn("Invalid planner config, using defaults")
		config = DefaultPlannerConfig()
	}
	return &Planner{llm: completer, config: config, vocabulary: defaultFallbackVocabulary}
}

// WithVocabulary replaces the fallback keyword vocabulary.
func (p *Planner) WithVocabulary(words []string) *Planner {
	p.vocabulary = words
	return p
}

// Plan builds the retrieval plan for one turn.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - messages: Trailing conversation, already bounded and truncated.
//   - conversationContext: Reconstructed recent context text.
//
// # Outputs
//
//   - RetrievalPlan: Never an error; falls back to vocabulary scanning.
func (p *Planner) Plan(ctx context.Context, messages []Message, conversationContext string) RetrievalPlan {
	ctx, span := tracer.Start(ctx, "Planner.Plan")
	defer span.End()

	if p.llm == nil {
		return p.fallback(conversationContext)
	}

	raw, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   buildPlannerPrompt(messages, conversationContext),
		MaxTokens:    p.config.MaxTokens,
		Temperature:  p.config.Temperature,
	})
	if err != nil {
		failSpan(span, err)
		slog.Warn("Planner LLM call failed, using fallback plan", "error", err)
		return p.fallback(conversationContext)
	}

	plan, err := parsePlan(raw)
	if err != nil {
		failSpan(span, err)
		slog.Warn("Planner returned unparseable output, using fallback plan", "error", err)
		return p.fallback(conversationContext)
	}

	plan.KeywordQueries = cleanQueries(plan.KeywordQueries, p.config.MaxKeywordQueries, true)
	plan.SemanticQueries = cleanQueries(plan.SemanticQueries, p.config.MaxSemanticQueries, false)

	span.SetAttributes(
		attribute.Int("plan.keywords", len(plan.KeywordQueries)),
		attribute.Int("plan.semantic", len(plan.SemanticQueries)),
		attribute.Bool("plan.skip", plan.ShouldSkip()),
	)
	return plan
}

func (p *Planner) fallback(conversationContext string) RetrievalPlan {
	plan := RetrievalPlan{
		UserIntent:     "Unable to determine",
		KeywordQueries: ExtractSimpleKeywords(conversationContext, p.vocabulary, p.config.MaxKeywordQueries),
	}
	if semantic := truncateString(strings.TrimSpace(conversationContext), p.config.FallbackSemanticChars); semantic != "" {
		plan.SemanticQueries = []string{semantic}
	}
	return plan
}

// ExtractSimpleKeywords returns up to limit vocabulary entries that occur in
// text, in vocabulary order.
func ExtractSimpleKeywords(text string, vocabulary []string, limit int) []string {
	lower := strings.ToLower(text)
	found := make([]string, 0, limit)
	for _, kw := range vocabulary {
		if len(found) >= limit {
			break
		}
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

func buildPlannerPrompt(messages []Message, conversationContext string) string {
	var sb strings.Builder
	sb.WriteString("Recent messages:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text())
	}
	if conversationContext != "" {
		sb.WriteString("\nConversation context:\n")
		sb.WriteString(conversationContext)
		sb.WriteString("\n")
	}
	sb.WriteString("\nReturn the JSON plan.")
	return sb.String()
}

// parsePlan extracts the JSON object between the first '{' and last '}'.
func parsePlan(raw string) (RetrievalPlan, error) {
	var plan RetrievalPlan
	obj, err := extractJSONObject(raw)
	if err != nil {
		return plan, err
	}
	if err := json.Unmarshal([]byte(obj), &plan); err != nil {
		return plan, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	plan.SkipReason = strings.TrimSpace(plan.SkipReason)
	return plan, nil
}

// extractJSONObject returns the substring from the first '{' to the last '}'.
func extractJSONObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return raw[start : end+1], nil
}

func cleanQueries(queries []string, limit int, lower bool) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if lower {
			q = strings.ToLower(q)
		}
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// truncateString truncates s to maxLen runes.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
