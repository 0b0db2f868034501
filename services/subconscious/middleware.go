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
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const eventContentChars = 500

// confirmationPhrases are replies that never warrant retrieval. Rejections
// such as "no" are not listed and reach the planner.
var confirmationPhrases = map[string]struct{}{
	"ok": {}, "okay": {}, "k": {}, "kk": {}, "yes": {}, "y": {}, "yeah": {},
	"yea": {}, "yep": {}, "yup": {}, "sure": {}, "go": {}, "go ahead": {},
	"proceed": {}, "continue": {}, "do it": {}, "do that": {},
	"let's do it": {}, "lets do it": {}, "let's go": {}, "lets go": {},
	"sounds good": {}, "looks good": {}, "looks great": {}, "that works": {},
	"perfect": {}, "great": {}, "good": {}, "nice": {}, "cool": {},
	"alright": {}, "right": {}, "fine": {}, "make it so": {}, "deal": {},
	"approved": {}, "confirmed": {}, "affirmative": {}, "agreed": {},
	"lgtm": {}, "thanks": {}, "thank you": {},
}

const maxConfirmationLength = 50

// IsConfirmation reports whether text is a bare acknowledgement.
//
// The text is trimmed, lower-cased and stripped of trailing "!", "." and
// ","; anything longer than 50 characters is never a confirmation.
func IsConfirmation(text string) bool {
	normalized := strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), "!.,")
	if len(normalized) > maxConfirmationLength {
		return false
	}
	_, ok := confirmationPhrases[normalized]
	return ok
}

// Request is everything the middleware needs for one turn. Identity travels
// here explicitly rather than through ambient context.
type Request struct {
	Messages    []Message
	AccessToken string
	ThreadID    string
	UserID      string
	CurrentTurn int
}

// Middleware runs the subconscious pipeline once per conversational turn.
//
// # Description
//
// Process walks idle -> planning -> retrieving -> synthesizing -> done:
//
//  1. Rate gate: skip unless CurrentTurn - LastInjectionTurn reaches the
//     configured minimum.
//  2. Extraction gate: skip when there is no user message.
//  3. Confirmation short-circuit: skip bare acknowledgements.
//  4. Plan, retrieve, deduplicate, synthesize.
//  5. Update state, record the injection, emit instinct_injection.
//
// Nothing before planning emits events or touches state. Every exit after
// planning starts emits a final "done" event.
//
// # Limitations
//
//   - Process is fail-open: any failure, including a panic inside a
//     component or the event sink, results in no injection.
//
// # Thread Safety
//
// Safe for concurrent use across threads as long as each call gets its own
// *State. Use StateRegistry to guarantee that.
type Middleware struct {
	planner     *Planner
	retriever   *Retriever
	dedup       *Deduplicator
	synthesizer *Synthesizer
	tracker     *OutcomeTracker
	queue       TaskSubmitter
	config      MiddlewareConfig
}

// MiddlewareOption configures optional middleware behaviour.
type MiddlewareOption func(*Middleware)

// WithTaskQueue records injections in the background instead of inline.
func WithTaskQueue(q TaskSubmitter) MiddlewareOption {
	return func(m *Middleware) { m.queue = q }
}

// WithOutcomeTracker enables injection recording.
func WithOutcomeTracker(t *OutcomeTracker) MiddlewareOption {
	return func(m *Middleware) { m.tracker = t }
}

// WithDeduplicator enables embedding dedup when the config asks for it.
func WithDeduplicator(d *Deduplicator) MiddlewareOption {
	return func(m *Middleware) { m.dedup = d }
}

// NewMiddleware wires the pipeline components.
func NewMiddleware(planner *Planner, retriever *Retriever, synthesizer *Synthesizer, config MiddlewareConfig, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		planner:     planner,
		retriever:   retriever,
		synthesizer: synthesizer,
		config:      validateMiddlewareConfig(config),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process runs one turn and returns the text to inject, if any.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - req: Conversation and identity for this turn.
//   - state: The thread's state; advanced once synthesis has run.
//   - sink: Receives progress events. May be nil.
//
// # Outputs
//
//   - string: Injected text.
//   - bool: false when nothing was injected. Process never returns an error.
func (m *Middleware) Process(ctx context.Context, req Request, state *State, sink EventSink) (content string, injected bool) {
	start := time.Now()

	if state == nil {
		state = &State{}
	}

	if req.CurrentTurn-state.LastInjectionTurn < m.config.MinTurnsBetweenInjection {
		slog.Debug("Subconscious rate limited", "thread_id", req.ThreadID, "turn", req.CurrentTurn, "last", state.LastInjectionTurn)
		recordTurn(ctx, resultRateLimited, time.Since(start))
		return "", false
	}

	userText, ok := lastUserText(req.Messages)
	if !ok {
		recordTurn(ctx, resultNoUserMsg, time.Since(start))
		return "", false
	}

	if IsConfirmation(userText) {
		slog.Debug("Skipping subconscious for confirmation", "thread_id", req.ThreadID)
		recordTurn(ctx, resultConfirmation, time.Since(start))
		return "", false
	}

	ctx, span := tracer.Start(ctx, "Middleware.Process",
		trace.WithAttributes(
			attribute.String("thread_id", req.ThreadID),
			attribute.Int("turn", req.CurrentTurn),
		))
	defer span.End()

	emit := m.guardedSink(req.ThreadID, sink)
	result := resultFailed
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("subconscious panic: %v", r)
			failSpan(span, err)
			slog.Error("Subconscious pipeline panicked", "error", err, "thread_id", req.ThreadID)
			content, injected = "", false
			result = resultFailed
		}
		emit(Event{Type: EventThinking, Stage: StageDone})
		recordTurn(ctx, result, time.Since(start))
		span.SetAttributes(attribute.String("result", result))
	}()

	// Planning
	emit(Event{Type: EventThinking, Stage: StagePlanning})
	stageStart := time.Now()
	recent := plannerMessages(req.Messages, m.config.PlannerMessages, m.config.MaxMessageChars)
	convCtx := BuildConversationContext(req.Messages, m.config.PlannerMessages, m.config.MaxContextChars)
	plan := m.planner.Plan(ctx, recent, convCtx)
	recordStage(ctx, StagePlanning, stageStart)
	if plan.ShouldSkip() {
		slog.Debug("Planner skipped retrieval", "reason", plan.SkipReason, "thread_id", req.ThreadID)
		result = resultPlanSkipped
		return "", false
	}

	// Retrieval
	emit(Event{Type: EventThinking, Stage: StageRetrieving})
	stageStart = time.Now()
	skills := m.retriever.RetrieveAll(ctx, plan.KeywordQueries, plan.SemanticQueries)
	skills = DeduplicateByID(skills)
	if m.config.ContentDedup {
		skills = DeduplicateByContent(skills)
	}
	if m.config.EmbeddingDedup && m.dedup != nil {
		skills = m.dedup.DeduplicateByEmbedding(ctx, skills, m.config.EmbeddingDedupThreshold)
	}
	recordStage(ctx, StageRetrieving, stageStart)
	if len(skills) == 0 {
		result = resultNoSkills
		return "", false
	}

	// Synthesis
	emit(Event{Type: EventThinking, Stage: StageSynthesizing})
	stageStart = time.Now()
	injection := m.synthesizer.Synthesize(ctx, skills, plan.UserIntent, convCtx, len(skills) > 2)
	recordStage(ctx, StageSynthesizing, stageStart)
	recordSynthesis(ctx, injection)

	content, injected = m.commitInjection(ctx, req, state, plan.UserIntent, injection, skills, emit)
	if injected {
		result = resultInjected
	} else {
		result = resultEmpty
	}
	return content, injected
}

// commitInjection advances the thread state, records the injection and emits
// the injection event. Empty content still counts against the rate gate but
// is not returned.
func (m *Middleware) commitInjection(ctx context.Context, req Request, state *State, intent string, injection InjectionResult, skills []RetrievedSkill, emit func(Event)) (string, bool) {
	state.recordInjection(req.CurrentTurn, intent, m.config.MaxInjectedTopics)
	injectionID := m.recordInjection(ctx, req, intent, injection)

	emit(Event{
		Type:      EventInjection,
		Injection: injectionEventData(injectionID, intent, injection, skills),
	})

	if injection.Content == "" {
		slog.Info("Subconscious synthesis produced no content", "thread_id", req.ThreadID)
		return "", false
	}
	slog.Info("Injected subconscious context",
		"thread_id", req.ThreadID,
		"skills", len(injection.SkillIDs),
		"method", injection.SynthesisMethod,
		"tokens", injection.TokenCount,
	)
	return injection.Content, true
}

// recordInjection persists the injection row and returns its id, or "".
func (m *Middleware) recordInjection(ctx context.Context, req Request, intent string, injection InjectionResult) string {
	if m.tracker == nil || req.ThreadID == "" {
		return ""
	}

	rec := InjectionRecord{
		ID:              uuid.NewString(),
		SkillIDs:        injection.SkillIDs,
		ThreadID:        req.ThreadID,
		UserIntent:      intent,
		SynthesisMethod: injection.SynthesisMethod,
	}

	if m.queue != nil {
		err := m.queue.Submit("record_injection", func(taskCtx context.Context) error {
			if m.tracker.RecordInjection(taskCtx, rec) == "" {
				return fmt.Errorf("injection %s not recorded", rec.ID)
			}
			return nil
		})
		if err == nil {
			return rec.ID
		}
		slog.Warn("Injection queue rejected task, recording inline", "error", err)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.RecordTimeout)
	defer cancel()
	return m.tracker.RecordInjection(recordCtx, rec)
}

// guardedSink wraps sink so a panicking or nil sink cannot break a turn.
func (m *Middleware) guardedSink(threadID string, sink EventSink) func(Event) {
	return func(ev Event) {
		if sink == nil {
			return
		}
		ev.ThreadID = threadID
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("Event sink panicked", "panic", r, "event", ev.Type)
			}
		}()
		sink(ev)
	}
}

func injectionEventData(id, intent string, injection InjectionResult, skills []RetrievedSkill) *InjectionEventData {
	byID := make(map[string]RetrievedSkill, len(skills))
	for _, s := range skills {
		byID[s.ID] = s
	}
	summaries := make([]SkillSummary, 0, len(injection.SkillIDs))
	for _, sid := range injection.SkillIDs {
		if s, ok := byID[sid]; ok {
			summaries = append(summaries, SkillSummary{ID: s.ID, Name: s.Name, Tags: s.Tags, Source: s.Source})
		}
	}
	return &InjectionEventData{
		InjectionID:     id,
		SkillIDs:        injection.SkillIDs,
		Skills:          summaries,
		UserIntent:      intent,
		Content:         truncateString(injection.Content, eventContentChars),
		TokenCount:      injection.TokenCount,
		SynthesisMethod: injection.SynthesisMethod,
		DriftScore:      injection.DriftScore,
	}
}

// lastUserText returns the text of the most recent user message.
func lastUserText(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		text := strings.TrimSpace(messages[i].Text())
		if text == "" {
			return "", false
		}
		return text, true
	}
	return "", false
}

// plannerMessages returns the last n messages with text truncated to maxChars.
func plannerMessages(messages []Message, n, maxChars int) []Message {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, Message{Role: msg.Role, Content: truncateString(msg.Text(), maxChars)})
	}
	return out
}

// BuildConversationContext reconstructs recent context as "role: text" lines.
//
// The last n messages are walked newest first and each line is prepended
// until maxChars is used up; the line that overflows is cut to the remaining
// budget, so a single long message still yields context.
func BuildConversationContext(messages []Message, n, maxChars int) string {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	var lines []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		text := messages[i].Text()
		if text == "" {
			continue
		}
		prefix := messages[i].Role + ": "
		sep := 0
		if len(lines) > 0 {
			sep = 1 // newline separator
		}
		line := prefix + text
		if total+sep+len(line) > maxChars {
			avail := maxChars - total - sep - len(prefix)
			if avail > 0 {
				lines = append([]string{prefix + truncateBytes(text, avail)}, lines...)
			}
			break
		}
		lines = append([]string{line}, lines...)
		total += sep + len(line)
	}
	return strings.Join(lines, "\n")
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
