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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSubconscious/services/llm"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/similarity"
)

var errBackend = errors.New("backend unavailable")

// mockCompleter returns canned completions and records prompts.
type mockCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []llm.CompletionRequest
	respond   func(req llm.CompletionRequest) (string, error)
}

func (m *mockCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.respond != nil {
		return m.respond(req)
	}
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("no canned response")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockEmbedder maps exact texts to vectors and falls back to a default.
type mockEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	if m.fallback != nil {
		return m.fallback, nil
	}
	return nil, fmt.Errorf("no vector for %q", text)
}

// memStore is an in-memory SkillStore and InjectionStore with failure hooks.
type memStore struct {
	mu         sync.Mutex
	skills     map[string]*datatypes.Skill
	injections map[string]*datatypes.SkillInjection
	evolutions []datatypes.EvolutionLogEntry

	failAlways    bool
	failTags      bool
	failVector    bool
	failGet       map[string]bool
	failUpdate    map[string]bool
	failInjection bool
}

func newMemStore(skills ...*datatypes.Skill) *memStore {
	s := &memStore{
		skills:     make(map[string]*datatypes.Skill),
		injections: make(map[string]*datatypes.SkillInjection),
		failGet:    make(map[string]bool),
		failUpdate: make(map[string]bool),
	}
	for _, sk := range skills {
		s.skills[sk.ID] = sk
	}
	return s
}

func cloneSkill(s *datatypes.Skill) *datatypes.Skill {
	c := *s
	c.Tags = append([]string(nil), s.Tags...)
	c.MergedFrom = append([]string(nil), s.MergedFrom...)
	c.Embedding = append([]float32(nil), s.Embedding...)
	return &c
}

func (s *memStore) active() []*datatypes.Skill {
	out := make([]*datatypes.Skill, 0, len(s.skills))
	for _, sk := range s.skills {
		if sk.IsActive {
			out = append(out, cloneSkill(sk))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memStore) GetSkill(_ context.Context, id string) (*datatypes.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet[id] {
		return nil, errBackend
	}
	sk, ok := s.skills[id]
	if !ok {
		return nil, datatypes.ErrSkillNotFound
	}
	return cloneSkill(sk), nil
}

func (s *memStore) ListAlwaysSkills(_ context.Context, limit int) ([]*datatypes.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAlways {
		return nil, errBackend
	}
	var out []*datatypes.Skill
	for _, sk := range s.active() {
		if sk.ImportanceLevel == datatypes.ImportanceAlways && len(out) < limit {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (s *memStore) SearchByTags(_ context.Context, tags []string, limit int) ([]*datatypes.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTags {
		return nil, errBackend
	}
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}
	var out []*datatypes.Skill
	for _, sk := range s.active() {
		for _, t := range sk.Tags {
			if _, ok := want[t]; ok && len(out) < limit {
				out = append(out, sk)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) SearchByVector(_ context.Context, vector []float32, limit int, minSimilarity float64) ([]datatypes.SkillMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failVector {
		return nil, errBackend
	}
	var out []datatypes.SkillMatch
	for _, sk := range s.active() {
		if len(sk.Embedding) == 0 {
			continue
		}
		if sim := similarity.Cosine(vector, sk.Embedding); sim >= minSimilarity {
			out = append(out, datatypes.SkillMatch{Skill: sk, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListActiveSkills(_ context.Context, limit int, withEmbeddings bool) ([]*datatypes.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.active()
	if len(all) > limit {
		all = all[:limit]
	}
	if !withEmbeddings {
		for _, sk := range all {
			sk.Embedding = nil
		}
	}
	return all, nil
}

func (s *memStore) CreateSkill(_ context.Context, skill *datatypes.Skill) (*datatypes.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneSkill(skill)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s.skills[c.ID] = c
	return cloneSkill(c), nil
}

func (s *memStore) UpdateSkill(_ context.Context, id string, patch datatypes.SkillPatch) (*datatypes.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate[id] {
		return nil, errBackend
	}
	sk, ok := s.skills[id]
	if !ok {
		return nil, datatypes.ErrSkillNotFound
	}
	c := cloneSkill(sk)
	if err := patch.Apply(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s.skills[id] = c
	return cloneSkill(c), nil
}

func (s *memStore) AppendEvolution(_ context.Context, entry datatypes.EvolutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evolutions = append(s.evolutions, entry)
	return nil
}

func (s *memStore) CreateInjection(_ context.Context, inj *datatypes.SkillInjection) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInjection {
		return "", errBackend
	}
	if err := inj.Validate(); err != nil {
		return "", err
	}
	c := *inj
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.injections[c.ID] = &c
	return c.ID, nil
}

func (s *memStore) GetInjection(_ context.Context, id string) (*datatypes.SkillInjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inj, ok := s.injections[id]
	if !ok {
		return nil, datatypes.ErrInjectionNotFound
	}
	c := *inj
	return &c, nil
}

func (s *memStore) UpdateInjectionOutcome(_ context.Context, id string, update datatypes.OutcomeUpdate) (*datatypes.SkillInjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inj, ok := s.injections[id]
	if !ok {
		return nil, datatypes.ErrInjectionNotFound
	}
	inj.Outcome = update.Outcome
	inj.OutcomeContext = update.Context
	inj.UserFeedback = update.Feedback
	at := update.RecordedAt
	inj.OutcomeRecordedAt = &at
	c := *inj
	return &c, nil
}

func (s *memStore) skill(id string) *datatypes.Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSkill(s.skills[id])
}

func (s *memStore) injectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.injections)
}

// testSkill builds an active skill with a fixed id.
func testSkill(id, name string, importance int, tags ...string) *datatypes.Skill {
	s := datatypes.NewSkill(name, name+" description", "when "+name, "do "+name, "because "+name, tags, importance)
	s.ID = id
	return s
}

// syncQueue runs submitted tasks immediately, or rejects them.
type syncQueue struct {
	mu     sync.Mutex
	reject bool
	names  []string
}

func (q *syncQueue) Submit(name string, task func(ctx context.Context) error) error {
	q.mu.Lock()
	q.names = append(q.names, name)
	reject := q.reject
	q.mu.Unlock()
	if reject {
		return errors.New("queue full")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return task(ctx)
}

// eventRecorder collects events from an EventSink.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) sink(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, ev := range r.events {
		if ev.Type == EventThinking {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func (r *eventRecorder) injections() []*InjectionEventData {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*InjectionEventData
	for _, ev := range r.events {
		if ev.Type == EventInjection {
			out = append(out, ev.Injection)
		}
	}
	return out
}
