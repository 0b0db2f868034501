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
	"sync"
	"time"
)

// State is the per-thread memory of the subconscious.
//
// LastInjectionTurn starts at zero, so with the default gate of 2 the first
// possible injection is on turn 2.
type State struct {
	LastInjectionTurn int      `json:"last_injection_turn"`
	InjectionCount    int      `json:"injection_count"`
	InjectedTopics    []string `json:"injected_topics"`
}

// recordInjection updates the state after a successful injection.
func (s *State) recordInjection(turn int, topic string, maxTopics int) {
	s.LastInjectionTurn = turn
	s.InjectionCount++
	if topic == "" {
		return
	}
	s.InjectedTopics = append(s.InjectedTopics, topic)
	if over := len(s.InjectedTopics) - maxTopics; over > 0 {
		s.InjectedTopics = append([]string(nil), s.InjectedTopics[over:]...)
	}
}

type threadEntry struct {
	mu       sync.Mutex
	state    State
	lastUsed time.Time
}

// StateRegistry owns one State per thread.
//
// # Description
//
// With runs fn while holding that thread's lock, so turns of one thread are
// serialized and turns of different threads proceed in parallel. States
// never leak between threads.
//
// # Thread Safety
//
// Safe for concurrent use.
type StateRegistry struct {
	mu      sync.Mutex
	threads map[string]*threadEntry
}

func NewStateRegistry() *StateRegistry {
	return &StateRegistry{threads: make(map[string]*threadEntry)}
}

func (r *StateRegistry) entry(threadID string) *threadEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.threads[threadID]
	if !ok {
		e = &threadEntry{}
		r.threads[threadID] = e
	}
	return e
}

// With runs fn with exclusive access to the thread's state.
func (r *StateRegistry) With(threadID string, fn func(*State)) {
	var e *threadEntry
	for {
		e = r.entry(threadID)
		e.mu.Lock()
		r.mu.Lock()
		current := r.threads[threadID]
		r.mu.Unlock()
		if current == e {
			break
		}
		// Evicted between lookup and lock.
		e.mu.Unlock()
	}
	defer e.mu.Unlock()
	e.lastUsed = time.Now()
	fn(&e.state)
}

// Snapshot returns a copy of the thread's state.
func (r *StateRegistry) Snapshot(threadID string) State {
	var out State
	r.With(threadID, func(s *State) {
		out = *s
		out.InjectedTopics = append([]string(nil), s.InjectedTopics...)
	})
	return out
}

// Evict drops threads idle for longer than maxIdle and returns how many.
func (r *StateRegistry) Evict(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.threads {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			delete(r.threads, id)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

// Len returns the number of tracked threads.
func (r *StateRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
