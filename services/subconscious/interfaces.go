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

	"github.com/AleutianAI/AleutianSubconscious/services/llm"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

// EmbeddingProvider generates vector embeddings for text.
//
// # Description
//
// Abstracts embedding generation so retrieval and deduplication can work
// with any backend. Implementations must return vectors from the same model
// that produced the vectors stored with skills.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type EmbeddingProvider interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces text from a system and user prompt.
//
// # Description
//
// Planner, Synthesizer and Merger all go through this interface. Retries
// belong to the concrete implementation (see llm.RetryingCompleter); callers
// treat any error as a reason to fall back.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// SkillStore persists skills and answers the three retrieval queries.
//
// # Description
//
// All list and search methods return active skills only. Search methods
// return an empty slice (not an error) when nothing matches.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Single-row writes must be
// atomic; concurrent updates to one row may be last-write-wins.
type SkillStore interface {
	// GetSkill returns datatypes.ErrSkillNotFound for unknown ids.
	GetSkill(ctx context.Context, id string) (*datatypes.Skill, error)

	// ListAlwaysSkills returns active importance-3 skills, highest
	// confidence first.
	ListAlwaysSkills(ctx context.Context, limit int) ([]*datatypes.Skill, error)

	// SearchByTags returns active skills sharing at least one tag.
	SearchByTags(ctx context.Context, tags []string, limit int) ([]*datatypes.Skill, error)

	// SearchByVector returns active skills with similarity >= minSimilarity,
	// most similar first.
	SearchByVector(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]datatypes.SkillMatch, error)

	// ListActiveSkills returns up to limit active skills, optionally with
	// their stored vectors.
	ListActiveSkills(ctx context.Context, limit int, withEmbeddings bool) ([]*datatypes.Skill, error)

	CreateSkill(ctx context.Context, skill *datatypes.Skill) (*datatypes.Skill, error)
	UpdateSkill(ctx context.Context, id string, patch datatypes.SkillPatch) (*datatypes.Skill, error)
	AppendEvolution(ctx context.Context, entry datatypes.EvolutionLogEntry) error
}

// InjectionStore persists injection rows and their outcomes.
type InjectionStore interface {
	CreateInjection(ctx context.Context, inj *datatypes.SkillInjection) (string, error)
	GetInjection(ctx context.Context, id string) (*datatypes.SkillInjection, error)
	UpdateInjectionOutcome(ctx context.Context, id string, update datatypes.OutcomeUpdate) (*datatypes.SkillInjection, error)
}

// EventSink receives progress events. A nil sink discards events.
type EventSink func(Event)

// TaskSubmitter hands work to a background queue.
//
// worker.Queue satisfies it. Submit must not block; it returns an error
// when the task cannot be accepted.
type TaskSubmitter interface {
	Submit(name string, task func(ctx context.Context) error) error
}
