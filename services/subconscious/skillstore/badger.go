// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package skillstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/similarity"
)

const (
	skillPrefix     = "skill/"
	injectionPrefix = "injection/"
	evolutionPrefix = "evolution/"
)

// BadgerStore is an embedded skill and injection store.
//
// # Description
//
// BadgerStore keeps every record as JSON under a typed key prefix. Tag and
// vector search scan all skills, which is fine for the few thousand skills a
// single agent accumulates. Every write is a single Badger transaction, so a
// row update is atomic; concurrent updates to the same skill are
// last-write-wins on conflict retry.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadgerStore opens (or creates) the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, s.stopGC, s.gcDone)
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

// =============================================================================
// Skills
// =============================================================================

func (s *BadgerStore) GetSkill(ctx context.Context, id string) (*datatypes.Skill, error) {
	var skill *datatypes.Skill
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		skill, err = readSkill(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return skill, nil
}

func (s *BadgerStore) CreateSkill(ctx context.Context, skill *datatypes.Skill) (*datatypes.Skill, error) {
	out := *skill
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	out.Normalize()
	if err := out.Validate(); err != nil {
		return nil, err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, skillPrefix+out.ID, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("create skill: %w", err)
	}
	return &out, nil
}

func (s *BadgerStore) UpdateSkill(ctx context.Context, id string, patch datatypes.SkillPatch) (*datatypes.Skill, error) {
	var updated *datatypes.Skill
	err := s.db.Update(func(txn *badger.Txn) error {
		skill, err := readSkill(txn, id)
		if err != nil {
			return err
		}
		if err := patch.Apply(skill); err != nil {
			return err
		}
		if err := skill.Validate(); err != nil {
			return err
		}
		updated = skill
		return putJSON(txn, skillPrefix+id, skill)
	})
	if err != nil {
		return nil, fmt.Errorf("update skill %s: %w", id, err)
	}
	return updated, nil
}

func (s *BadgerStore) ListAlwaysSkills(ctx context.Context, limit int) ([]*datatypes.Skill, error) {
	skills, err := s.scanActive(func(sk *datatypes.Skill) bool {
		return sk.ImportanceLevel == datatypes.ImportanceAlways
	})
	if err != nil {
		return nil, err
	}
	return byConfidence(skills, limit), nil
}

func (s *BadgerStore) SearchByTags(ctx context.Context, tags []string, limit int) ([]*datatypes.Skill, error) {
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range datatypes.NormalizeTags(tags) {
		wanted[t] = struct{}{}
	}
	if len(wanted) == 0 {
		return []*datatypes.Skill{}, nil
	}

	skills, err := s.scanActive(func(sk *datatypes.Skill) bool {
		for _, t := range sk.Tags {
			if _, ok := wanted[t]; ok {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return byConfidence(skills, limit), nil
}

func (s *BadgerStore) SearchByVector(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]datatypes.SkillMatch, error) {
	skills, err := s.scanActive(func(sk *datatypes.Skill) bool { return len(sk.Embedding) > 0 })
	if err != nil {
		return nil, err
	}

	matches := make([]datatypes.SkillMatch, 0, len(skills))
	for _, sk := range skills {
		sim := similarity.Cosine(vector, sk.Embedding)
		if sim >= minSimilarity {
			matches = append(matches, datatypes.SkillMatch{Skill: sk, Similarity: sim})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *BadgerStore) ListActiveSkills(ctx context.Context, limit int, withEmbeddings bool) ([]*datatypes.Skill, error) {
	skills, err := s.scanActive(func(*datatypes.Skill) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(skills, func(i, j int) bool { return skills[i].CreatedAt.Before(skills[j].CreatedAt) })
	if limit > 0 && len(skills) > limit {
		skills = skills[:limit]
	}
	if !withEmbeddings {
		for _, sk := range skills {
			sk.Embedding = nil
		}
	}
	return skills, nil
}

func (s *BadgerStore) AppendEvolution(ctx context.Context, entry datatypes.EvolutionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s/%020d/%s", evolutionPrefix, entry.SkillID, entry.CreatedAt.UnixNano(), entry.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, key, &entry)
	})
}

// EvolutionHistory returns a skill's evolution entries, oldest first.
func (s *BadgerStore) EvolutionHistory(ctx context.Context, skillID string) ([]datatypes.EvolutionLogEntry, error) {
	var out []datatypes.EvolutionLogEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, evolutionPrefix+skillID+"/", func(val []byte) error {
			var e datatypes.EvolutionLogEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// =============================================================================
// Injections
// =============================================================================

func (s *BadgerStore) CreateInjection(ctx context.Context, inj *datatypes.SkillInjection) (string, error) {
	row := *inj
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.InjectedAt.IsZero() {
		row.InjectedAt = time.Now().UTC()
	}
	if err := row.Validate(); err != nil {
		return "", err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, injectionPrefix+row.ID, &row)
	})
	if err != nil {
		return "", fmt.Errorf("create injection: %w", err)
	}
	return row.ID, nil
}

func (s *BadgerStore) GetInjection(ctx context.Context, id string) (*datatypes.SkillInjection, error) {
	var inj datatypes.SkillInjection
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, injectionPrefix+id, &inj, datatypes.ErrInjectionNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &inj, nil
}

func (s *BadgerStore) UpdateInjectionOutcome(ctx context.Context, id string, update datatypes.OutcomeUpdate) (*datatypes.SkillInjection, error) {
	var inj datatypes.SkillInjection
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, injectionPrefix+id, &inj, datatypes.ErrInjectionNotFound); err != nil {
			return err
		}
		recorded := update.RecordedAt
		if recorded.IsZero() {
			recorded = time.Now().UTC()
		}
		inj.Outcome = update.Outcome
		inj.OutcomeContext = update.Context
		inj.UserFeedback = update.Feedback
		inj.OutcomeRecordedAt = &recorded
		return putJSON(txn, injectionPrefix+id, &inj)
	})
	if err != nil {
		return nil, err
	}
	return &inj, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *BadgerStore) scanActive(keep func(*datatypes.Skill) bool) ([]*datatypes.Skill, error) {
	var out []*datatypes.Skill
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, skillPrefix, func(val []byte) error {
			var sk datatypes.Skill
			if err := json.Unmarshal(val, &sk); err != nil {
				return err
			}
			if sk.IsActive && keep(&sk) {
				out = append(out, &sk)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan skills: %w", err)
	}
	return out, nil
}

func readSkill(txn *badger.Txn, id string) (*datatypes.Skill, error) {
	var sk datatypes.Skill
	if err := getJSON(txn, skillPrefix+id, &sk, datatypes.ErrSkillNotFound); err != nil {
		return nil, err
	}
	return &sk, nil
}

func getJSON(txn *badger.Txn, key string, dst interface{}, notFound error) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func putJSON(txn *badger.Txn, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), raw)
}

func scanPrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// byConfidence sorts by confidence descending and truncates to limit.
func byConfidence(skills []*datatypes.Skill, limit int) []*datatypes.Skill {
	sort.SliceStable(skills, func(i, j int) bool {
		return skills[i].ConfidenceScore > skills[j].ConfidenceScore
	})
	if limit > 0 && len(skills) > limit {
		skills = skills[:limit]
	}
	if skills == nil {
		return []*datatypes.Skill{}
	}
	return skills
}
