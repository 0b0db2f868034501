// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package skillstore provides the persistent skill and injection stores used
// by the subconscious pipeline: a Weaviate-backed store for deployments and
// an embedded Badger store for local use and tests.
package skillstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

var tracer = otel.Tracer("aleutian.subconscious.skillstore")

// WeaviateStore implements the skill and injection stores on Weaviate.
//
// # Description
//
// Skills live in the Skill class with caller-supplied vectors (Vectorizer
// "none"). Tag search uses a ContainsAny filter on the tags property; vector
// search uses nearVector with cosine distance, reported back as
// similarity = 1 - distance. Updates are read-modify-write followed by a
// merge update, so concurrent writers to the same skill are last-write-wins.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client is goroutine-safe.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore wraps an existing client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// Client exposes the underlying client for schema bootstrap.
func (s *WeaviateStore) Client() *weaviate.Client { return s.client }

func skillFields(withVector bool) []graphql.Field {
	fields := make([]graphql.Field, 0, len(datatypes.SkillFields)+1)
	for _, name := range datatypes.SkillFields {
		fields = append(fields, graphql.Field{Name: name})
	}
	additional := []graphql.Field{{Name: "id"}, {Name: "distance"}}
	if withVector {
		additional = append(additional, graphql.Field{Name: "vector"})
	}
	return append(fields, graphql.Field{Name: "_additional", Fields: additional})
}

func activeFilter() *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"is_active"}).
		WithOperator(filters.Equal).
		WithValueBoolean(true)
}

func confidenceDesc() graphql.Sort {
	return graphql.Sort{Path: []string{"confidence_score"}, Order: graphql.Desc}
}

func (s *WeaviateStore) querySkills(ctx context.Context, where *filters.WhereBuilder, limit int, withVector bool, sort bool) ([]*datatypes.Skill, error) {
	q := s.client.GraphQL().Get().
		WithClassName(datatypes.SkillClass).
		WithFields(skillFields(withVector)...).
		WithWhere(where).
		WithLimit(limit)
	if sort {
		q = q.WithSort(confidenceDesc())
	}

	result, err := q.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query skills: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SkillQueryResponse](result)
	if err != nil {
		return nil, err
	}

	out := make([]*datatypes.Skill, 0, len(parsed.Get.Skill))
	for i := range parsed.Get.Skill {
		out = append(out, parsed.Get.Skill[i].ToSkill())
	}
	return out, nil
}

// =============================================================================
// Skill reads
// =============================================================================

func (s *WeaviateStore) GetSkill(ctx context.Context, id string) (*datatypes.Skill, error) {
	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(datatypes.SkillClass).
		WithID(id).
		WithVector().
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, datatypes.ErrSkillNotFound
		}
		return nil, fmt.Errorf("get skill %s: %w", id, err)
	}
	if len(objs) == 0 || objs[0] == nil {
		return nil, datatypes.ErrSkillNotFound
	}

	rec, err := datatypes.DecodeProperties[datatypes.SkillRecord](objs[0].Properties)
	if err != nil {
		return nil, err
	}
	rec.Additional.ID = objs[0].ID.String()
	rec.Additional.Vector = objs[0].Vector
	return rec.ToSkill(), nil
}

func (s *WeaviateStore) ListAlwaysSkills(ctx context.Context, limit int) ([]*datatypes.Skill, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.ListAlwaysSkills")
	defer span.End()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			activeFilter(),
			filters.Where().
				WithPath([]string{"importance_level"}).
				WithOperator(filters.Equal).
				WithValueInt(datatypes.ImportanceAlways),
		})

	skills, err := s.querySkills(ctx, where, limit, false, true)
	recordSpan(span, len(skills), err)
	return skills, err
}

func (s *WeaviateStore) SearchByTags(ctx context.Context, tags []string, limit int) ([]*datatypes.Skill, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.SearchByTags",
		trace.WithAttributes(attribute.Int("tags", len(tags))))
	defer span.End()

	normalized := datatypes.NormalizeTags(tags)
	if len(normalized) == 0 {
		return []*datatypes.Skill{}, nil
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			activeFilter(),
			filters.Where().
				WithPath([]string{"tags"}).
				WithOperator(filters.ContainsAny).
				WithValueText(normalized...),
		})

	skills, err := s.querySkills(ctx, where, limit, false, true)
	recordSpan(span, len(skills), err)
	return skills, err
}

func (s *WeaviateStore) SearchByVector(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]datatypes.SkillMatch, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.SearchByVector",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithDistance(float32(1 - minSimilarity))

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.SkillClass).
		WithFields(skillFields(true)...).
		WithWhere(activeFilter()).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		recordSpan(span, 0, err)
		return nil, fmt.Errorf("vector search: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SkillQueryResponse](result)
	if err != nil {
		recordSpan(span, 0, err)
		return nil, err
	}

	matches := make([]datatypes.SkillMatch, 0, len(parsed.Get.Skill))
	for i := range parsed.Get.Skill {
		rec := &parsed.Get.Skill[i]
		sim := 1 - rec.Additional.Distance
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, datatypes.SkillMatch{Skill: rec.ToSkill(), Similarity: sim})
	}
	recordSpan(span, len(matches), nil)
	return matches, nil
}

func (s *WeaviateStore) ListActiveSkills(ctx context.Context, limit int, withEmbeddings bool) ([]*datatypes.Skill, error) {
	return s.querySkills(ctx, activeFilter(), limit, withEmbeddings, false)
}

// =============================================================================
// Skill writes
// =============================================================================

func (s *WeaviateStore) CreateSkill(ctx context.Context, skill *datatypes.Skill) (*datatypes.Skill, error) {
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

	creator := s.client.Data().Creator().
		WithClassName(datatypes.SkillClass).
		WithID(out.ID).
		WithProperties(datatypes.SkillProperties(&out))
	if len(out.Embedding) > 0 {
		creator = creator.WithVector(out.Embedding)
	}
	if _, err := creator.Do(ctx); err != nil {
		return nil, fmt.Errorf("create skill: %w", err)
	}
	return &out, nil
}

func (s *WeaviateStore) UpdateSkill(ctx context.Context, id string, patch datatypes.SkillPatch) (*datatypes.Skill, error) {
	skill, err := s.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(skill); err != nil {
		return nil, err
	}
	if err := skill.Validate(); err != nil {
		return nil, err
	}

	err = s.client.Data().Updater().
		WithClassName(datatypes.SkillClass).
		WithID(id).
		WithProperties(datatypes.SkillProperties(skill)).
		WithMerge().
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("update skill %s: %w", id, err)
	}
	return skill, nil
}

func (s *WeaviateStore) AppendEvolution(ctx context.Context, entry datatypes.EvolutionLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	_, err := s.client.Data().Creator().
		WithClassName(datatypes.SkillEvolutionClass).
		WithProperties(datatypes.EvolutionProperties(&entry)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("append evolution: %w", err)
	}
	return nil
}

// =============================================================================
// Injections
// =============================================================================

func (s *WeaviateStore) CreateInjection(ctx context.Context, inj *datatypes.SkillInjection) (string, error) {
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

	result, err := s.client.Data().Creator().
		WithClassName(datatypes.SkillInjectionClass).
		WithID(row.ID).
		WithProperties(datatypes.InjectionProperties(&row)).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("create injection: %w", err)
	}
	return result.Object.ID.String(), nil
}

func (s *WeaviateStore) GetInjection(ctx context.Context, id string) (*datatypes.SkillInjection, error) {
	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(datatypes.SkillInjectionClass).
		WithID(id).
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, datatypes.ErrInjectionNotFound
		}
		return nil, fmt.Errorf("get injection %s: %w", id, err)
	}
	if len(objs) == 0 || objs[0] == nil {
		return nil, datatypes.ErrInjectionNotFound
	}
	rec, err := datatypes.DecodeProperties[datatypes.InjectionRecord](objs[0].Properties)
	if err != nil {
		return nil, err
	}
	return rec.ToInjection(objs[0].ID.String()), nil
}

func (s *WeaviateStore) UpdateInjectionOutcome(ctx context.Context, id string, update datatypes.OutcomeUpdate) (*datatypes.SkillInjection, error) {
	inj, err := s.GetInjection(ctx, id)
	if err != nil {
		return nil, err
	}

	recorded := update.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	inj.Outcome = update.Outcome
	inj.OutcomeContext = update.Context
	inj.UserFeedback = update.Feedback
	inj.OutcomeRecordedAt = &recorded

	err = s.client.Data().Updater().
		WithClassName(datatypes.SkillInjectionClass).
		WithID(id).
		WithProperties(map[string]interface{}{
			"outcome":             string(inj.Outcome),
			"outcome_context":     inj.OutcomeContext,
			"user_feedback":       inj.UserFeedback,
			"outcome_recorded_at": recorded.UnixMilli(),
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("update injection %s: %w", id, err)
	}
	return inj, nil
}

// =============================================================================
// Helpers
// =============================================================================

func isNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}

func recordSpan(span trace.Span, n int, err error) {
	span.SetAttributes(attribute.Int("results", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("skill store query failed", "error", err)
	}
}
