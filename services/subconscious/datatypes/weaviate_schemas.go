// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names.
const (
	SkillClass          = "Skill"
	SkillInjectionClass = "SkillInjection"
	SkillEvolutionClass = "SkillEvolutionLog"
)

func filterableText(name, description string, indexFilterable *bool) *models.Property {
	return &models.Property{
		Name:            name,
		DataType:        []string{"text"},
		Description:     description,
		IndexFilterable: indexFilterable,
		Tokenization:    "field",
	}
}

func GetSkillSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SkillClass,
		Description: "A learned unit of domain knowledge injected into agent context.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "name",
				DataType:     []string{"text"},
				Description:  "Short title of the skill.",
				Tokenization: "word",
			},
			{
				Name:         "description",
				DataType:     []string{"text"},
				Description:  "What the skill is about.",
				Tokenization: "word",
			},
			{
				Name:         "trigger_condition",
				DataType:     []string{"text"},
				Description:  "When the skill applies.",
				Tokenization: "word",
			},
			{
				Name:         "action",
				DataType:     []string{"text"},
				Description:  "What to do when the skill applies.",
				Tokenization: "word",
			},
			{
				Name:         "reasoning",
				DataType:     []string{"text"},
				Description:  "Why the action works.",
				Tokenization: "word",
			},
			{
				Name:            "tags",
				DataType:        []string{"text[]"},
				Description:     "Lower-cased keywords for tag retrieval.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "importance_level",
				DataType:        []string{"int"},
				Description:     "1..3, where 3 is always retrieved.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "confidence_score",
				DataType:        []string{"number"},
				Description:     "Outcome-driven confidence in [0.1, 1.0].",
				IndexFilterable: indexFilterable,
			},
			{Name: "times_applied", DataType: []string{"int"}},
			{Name: "times_succeeded", DataType: []string{"int"}},
			{Name: "times_failed", DataType: []string{"int"}},
			{
				Name:            "is_active",
				DataType:        []string{"boolean"},
				Description:     "Inactive skills are never retrieved.",
				IndexFilterable: indexFilterable,
			},
			filterableText("merged_into", "Skill this one was consolidated into.", indexFilterable),
			{
				Name:            "merged_from",
				DataType:        []string{"text[]"},
				Description:     "Source skills of a merge.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{Name: "evolution_count", DataType: []string{"int"}},
			{Name: "last_evolved_at", DataType: []string{"int"}, Description: "Unix milliseconds."},
			filterableText("last_evolution_type", "Kind of the most recent evolution.", indexFilterable),
			{Name: "created_at", DataType: []string{"int"}, Description: "Unix milliseconds.", IndexFilterable: indexFilterable},
			{Name: "updated_at", DataType: []string{"int"}, Description: "Unix milliseconds."},
		},
	}
}

func GetSkillInjectionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SkillInjectionClass,
		Description: "One injection of skills into a conversation turn and its outcome.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "skill_ids",
				DataType:        []string{"text[]"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			filterableText("thread_id", "Conversation the injection belongs to.", indexFilterable),
			{Name: "user_intent", DataType: []string{"text"}, Tokenization: "word"},
			filterableText("synthesis_method", "template or llm.", indexFilterable),
			{Name: "injected_at", DataType: []string{"int"}, IndexFilterable: indexFilterable},
			filterableText("outcome", "success, failure, partial or unknown.", indexFilterable),
			{Name: "outcome_context", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "user_feedback", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "outcome_recorded_at", DataType: []string{"int"}},
		},
	}
}

func GetSkillEvolutionLogSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SkillEvolutionClass,
		Description: "Audit trail of structural changes to skills.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			filterableText("skill_id", "Skill that changed.", indexFilterable),
			filterableText("evolution_type", "Kind of change, e.g. merge.", indexFilterable),
			{Name: "changelog", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "learning_note", DataType: []string{"text"}, Tokenization: "word"},
			filterableText("trigger_outcome", "What caused the change.", indexFilterable),
			{Name: "trigger_context", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "created_at", DataType: []string{"int"}, IndexFilterable: indexFilterable},
		},
	}
}

// EnsureSchema creates any missing subconscious class.
//
// Existing classes are left untouched; property drift is not reconciled.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetSkillSchema,
		GetSkillInjectionSchema,
		GetSkillEvolutionLogSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}

		slog.Info("Schema not found, creating it...", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
	}
	return nil
}
