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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for pipeline operations.
var (
	tracer = otel.Tracer("aleutian.subconscious")
	meter  = otel.Meter("aleutian.subconscious")
)

// Metrics for pipeline operations.
var (
	turnTotal        metric.Int64Counter
	turnLatency      metric.Float64Histogram
	stageLatency     metric.Float64Histogram
	skillsRetrieved  metric.Int64Counter
	synthesisTotal   metric.Int64Counter
	injectedTokens   metric.Int64Histogram
	confidenceShifts metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		turnTotal, err = meter.Int64Counter(
			"subconscious_turns_total",
			metric.WithDescription("Turns processed by the subconscious, by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		turnLatency, err = meter.Float64Histogram(
			"subconscious_turn_duration_seconds",
			metric.WithDescription("End-to-end duration of a processed turn"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stageLatency, err = meter.Float64Histogram(
			"subconscious_stage_duration_seconds",
			metric.WithDescription("Duration of each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skillsRetrieved, err = meter.Int64Counter(
			"subconscious_skills_retrieved_total",
			metric.WithDescription("Skills returned by each retrieval channel"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		synthesisTotal, err = meter.Int64Counter(
			"subconscious_synthesis_total",
			metric.WithDescription("Synthesis results by method"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		injectedTokens, err = meter.Int64Histogram(
			"subconscious_injected_tokens",
			metric.WithDescription("Estimated tokens per injection"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		confidenceShifts, err = meter.Int64Counter(
			"subconscious_confidence_updates_total",
			metric.WithDescription("Skill confidence updates by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// Turn results recorded on subconscious_turns_total.
const (
	resultInjected     = "injected"
	resultRateLimited  = "rate_limited"
	resultNoUserMsg    = "no_user_message"
	resultConfirmation = "confirmation"
	resultPlanSkipped  = "plan_skipped"
	resultNoSkills     = "no_skills"
	resultEmpty        = "empty_synthesis"
	resultFailed       = "failed"
)

func recordTurn(ctx context.Context, result string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	turnTotal.Add(ctx, 1, attrs)
	turnLatency.Record(ctx, duration.Seconds(), attrs)
}

func recordStage(ctx context.Context, stage Stage, start time.Time) {
	if err := initMetrics(); err != nil {
		return
	}
	stageLatency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", string(stage))))
}

func recordRetrieved(ctx context.Context, source Source, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	skillsRetrieved.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", string(source))))
}

func recordSynthesis(ctx context.Context, result InjectionResult) {
	if err := initMetrics(); err != nil {
		return
	}
	synthesisTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(result.SynthesisMethod))))
	if result.TokenCount > 0 {
		injectedTokens.Record(ctx, int64(result.TokenCount))
	}
}

func recordConfidenceUpdate(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	confidenceShifts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// failSpan marks a span as failed.
func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
