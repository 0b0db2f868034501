// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package maintenance runs periodic upkeep of the skill library.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

// =============================================================================
// Merge Scheduler
// =============================================================================

// AutoMerger is the part of subconscious.SkillMerger the scheduler drives.
type AutoMerger interface {
	AutoMergeDuplicates(ctx context.Context, threshold float64, maxMerges int, dryRun bool) []subconscious.MergeReport
}

// StateEvictor drops idle per-thread state. subconscious.StateRegistry
// satisfies it.
type StateEvictor interface {
	Evict(maxIdle time.Duration) int
}

// SchedulerConfig holds configuration for the merge scheduler.
//
// # Fields
//
//   - Interval: How often to run a cycle. Default: 24 hours.
//   - Threshold: Cosine similarity above which skills are duplicates. Default: 0.92.
//   - MaxMerges: Pairs processed per cycle. Default: 10.
//   - DryRun: Report pairs without merging. Default: true.
//   - StateMaxIdle: Idle time after which thread state is evicted. Default: 24 hours.
type SchedulerConfig struct {
	Interval     time.Duration `yaml:"interval" validate:"min=0"`
	Threshold    float64       `yaml:"threshold" validate:"gt=0,lte=1"`
	MaxMerges    int           `yaml:"max_merges" validate:"min=0"`
	DryRun       bool          `yaml:"dry_run"`
	StateMaxIdle time.Duration `yaml:"state_max_idle" validate:"min=0"`
}

// DefaultSchedulerConfig returns the default maintenance schedule.
//
// Merges are dry-run by default so a fresh deployment only reports what it
// would consolidate.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     24 * time.Hour,
		Threshold:    0.92,
		MaxMerges:    10,
		DryRun:       true,
		StateMaxIdle: 24 * time.Hour,
	}
}

// CycleResult summarises one maintenance cycle.
type CycleResult struct {
	StartTime     time.Time                  `json:"start_time"`
	EndTime       time.Time                  `json:"end_time"`
	Reports       []subconscious.MergeReport `json:"reports"`
	WouldMerge    int                        `json:"would_merge"`
	Merged        int                        `json:"merged"`
	Failed        int                        `json:"failed"`
	EvictedStates int                        `json:"evicted_states"`
}

// DurationMs returns the cycle duration in milliseconds.
func (r CycleResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// MergeScheduler periodically consolidates duplicate skills.
//
// # Description
//
// Manages a background goroutine that runs AutoMergeDuplicates at the
// configured interval, and optionally evicts idle thread state in the same
// cycle. Uses the ticker + done channel pattern for graceful shutdown. The
// first cycle runs immediately on Start.
//
// # Thread Safety
//
// All public methods are thread-safe. Cycles never overlap: RunNow and the
// background loop share a cycle lock.
type MergeScheduler struct {
	merger  AutoMerger
	evictor StateEvictor
	metrics *observability.ServiceMetrics
	config  SchedulerConfig

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}

	cycleMu sync.Mutex
}

// NewMergeScheduler creates a scheduler. evictor and metrics may be nil.
func NewMergeScheduler(merger AutoMerger, evictor StateEvictor, metrics *observability.ServiceMetrics, config SchedulerConfig) *MergeScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &MergeScheduler{
		merger:  merger,
		evictor: evictor,
		metrics: metrics,
		config:  config,
	}
}

// Start begins the background loop.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
//
// # Limitations
//
//   - Context cancellation stops the loop after the current cycle.
func (s *MergeScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("merge scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	slog.Info("Merge scheduler starting",
		"interval", s.config.Interval.String(),
		"threshold", s.config.Threshold,
		"max_merges", s.config.MaxMerges,
		"dry_run", s.config.DryRun,
	)
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop to exit and waits for the current cycle to finish.
// Safe to call multiple times.
func (s *MergeScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	slog.Info("Merge scheduler stopping")
	close(s.done)
	stopped := s.stopped
	s.running = false
	s.mu.Unlock()

	<-stopped
	return nil
}

// RunNow runs one cycle immediately without affecting the schedule.
func (s *MergeScheduler) RunNow(ctx context.Context) CycleResult {
	return s.runCycle(ctx)
}

func (s *MergeScheduler) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Merge scheduler stopped (context cancelled)")
			return
		case <-done:
			slog.Info("Merge scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCycle(ctx)
		}
	}
}

func (s *MergeScheduler) executeCycle(ctx context.Context) {
	result := s.runCycle(ctx)
	if len(result.Reports) == 0 && result.EvictedStates == 0 {
		slog.Debug("Maintenance cycle completed (nothing to do)")
		return
	}
	slog.Info("Maintenance cycle completed",
		"pairs", len(result.Reports),
		"would_merge", result.WouldMerge,
		"merged", result.Merged,
		"failed", result.Failed,
		"evicted_states", result.EvictedStates,
		"duration_ms", result.DurationMs(),
	)
}

func (s *MergeScheduler) runCycle(ctx context.Context) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	result := CycleResult{StartTime: time.Now()}

	if s.merger != nil {
		result.Reports = s.merger.AutoMergeDuplicates(ctx, s.config.Threshold, s.config.MaxMerges, s.config.DryRun)
		for _, r := range result.Reports {
			switch r.Action {
			case subconscious.ActionWouldMerge:
				result.WouldMerge++
			case subconscious.ActionMerged:
				result.Merged++
			case subconscious.ActionMergeFailed:
				result.Failed++
				slog.Warn("Scheduled merge failed", "skill_a", r.SkillAID, "skill_b", r.SkillBID, "error", r.Error)
			}
			s.metrics.RecordMerge(string(r.Action))
		}
	}

	if s.evictor != nil && s.config.StateMaxIdle > 0 {
		result.EvictedStates = s.evictor.Evict(s.config.StateMaxIdle)
	}

	result.EndTime = time.Now()
	return result
}
