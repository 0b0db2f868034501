// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

type fakeMerger struct {
	mu      sync.Mutex
	calls   int
	dryRuns []bool
	reports []subconscious.MergeReport
}

func (f *fakeMerger) AutoMergeDuplicates(_ context.Context, _ float64, _ int, dryRun bool) []subconscious.MergeReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.dryRuns = append(f.dryRuns, dryRun)
	return f.reports
}

func (f *fakeMerger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEvictor struct{ evicted int }

func (f *fakeEvictor) Evict(time.Duration) int { return f.evicted }

func TestMergeScheduler_RunNow(t *testing.T) {
	merger := &fakeMerger{reports: []subconscious.MergeReport{
		{Action: subconscious.ActionMerged, SkillAID: "a", SkillBID: "b"},
		{Action: subconscious.ActionMergeFailed, SkillAID: "a", SkillBID: "c", Error: "consumed"},
		{Action: subconscious.ActionWouldMerge},
	}}
	metrics := observability.NewServiceMetrics(prometheus.NewRegistry())
	s := NewMergeScheduler(merger, &fakeEvictor{evicted: 3}, metrics, DefaultSchedulerConfig())

	result := s.RunNow(context.Background())

	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.WouldMerge)
	assert.Equal(t, 3, result.EvictedStates)
	assert.GreaterOrEqual(t, result.DurationMs(), int64(0))
	assert.Equal(t, []bool{true}, merger.dryRuns)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MergesTotal.WithLabelValues("merged")))
}

func TestMergeScheduler_StartStop(t *testing.T) {
	merger := &fakeMerger{}
	cfg := DefaultSchedulerConfig()
	cfg.Interval = 10 * time.Millisecond
	s := NewMergeScheduler(merger, nil, nil, cfg)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return merger.callCount() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	calls := merger.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, merger.callCount())

	// Restart after stop.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestMergeScheduler_ContextCancel(t *testing.T) {
	merger := &fakeMerger{}
	cfg := DefaultSchedulerConfig()
	cfg.Interval = time.Hour
	s := NewMergeScheduler(merger, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return merger.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())
}

func TestNewMergeScheduler_DefaultInterval(t *testing.T) {
	s := NewMergeScheduler(nil, nil, nil, SchedulerConfig{})
	assert.Equal(t, 24*time.Hour, s.config.Interval)
	assert.Empty(t, s.RunNow(context.Background()).Reports)
}
