// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics(t *testing.T) *ServiceMetrics {
	t.Helper()
	return NewServiceMetrics(prometheus.NewRegistry())
}

func TestServiceMetrics_RecordHTTP(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordHTTP("/v1/subconscious/process", "POST", 200, 0.12)
	m.RecordHTTP("/v1/subconscious/process", "POST", 200, 0.08)
	m.RecordHTTP("/v1/subconscious/process", "POST", 400, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/v1/subconscious/process", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/v1/subconscious/process", "POST", "400")))
}

func TestServiceMetrics_Tasks(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTask("record_injection", TaskOK, 0.01)
	m.RecordTask("record_injection", TaskRejected, 0)
	m.SetQueueDepth(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("record_injection", TaskOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("record_injection", TaskRejected)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
}

func TestServiceMetrics_OutcomesMergesStreams(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordOutcome("success", true)
	m.RecordOutcome("bogus", false)
	m.RecordMerge("merged")
	m.RecordMerge("merged")
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("success", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("bogus", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MergesTotal.WithLabelValues("merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestServiceMetrics_NilSafe(t *testing.T) {
	var m *ServiceMetrics
	assert.NotPanics(t, func() {
		m.RecordHTTP("/", "GET", 200, 0)
		m.SetQueueDepth(1)
		m.RecordTask("x", TaskOK, 0)
		m.RecordOutcome("success", true)
		m.RecordMerge("merged")
		m.StreamOpened()
		m.StreamClosed()
	})
}
