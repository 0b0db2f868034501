// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus collectors for the subconscious
// service.
//
// # Description
//
// Collectors cover the parts of the service that sit outside the per-turn
// pipeline (which reports through OpenTelemetry instead):
//   - HTTP requests by route and status
//   - Background queue depth and task results
//   - Outcome submissions
//   - Merge results
//   - Open WebSocket streams
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe on a nil *ServiceMetrics, so components can run
// without metrics in tests and CLI commands.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	metricsSubsystem = "subconscious"
)

// Task results recorded on TasksTotal.
const (
	TaskOK       = "ok"
	TaskError    = "error"
	TaskPanic    = "panic"
	TaskRejected = "rejected"
)

// ServiceMetrics holds the service's Prometheus collectors.
//
// # Fields
//
//   - HTTPRequestsTotal: Labels route, method, status.
//   - HTTPDurationSeconds: Labels route.
//   - QueueDepth: Tasks waiting in the background queue.
//   - TasksTotal: Labels task, result (ok, error, panic, rejected).
//   - TaskDurationSeconds: Labels task.
//   - OutcomesTotal: Labels outcome, accepted.
//   - MergesTotal: Labels action (would_merge, merged, merge_failed).
//   - ActiveStreams: Open WebSocket event streams.
type ServiceMetrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPDurationSeconds *prometheus.HistogramVec
	QueueDepth          prometheus.Gauge
	TasksTotal          *prometheus.CounterVec
	TaskDurationSeconds *prometheus.HistogramVec
	OutcomesTotal       *prometheus.CounterVec
	MergesTotal         *prometheus.CounterVec
	ActiveStreams       prometheus.Gauge
}

// NewServiceMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Pass prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewServiceMetrics(reg prometheus.Registerer) *ServiceMetrics {
	factory := promauto.With(reg)
	return &ServiceMetrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "queue_depth",
				Help:      "Tasks waiting in the background queue",
			},
		),
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "tasks_total",
				Help:      "Background tasks by name and result",
			},
			[]string{"task", "result"},
		),
		TaskDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "task_duration_seconds",
				Help:      "Background task duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"task"},
		),
		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "outcomes_total",
				Help:      "Outcome submissions by outcome and whether they were applied",
			},
			[]string{"outcome", "accepted"},
		),
		MergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "merges_total",
				Help:      "Skill merge results by action",
			},
			[]string{"action"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_streams",
				Help:      "Open WebSocket event streams",
			},
		),
	}
}

// RecordHTTP records one finished HTTP request.
func (m *ServiceMetrics) RecordHTTP(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDurationSeconds.WithLabelValues(route).Observe(seconds)
}

// SetQueueDepth reports the number of queued tasks.
func (m *ServiceMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordTask records a finished or rejected background task.
func (m *ServiceMetrics) RecordTask(task, result string, seconds float64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(task, result).Inc()
	if result != TaskRejected {
		m.TaskDurationSeconds.WithLabelValues(task).Observe(seconds)
	}
}

// RecordOutcome records an outcome submission.
func (m *ServiceMetrics) RecordOutcome(outcome string, accepted bool) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(outcome, strconv.FormatBool(accepted)).Inc()
}

// RecordMerge records one merge result.
func (m *ServiceMetrics) RecordMerge(action string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(action).Inc()
}

// StreamOpened increments the open stream gauge.
func (m *ServiceMetrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamClosed decrements the open stream gauge.
func (m *ServiceMetrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
