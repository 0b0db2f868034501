// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker runs short background tasks off the request path.
//
// The subconscious uses it to persist injection rows and apply outcome
// feedback without making the caller wait on the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

// Errors returned by Submit.
var (
	ErrQueueFull   = errors.New("worker queue is full")
	ErrQueueClosed = errors.New("worker queue is closed")
)

// Config sizes the queue.
//
// # Fields
//
//   - Workers: Goroutines draining the queue. Default: 4.
//   - Capacity: Buffered tasks before Submit rejects. Default: 256.
//   - TaskTimeout: Deadline applied to each task's context. Default: 30s.
type Config struct {
	Workers     int           `yaml:"workers" validate:"min=1,max=256"`
	Capacity    int           `yaml:"capacity" validate:"min=1"`
	TaskTimeout time.Duration `yaml:"task_timeout" validate:"min=0"`
}

// DefaultConfig returns the default queue sizing.
func DefaultConfig() Config {
	return Config{Workers: 4, Capacity: 256, TaskTimeout: 30 * time.Second}
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue is a bounded, fixed-size worker pool.
//
// # Description
//
// Submit never blocks: a full buffer returns ErrQueueFull so callers can
// fall back to doing the work inline. Tasks run with a context derived from
// the queue, not from the submitting request, so they survive the request
// that queued them. A panicking task is recovered and counted as failed.
//
// # Thread Safety
//
// Safe for concurrent use.
type Queue struct {
	config  Config
	tasks   chan task
	metrics *observability.ServiceMetrics

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewQueue starts the workers. metrics may be nil.
func NewQueue(config Config, metrics *observability.ServiceMetrics) *Queue {
	def := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:  config,
		tasks:   make(chan task, config.Capacity),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < config.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues fn under name.
//
// # Outputs
//
//   - error: ErrQueueFull when the buffer is full, ErrQueueClosed after
//     Shutdown. The task has not been accepted in either case.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task{name: name, fn: fn}:
		q.submitted.Add(1)
		q.metrics.SetQueueDepth(len(q.tasks))
		return nil
	default:
		q.rejected.Add(1)
		q.metrics.RecordTask(name, observability.TaskRejected, 0)
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
//
// If ctx expires first, running tasks have their contexts cancelled and
// Shutdown returns ctx.Err() without waiting further. Calling Shutdown more
// than once is safe.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return fmt.Errorf("worker queue shutdown: %w", ctx.Err())
	}
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Queued:    len(q.tasks),
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Rejected:  q.rejected.Load(),
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.metrics.SetQueueDepth(len(q.tasks))
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	start := time.Now()
	result := observability.TaskOK

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Background task panicked", "task", t.name, "panic", r)
			result = observability.TaskPanic
		}
		if result == observability.TaskOK {
			q.completed.Add(1)
		} else {
			q.failed.Add(1)
		}
		q.metrics.RecordTask(t.name, result, time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(q.ctx, q.config.TaskTimeout)
	defer cancel()

	if err := t.fn(ctx); err != nil {
		slog.Warn("Background task failed", "task", t.name, "error", err)
		result = observability.TaskError
	}
}
