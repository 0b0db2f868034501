// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/worker"
)

var requestValidate = validator.New()

// =============================================================================
// Process
// =============================================================================

// ProcessRequest is the body of POST /v1/subconscious/process and of each
// WebSocket frame.
type ProcessRequest struct {
	ThreadID    string                 `json:"thread_id" validate:"required,max=200"`
	UserID      string                 `json:"user_id" validate:"max=200"`
	CurrentTurn int                    `json:"current_turn" validate:"min=0"`
	Messages    []subconscious.Message `json:"messages" validate:"required,min=1,dive"`
}

// ProcessResponse is returned by the process route.
type ProcessResponse struct {
	Injected bool                 `json:"injected"`
	Content  string               `json:"content,omitempty"`
	Events   []subconscious.Event `json:"events"`
}

// HandleProcess runs one turn and returns its result with every emitted event.
func HandleProcess(pipeline *subconscious.Middleware, states *subconscious.StateRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessRequest
		if err := bindAndValidate(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp := ProcessResponse{Events: []subconscious.Event{}}
		resp.Content, resp.Injected = runTurn(c.Request.Context(), pipeline, states, req, GetAccessToken(c), func(ev subconscious.Event) {
			resp.Events = append(resp.Events, ev)
		})
		c.JSON(http.StatusOK, resp)
	}
}

// runTurn processes req while holding the thread's state.
func runTurn(ctx context.Context, pipeline *subconscious.Middleware, states *subconscious.StateRegistry, req ProcessRequest, token string, sink subconscious.EventSink) (content string, injected bool) {
	turn := subconscious.Request{
		Messages:    req.Messages,
		AccessToken: token,
		ThreadID:    req.ThreadID,
		UserID:      req.UserID,
		CurrentTurn: req.CurrentTurn,
	}
	states.With(req.ThreadID, func(state *subconscious.State) {
		content, injected = pipeline.Process(ctx, turn, state, sink)
	})
	return content, injected
}

// =============================================================================
// Outcomes
// =============================================================================

// OutcomeRequest is the body of POST /v1/injections/:id/outcome.
type OutcomeRequest struct {
	Outcome  string `json:"outcome" validate:"required"`
	Context  string `json:"context" validate:"max=4000"`
	Feedback string `json:"feedback" validate:"max=4000"`
}

// HandleOutcome records the outcome of an injection.
//
// With a queue the update is applied in the background and the route answers
// 202, or 503 when the queue cannot take it. Without a queue it is applied
// inline and the route answers 200 with whether the injection was found.
func HandleOutcome(tracker *subconscious.OutcomeTracker, queue subconscious.TaskSubmitter, metrics *observability.ServiceMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		injectionID := c.Param("id")
		var req OutcomeRequest
		if err := bindAndValidate(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		outcome, err := datatypes.ParseOutcome(req.Outcome)
		if err != nil {
			metrics.RecordOutcome("invalid", false)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		apply := func(ctx context.Context) bool {
			ok := tracker.RecordOutcome(ctx, injectionID, string(outcome), req.Context, req.Feedback)
			metrics.RecordOutcome(string(outcome), ok)
			return ok
		}

		if queue == nil {
			recorded := apply(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"injection_id": injectionID, "recorded": recorded})
			return
		}

		err = queue.Submit("record_outcome", func(ctx context.Context) error {
			if !apply(ctx) {
				return fmt.Errorf("outcome for injection %s not recorded", injectionID)
			}
			return nil
		})
		if err != nil {
			status := http.StatusServiceUnavailable
			if !errors.Is(err, worker.ErrQueueFull) && !errors.Is(err, worker.ErrQueueClosed) {
				status = http.StatusInternalServerError
			}
			slog.Warn("Outcome not queued", "injection_id", injectionID, "error", err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"injection_id": injectionID, "status": "accepted"})
	}
}

// HandleSkillStats returns effectiveness stats for one skill.
func HandleSkillStats(tracker *subconscious.OutcomeTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := tracker.SkillStats(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func bindAndValidate(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := requestValidate.Struct(req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrSkillNotFound), errors.Is(err, datatypes.ErrInjectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, subconscious.ErrMergeSameSkill), errors.Is(err, subconscious.ErrInvalidPrimary):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrSkillMerged), errors.Is(err, subconscious.ErrSkillInactive):
		return http.StatusConflict
	case errors.Is(err, subconscious.ErrMergeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
