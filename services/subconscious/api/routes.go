// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the subconscious over HTTP and WebSocket.
//
// # Routes
//
//	GET  /health
//	GET  /metrics
//	POST /v1/subconscious/process
//	GET  /v1/subconscious/ws
//	POST /v1/injections/:id/outcome
//	GET  /v1/skills/:id/stats
//	GET  /v1/skills/duplicates
//	POST /v1/skills/merge
//	POST /v1/skills/auto-merge
//
// Every /v1 route reads an optional bearer token, which is handed to the
// pipeline as the caller's access token.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

// Deps holds everything the handlers need.
//
// # Fields
//
//   - Pipeline, States: Required for the process and WebSocket routes.
//   - Tracker: Required for outcome and stats routes.
//   - Merger: Required for the skill maintenance routes.
//   - Queue: Optional. Outcomes are applied inline when nil.
//   - Metrics: Optional Prometheus collectors.
//   - MetricsHandler: Optional /metrics handler.
//   - RequireToken: Reject /v1 requests without a bearer token.
type Deps struct {
	Pipeline       *subconscious.Middleware
	States         *subconscious.StateRegistry
	Tracker        *subconscious.OutcomeTracker
	Merger         *subconscious.SkillMerger
	Queue          subconscious.TaskSubmitter
	Metrics        *observability.ServiceMetrics
	MetricsHandler http.Handler
	RequireToken   bool
	ServiceName    string
}

// NewRouter builds a gin engine with tracing, metrics and all routes.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	name := deps.ServiceName
	if name == "" {
		name = "aleutian-subconscious"
	}
	router.Use(otelgin.Middleware(name))
	router.Use(HTTPMetrics(deps.Metrics))
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers the routes on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", HealthCheck)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	v1 := router.Group("/v1")
	v1.Use(BearerToken(deps.RequireToken))
	{
		sub := v1.Group("/subconscious")
		{
			sub.POST("/process", HandleProcess(deps.Pipeline, deps.States))
			sub.GET("/ws", HandleProcessWebSocket(deps.Pipeline, deps.States, deps.Metrics))
		}

		v1.POST("/injections/:id/outcome", HandleOutcome(deps.Tracker, deps.Queue, deps.Metrics))

		skills := v1.Group("/skills")
		{
			skills.GET("/duplicates", HandleFindDuplicates(deps.Merger))
			skills.POST("/merge", HandleMerge(deps.Merger, deps.Metrics))
			skills.POST("/auto-merge", HandleAutoMerge(deps.Merger, deps.Metrics))
			skills.GET("/:id/stats", HandleSkillStats(deps.Tracker))
		}
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
