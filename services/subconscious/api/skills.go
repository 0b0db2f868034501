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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

const (
	defaultDuplicateThreshold = 0.92
	defaultMaxMerges          = 10
)

// MergeRequest is the body of POST /v1/skills/merge.
type MergeRequest struct {
	SkillAID    string `json:"skill_a_id" validate:"required"`
	SkillBID    string `json:"skill_b_id" validate:"required"`
	KeepPrimary string `json:"keep_primary"`
}

// AutoMergeRequest is the body of POST /v1/skills/auto-merge. DryRun
// defaults to true.
type AutoMergeRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
	MaxMerges *int    `json:"max_merges" validate:"omitempty,min=0"`
	DryRun    *bool   `json:"dry_run"`
}

// HandleFindDuplicates lists near-duplicate skill pairs.
//
// Query parameters: threshold (default 0.92), limit (default: merger scan limit).
func HandleFindDuplicates(merger *subconscious.SkillMerger) gin.HandlerFunc {
	return func(c *gin.Context) {
		threshold := defaultDuplicateThreshold
		if raw := c.Query("threshold"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 || v > 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be in (0, 1]"})
				return
			}
			threshold = v
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = v
		}

		pairs := merger.FindDuplicates(c.Request.Context(), threshold, limit)
		c.JSON(http.StatusOK, gin.H{"threshold": threshold, "pairs": pairs})
	}
}

// HandleMerge merges two skills.
func HandleMerge(merger *subconscious.SkillMerger, metrics *observability.ServiceMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MergeRequest
		if err := bindAndValidate(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		skill, err := merger.Merge(c.Request.Context(), req.SkillAID, req.SkillBID, req.KeepPrimary)
		if err != nil {
			metrics.RecordMerge(string(subconscious.ActionMergeFailed))
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		metrics.RecordMerge(string(subconscious.ActionMerged))
		c.JSON(http.StatusOK, skill)
	}
}

// HandleAutoMerge finds and merges duplicates, dry-run unless asked otherwise.
func HandleAutoMerge(merger *subconscious.SkillMerger, metrics *observability.ServiceMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AutoMergeRequest
		if err := bindAndValidate(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		threshold := req.Threshold
		if threshold == 0 {
			threshold = defaultDuplicateThreshold
		}
		maxMerges := defaultMaxMerges
		if req.MaxMerges != nil {
			maxMerges = *req.MaxMerges
		}
		dryRun := true
		if req.DryRun != nil {
			dryRun = *req.DryRun
		}

		reports := merger.AutoMergeDuplicates(c.Request.Context(), threshold, maxMerges, dryRun)
		for _, r := range reports {
			metrics.RecordMerge(string(r.Action))
		}
		c.JSON(http.StatusOK, gin.H{"dry_run": dryRun, "reports": reports})
	}
}
