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
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

// accessTokenKey is the gin context key holding the caller's bearer token.
const accessTokenKey = "aleutian_access_token"

// BearerToken extracts "Authorization: Bearer <token>" into the context.
//
// When required is true, requests without a token get 401. The token is not
// validated here; the stores behind the pipeline decide what it grants.
func BearerToken(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" && required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		c.Set(accessTokenKey, token)
		c.Next()
	}
}

// GetAccessToken returns the token stored by BearerToken, or "".
func GetAccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}

func extractBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// HTTPMetrics records request counts and latency by route template.
func HTTPMetrics(m *observability.ServiceMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTP(route, c.Request.Method, c.Writer.Status(), time.Since(start).Seconds())
	}
}
