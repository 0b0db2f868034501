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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 64 * 1024,
}

// StreamFrame is written after each processed turn, or when a request frame
// is rejected. Pipeline events are written as they happen, in their own
// shape, before the result frame.
type StreamFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Injected bool   `json:"injected"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleProcessWebSocket streams pipeline events for each turn.
//
// # Description
//
// Every inbound frame is a ProcessRequest. Each event is forwarded as the
// pipeline emits it, followed by a "result" frame. Malformed frames get an
// "error" frame and the connection stays open. The connection closes when
// the client goes away or a write fails.
func HandleProcessWebSocket(pipeline *subconscious.Middleware, states *subconscious.StateRegistry, metrics *observability.ServiceMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		metrics.StreamOpened()
		defer metrics.StreamClosed()

		token := GetAccessToken(c)
		ctx := c.Request.Context()

		for {
			var req ProcessRequest
			if err := ws.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("WebSocket read failed", "error", err)
				}
				return
			}
			if err := requestValidate.Struct(&req); err != nil {
				if sendJSON(ws, StreamFrame{Type: "error", ThreadID: req.ThreadID, Error: err.Error()}) != nil {
					return
				}
				continue
			}

			writeFailed := false
			sink := func(ev subconscious.Event) {
				if writeFailed {
					return
				}
				if sendJSON(ws, ev) != nil {
					writeFailed = true
				}
			}
			content, injected := runTurn(ctx, pipeline, states, req, token, sink)
			if writeFailed {
				return
			}
			result := StreamFrame{Type: "result", ThreadID: req.ThreadID, Injected: injected, Content: content}
			if sendJSON(ws, result) != nil {
				return
			}
		}
	}
}
