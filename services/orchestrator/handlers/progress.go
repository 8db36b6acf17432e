// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// HandleAgentProgress returns the GET /v1/agent/:agentId/progress handler.
//
// Read-only polling fallback for clients that cannot hold a websocket.
// Served from the durable snapshot, so it works for evicted sessions
// without pulling them back into memory.
func HandleAgentProgress(dir *agent.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := dir.Peek(c.Request.Context(), c.Param("agentId"))
		if err != nil {
			c.JSON(statusForKind(datatypes.KindOf(err)), errorBody(err))
			return
		}
		c.JSON(http.StatusOK, datatypes.ProgressResponse{
			TextExplanation: explanationFor(snap),
			GeneratedCode:   snap.CurrentFiles(),
			Progress:        snap.Progress(),
		})
	}
}

// HandleAgentConnect returns the GET /v1/agent/:agentId/connect handler,
// which tells a client where to open the live socket.
func HandleAgentConnect(dir *agent.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := dir.Peek(c.Request.Context(), c.Param("agentId"))
		if err != nil {
			c.JSON(statusForKind(datatypes.KindOf(err)), errorBody(err))
			return
		}
		c.JSON(http.StatusOK, datatypes.ConnectResponse{
			AgentID:      snap.SessionID,
			WebsocketURL: websocketURL(c, snap.SessionID),
			Progress:     snap.Progress(),
		})
	}
}

// explanationFor builds the human-readable summary line for a snapshot.
func explanationFor(snap *agent.Snapshot) string {
	switch {
	case snap.LastError != nil:
		return fmt.Sprintf("build failed: %s", snap.LastError.Message)
	case snap.Blueprint != nil:
		return fmt.Sprintf("%s: %s", snap.Blueprint.Title, snap.Blueprint.Description)
	case snap.Template != nil:
		return fmt.Sprintf("planning the build from template %s", snap.Template.Name)
	default:
		return "selecting a starting template"
	}
}
