// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin handlers for the agent gateway: the
// kickoff NDJSON stream, the live-phase websocket, and the plain HTTP
// status endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/orchestrator/middleware"
	"github.com/appforge-ai/appforge/services/orchestrator/observability"
)

// kickoffDrainTimeout caps how long the kickoff handler waits for the
// blueprint after planning starts. The session keeps working past it;
// the client falls back to the websocket for the rest.
const kickoffDrainTimeout = 5 * time.Minute

// statusForKind maps the error taxonomy to HTTP statuses for the
// pre-stream phase of kickoff.
func statusForKind(kind datatypes.ErrorKind) int {
	switch kind {
	case datatypes.ErrInvalidRequest:
		return http.StatusBadRequest
	case datatypes.ErrNoSuitableTemplate, datatypes.ErrSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) gin.H {
	record := datatypes.RecordFor(err)
	return gin.H{"error": record.Message, "kind": string(record.Kind)}
}

// HandleAgentKickoff returns the POST /v1/agent handler.
//
// # Description
//
// Validates the request, creates a session, and resolves its template
// synchronously; any failure up to that point is an ordinary JSON error
// response. Once the template is resolved the handler switches to a
// chunked NDJSON body: status messages, then raw blueprint text chunks,
// then the final connection envelope pointing the client at the
// websocket. Client disconnect mid-stream does not stop the session.
func HandleAgentKickoff(dir *agent.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.KickoffRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(
				datatypes.NewAgentError(datatypes.ErrInvalidRequest, "invalid kickoff request: "+err.Error(), nil)))
			return
		}
		if req.AgentMode == "" {
			req.AgentMode = datatypes.ModeSmart
		}

		sess := dir.Create()
		err := sess.BeginKickoff(c.Request.Context(), agent.KickoffParams{
			Query:            req.Query,
			Language:         req.Language,
			Frameworks:       req.Frameworks,
			SelectedTemplate: req.SelectedTemplate,
			AgentMode:        req.AgentMode,
			UserID:           middleware.UserID(c),
		})
		if err != nil {
			c.JSON(statusForKind(datatypes.KindOf(err)), errorBody(err))
			return
		}

		// Subscribe before planning starts so the stream misses nothing.
		_, events, subID, err := sess.Attach()
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody(err))
			return
		}
		defer sess.Detach(subID)

		SetStreamHeaders(c.Writer)
		writer, wErr := NewStreamWriter(c.Writer)
		if wErr != nil {
			c.JSON(http.StatusInternalServerError, errorBody(wErr))
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(observability.EndpointKickoff)
			defer m.StreamEnded(observability.EndpointKickoff)
		}

		snap := sess.Snapshot()
		if snap != nil && snap.Template != nil {
			_ = writer.WriteMessage("template selected: " + snap.Template.Name)
		}
		_ = writer.WriteMessage("planning the build")
		sess.StartPlanning()

		timeout := time.NewTimer(kickoffDrainTimeout)
		defer timeout.Stop()

		for {
			select {
			case frame, ok := <-events:
				if !ok {
					// Dropped as a slow subscriber or the session stopped;
					// the client reattaches over the websocket.
					return
				}
				if done := writeKickoffFrame(c, writer, sess, frame); done {
					return
				}
			case <-c.Request.Context().Done():
				slog.Info("Kickoff client disconnected, generation continues",
					"session_id", sess.ID())
				if m := observability.DefaultMetrics; m != nil {
					m.RecordClientDisconnect(observability.EndpointKickoff)
				}
				return
			case <-timeout.C:
				slog.Warn("Kickoff stream timed out waiting for blueprint",
					"session_id", sess.ID())
				writeKickoffEnvelope(c, writer, sess)
				return
			}
		}
	}
}

// writeKickoffFrame translates one session event into stream chunks.
// Returns true when the stream is finished.
func writeKickoffFrame(c *gin.Context, writer StreamWriter, sess *agent.Session,
	frame datatypes.ServerFrame) bool {

	switch frame.Type {
	case datatypes.FrameBlueprintChunk:
		if err := writer.WriteToken(frame.Chunk); err != nil {
			return true
		}
	case datatypes.FramePhaseUpdate:
		if frame.Status == datatypes.StatusGenerating {
			// Blueprint is done; hand the client over to phase two.
			writeKickoffEnvelope(c, writer, sess)
			return true
		}
		if err := writer.WriteMessage(frame.Message); err != nil {
			return true
		}
	case datatypes.FrameError:
		_ = writer.WriteError(frame.Error)
		return true
	}
	return false
}

func writeKickoffEnvelope(c *gin.Context, writer StreamWriter, sess *agent.Session) {
	chunk := datatypes.KickoffChunk{
		Message:       "build started",
		AgentID:       sess.ID(),
		WebsocketURL:  websocketURL(c, sess.ID()),
		HTTPStatusURL: progressURL(c, sess.ID()),
	}
	if snap := sess.Snapshot(); snap != nil {
		chunk.Template = snap.Template
	}
	if err := writer.WriteChunk(chunk); err != nil {
		slog.Warn("Failed to write kickoff envelope", "session_id", sess.ID(), "error", err)
	}
}

// =============================================================================
// URL helpers
// =============================================================================

func requestScheme(c *gin.Context) string {
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

func websocketURL(c *gin.Context, agentID string) string {
	scheme := "ws"
	if requestScheme(c) == "https" {
		scheme = "wss"
	}
	return scheme + "://" + c.Request.Host + "/v1/agent/" + agentID + "/ws"
}

func progressURL(c *gin.Context, agentID string) string {
	return requestScheme(c) + "://" + c.Request.Host + "/v1/agent/" + agentID + "/progress"
}
