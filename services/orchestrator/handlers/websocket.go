// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/orchestrator/observability"
)

// closeSessionNotFound is the application close code sent when the
// requested session cannot be resolved after the upgrade completed.
const closeSessionNotFound = 4404

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsConn serializes writes; gorilla connections allow one writer at a
// time and frames come from both the event pump and the reader loop.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeFrame(frame datatypes.ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(frame)
}

func (c *wsConn) writeClose(code int, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, message)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// HandleAgentWebsocket returns the GET /v1/agent/:agentId/ws handler.
//
// # Description
//
// The live phase of a build session. A request without an upgrade header
// gets 426. The upgrade itself always completes before session
// resolution, so an unresolvable id is reported in-band: a typed error
// frame followed by close code 4404. Browser websocket clients cannot
// read HTTP error bodies, a failed upgrade would be indistinguishable
// from a network problem.
//
// After attach the client receives one state_replay frame materializing
// everything it missed, then live events in production order. A reader
// goroutine decodes client command frames; closing the socket leaves the
// session running.
func HandleAgentWebsocket(dir *agent.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) {
			c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade websocket", "error", err)
			return
		}
		defer ws.Close()
		conn := &wsConn{ws: ws}

		agentID := c.Param("agentId")
		sess, err := dir.Get(c.Request.Context(), agentID)
		if err != nil {
			record := datatypes.RecordFor(err)
			_ = conn.writeFrame(datatypes.ServerFrame{
				Type:      datatypes.FrameError,
				Error:     record.Message,
				ErrorKind: string(record.Kind),
			})
			conn.writeClose(closeSessionNotFound, "session not found")
			return
		}

		replay, events, subID, err := sess.Attach()
		if err != nil {
			conn.writeClose(closeSessionNotFound, "session stopped")
			return
		}
		defer sess.Detach(subID)

		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(observability.EndpointWebsocket)
			defer m.StreamEnded(observability.EndpointWebsocket)
		}
		slog.Info("Websocket client attached", "session_id", agentID)

		if err := conn.writeFrame(replay); err != nil {
			return
		}

		// Event pump. Exits when the subscription closes (detach, slow
		// subscriber drop, session stop) or a write fails.
		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case frame, ok := <-events:
					if !ok {
						conn.writeClose(websocket.CloseGoingAway, "session detached")
						return
					}
					if err := conn.writeFrame(frame); err != nil {
						return
					}
				case <-ticker.C:
					if err := conn.ping(); err != nil {
						return
					}
				}
			}
		}()

		_ = ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})

		// Reader loop owns the handler goroutine.
		for {
			var frame datatypes.ClientFrame
			if err := ws.ReadJSON(&frame); err != nil {
				slog.Info("Websocket client disconnected", "session_id", agentID, "error", err.Error())
				if m := observability.DefaultMetrics; m != nil {
					m.RecordClientDisconnect(observability.EndpointWebsocket)
				}
				break
			}
			if err := frame.Validate(); err != nil {
				_ = conn.writeFrame(datatypes.ServerFrame{
					Type:      datatypes.FrameError,
					Error:     err.Error(),
					ErrorKind: string(datatypes.ErrInvalidRequest),
				})
				continue
			}
			sess.HandleFrame(frame)
		}

		// Detach closes the subscription, which stops the pump.
		sess.Detach(subID)
		<-pumpDone
	}
}
