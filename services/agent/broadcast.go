// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"log/slog"
	"sync"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// hub fans session events out to every attached transport.
//
// # Description
//
// The producer side (the session's owner goroutine) never blocks: each
// subscriber has a bounded buffer and a subscriber that falls behind is
// dropped, not queued unboundedly. Dropped subscribers see their channel
// close and treat it as a disconnect; on reconnect they get a full state
// replay, so no information is lost, only the slow pipe.
//
// All subscribers observe the same relative event order because publish
// iterates under one lock from a single producer.
//
// # Thread Safety
//
// Safe for concurrent use. Publish is called only by the session owner;
// subscribe/unsubscribe arrive from transport goroutines.
type hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan datatypes.ServerFrame
	bufSize int
}

func newHub(bufSize int) *hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &hub{
		subs:    make(map[int]chan datatypes.ServerFrame),
		bufSize: bufSize,
	}
}

// subscribe registers a new transport and returns its id and channel.
// The channel is closed on unsubscribe, overflow, or hub shutdown.
func (h *hub) subscribe() (int, <-chan datatypes.ServerFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan datatypes.ServerFrame, h.bufSize)
	h.subs[id] = ch
	return id, ch
}

// unsubscribe removes a transport. Safe to call for an already-dropped id.
func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// publish delivers a frame to every subscriber without ever blocking the
// producer. A full buffer disconnects that subscriber.
func (h *hub) publish(frame datatypes.ServerFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			slog.Warn("Dropping slow session subscriber", "subscriber_id", id)
			delete(h.subs, id)
			close(ch)
		}
	}
}

// count returns the number of attached transports.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// shutdown disconnects every subscriber.
func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
