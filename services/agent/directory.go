// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/orchestrator/observability"
)

// Directory resolves session ids to live sessions.
//
// # Description
//
// Sessions are addressable by id from any transport. A resident session
// is returned directly; an evicted one is reconstructed from its durable
// snapshot. Concurrent lookups for the same absent id collapse into one
// reconstruction via singleflight, so two transports racing for the same
// session always land on the same actor.
//
// # Thread Safety
//
// Safe for concurrent use.
type Directory struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session

	group  singleflight.Group
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDirectory creates the directory and starts its eviction scan.
func NewDirectory(cfg Config, deps Deps) *Directory {
	d := &Directory{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.evictLoop()
	return d
}

// Create mints a brand-new session in pending_template state. The id is
// a UUID; callers hand it to BeginKickoff next.
func (d *Directory) Create() *Session {
	now := time.Now().UTC()
	snap := &Snapshot{
		SessionID:      uuid.NewString(),
		Status:         datatypes.StatusPendingTemplate,
		GeneratedFiles: []datatypes.GeneratedFile{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sess := newSession(snap, d.cfg, d.deps)

	d.mu.Lock()
	d.sessions[sess.ID()] = sess
	count := len(d.sessions)
	d.mu.Unlock()

	if m := observability.DefaultMetrics; m != nil {
		m.SessionStarted()
		m.SetResidentSessions(count)
	}
	slog.Info("Session created", "session_id", sess.ID())
	return sess
}

// Get returns the live session for id, reconstructing it from the
// durable store if it was evicted. Returns a SessionNotFound error when
// no record exists anywhere.
func (d *Directory) Get(ctx context.Context, id string) (*Session, error) {
	d.mu.Lock()
	if sess, ok := d.sessions[id]; ok {
		d.mu.Unlock()
		return sess, nil
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do(id, func() (any, error) {
		// Re-check under the flight; a concurrent Create or a previous
		// flight may have won.
		d.mu.Lock()
		if sess, ok := d.sessions[id]; ok {
			d.mu.Unlock()
			return sess, nil
		}
		d.mu.Unlock()

		snap, err := d.deps.Store.Load(ctx, id)
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil, datatypes.NewAgentError(datatypes.ErrSessionNotFound,
				"no session with id "+id, nil)
		}
		if err != nil {
			return nil, err
		}

		sess := newSession(snap, d.cfg, d.deps)
		d.mu.Lock()
		d.sessions[id] = sess
		count := len(d.sessions)
		d.mu.Unlock()

		if m := observability.DefaultMetrics; m != nil {
			m.SessionRestored()
			m.SetResidentSessions(count)
		}
		slog.Info("Session restored from snapshot", "session_id", id, "status", snap.Status)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Peek reads a snapshot without forcing the session resident: live
// sessions answer from memory, evicted ones straight from the store.
func (d *Directory) Peek(ctx context.Context, id string) (*Snapshot, error) {
	d.mu.Lock()
	sess, ok := d.sessions[id]
	d.mu.Unlock()

	if ok {
		if snap := sess.Snapshot(); snap != nil {
			return snap, nil
		}
	}
	snap, err := d.deps.Store.Load(ctx, id)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, datatypes.NewAgentError(datatypes.ErrSessionNotFound,
			"no session with id "+id, nil)
	}
	return snap, err
}

func (d *Directory) evictLoop() {
	defer d.wg.Done()

	// Scan at a quarter of the idle window so eviction lag stays small
	// relative to the timeout itself.
	interval := d.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.evictIdle()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Directory) evictIdle() {
	d.mu.Lock()
	var idle []*Session
	for id, sess := range d.sessions {
		if sess.Idle(d.cfg.IdleTimeout) {
			idle = append(idle, sess)
			delete(d.sessions, id)
		}
	}
	count := len(d.sessions)
	d.mu.Unlock()

	for _, sess := range idle {
		// Stop flushes the final snapshot before the actor exits.
		sess.Stop()
		slog.Info("Session evicted after idle timeout", "session_id", sess.ID())
		if m := observability.DefaultMetrics; m != nil {
			m.SessionEvicted()
		}
	}
	if len(idle) > 0 {
		if m := observability.DefaultMetrics; m != nil {
			m.SetResidentSessions(count)
		}
	}
}

// Close stops the eviction loop and flushes every resident session.
func (d *Directory) Close() {
	close(d.stopCh)
	d.wg.Wait()

	d.mu.Lock()
	resident := make([]*Session, 0, len(d.sessions))
	for id, sess := range d.sessions {
		resident = append(resident, sess)
		delete(d.sessions, id)
	}
	d.mu.Unlock()

	for _, sess := range resident {
		sess.Stop()
	}
}
