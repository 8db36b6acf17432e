// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// Snapshot is the durable record of a build session. The in-memory
// session is a cache over this record, not the source of truth: eviction
// flushes it and a later lookup reconstructs equivalent state from it.
type Snapshot struct {
	SessionID  string              `json:"session_id"`
	UserID     string              `json:"user_id,omitempty"`
	Query      string              `json:"query"`
	Language   string              `json:"language,omitempty"`
	Frameworks []string            `json:"frameworks,omitempty"`
	AgentMode  datatypes.AgentMode `json:"agent_mode,omitempty"`

	Status    datatypes.SessionStatus      `json:"status"`
	Selection *datatypes.TemplateSelection `json:"selection,omitempty"`
	Template  *datatypes.TemplateDetails   `json:"template,omitempty"`
	Blueprint *datatypes.Blueprint         `json:"blueprint,omitempty"`

	// GeneratedFiles is append-only; regenerated paths append new records
	// rather than rewriting old ones.
	GeneratedFiles []datatypes.GeneratedFile `json:"generated_files"`
	Failures       []datatypes.UnitFailure   `json:"failures,omitempty"`

	// NextUnit is the index of the next unstarted blueprint unit, so a
	// session reconstructed after eviction resumes without redoing or
	// skipping work.
	NextUnit int `json:"next_unit"`

	DeploymentURL string                 `json:"deployment_url,omitempty"`
	LastError     *datatypes.ErrorRecord `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress derives the client-facing progress view. TotalFiles is -1
// until the blueprint has fixed the plan size. Once it has, only planned
// paths count toward CompletedFiles: a unit may emit companion files
// beyond its blueprint entry, and those must not push the counter past
// the total.
func (s *Snapshot) Progress() datatypes.Progress {
	total := -1
	var planned map[string]struct{}
	if s.Blueprint != nil {
		total = len(s.Blueprint.Files)
		planned = make(map[string]struct{}, total)
		for _, f := range s.Blueprint.Files {
			planned[f.Path] = struct{}{}
		}
	}
	completed := 0
	seen := make(map[string]struct{}, len(s.GeneratedFiles))
	for _, f := range s.GeneratedFiles {
		if _, ok := seen[f.FilePath]; ok {
			continue
		}
		seen[f.FilePath] = struct{}{}
		if planned == nil {
			completed++
			continue
		}
		if _, ok := planned[f.FilePath]; ok {
			completed++
		}
	}
	return datatypes.Progress{CompletedFiles: completed, TotalFiles: total}
}

// CurrentFiles materializes the latest record per path, preserving first
// appearance order. This is the externally visible view; the append-only
// history stays intact underneath for debugging and replay.
func (s *Snapshot) CurrentFiles() []datatypes.GeneratedFile {
	latest := make(map[string]int, len(s.GeneratedFiles))
	order := make([]string, 0, len(s.GeneratedFiles))
	for i, f := range s.GeneratedFiles {
		if _, ok := latest[f.FilePath]; !ok {
			order = append(order, f.FilePath)
		}
		latest[f.FilePath] = i
	}
	out := make([]datatypes.GeneratedFile, 0, len(order))
	for _, path := range order {
		out = append(out, s.GeneratedFiles[latest[path]])
	}
	return out
}

// =============================================================================
// Store
// =============================================================================

// ErrSnapshotNotFound reports that no durable record exists for an id.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

// Store persists session snapshots by session id.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; every session's owner
// goroutine writes its own key, and HTTP readers load snapshots at will.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Close() error
}

// BadgerStore implements Store over an embedded BadgerDB.
//
// Hot (session goroutine) → Warm (badger) is the whole persistence model:
// low-latency local writes after every unit keep the durable record close
// behind the live one.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig holds configuration for the snapshot database.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// NewBadgerStore opens the snapshot store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil) // badger's own logging is noise at this layer

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func snapshotKey(sessionID string) []byte {
	return []byte("session/" + sessionID)
}

// Save implements Store.
func (b *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	snap.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.SessionID), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.SessionID, err)
	}
	slog.Debug("Session snapshot persisted", "session_id", snap.SessionID, "status", snap.Status)
	return nil
}

// Load implements Store.
func (b *BadgerStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var snap Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Close implements Store.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

var _ Store = (*BadgerStore)(nil)
