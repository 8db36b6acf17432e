// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent implements the durable build session: the addressable,
// single-writer state machine that owns one code-generation workflow from
// kickoff to deployment.
//
// # Concurrency Model
//
// Every session has exactly one owner goroutine (run). All state lives on
// that goroutine; transports and pipeline workers talk to it exclusively
// through the command channel. Blocking work (AI calls, catalog fetches,
// deployment) runs in worker goroutines that post their results back as
// internal events, so a slow inference call never wedges command handling
// for attach/pause/progress.
//
// Closing a transport never cancels generation; the session's context is
// rooted in the process, not in any request. Pause is the only
// client-initiated way to halt forward progress.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/appforge-ai/appforge/services/deploy"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/orchestrator/observability"
	"github.com/appforge-ai/appforge/services/planner"
	"github.com/appforge-ai/appforge/services/templates"
)

// =============================================================================
// Configuration
// =============================================================================

// Config tunes session behavior. Zero values use defaults; the retry
// bounds are configuration on purpose (reasonable defaults, not hard
// requirements).
type Config struct {
	// BlueprintAttempts is the total attempts for blueprint generation
	// before the session errors. Default: 2.
	BlueprintAttempts int

	// BlueprintBackoff is the delay before a blueprint retry. Default: 1s.
	BlueprintBackoff time.Duration

	// UnitAttempts is the total attempts per file-generation unit before
	// it is recorded as a partial failure. Default: 3.
	UnitAttempts int

	// UnitBackoff is the base delay between unit retries; doubles per
	// attempt. Default: 500ms.
	UnitBackoff time.Duration

	// SubscriberBuffer is the per-transport event buffer. A transport
	// that falls this far behind is disconnected. Default: 64.
	SubscriberBuffer int

	// IdleTimeout is how long a session with no transports and no active
	// work stays resident before eviction. Default: 10m.
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BlueprintAttempts == 0 {
		c.BlueprintAttempts = 2
	}
	if c.BlueprintBackoff == 0 {
		c.BlueprintBackoff = time.Second
	}
	if c.UnitAttempts == 0 {
		c.UnitAttempts = 3
	}
	if c.UnitBackoff == 0 {
		c.UnitBackoff = 500 * time.Millisecond
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = 64
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	return c
}

// Planner is the slice of the planning service a session needs; the
// concrete implementation is planner.New, tests inject fakes.
type Planner interface {
	SelectTemplate(ctx context.Context, query string,
		catalog []datatypes.TemplateDescriptor) datatypes.TemplateSelection
	GenerateBlueprint(ctx context.Context, req planner.BlueprintRequest,
		onChunk func(chunk string) error) (*datatypes.Blueprint, error)
	GenerateUnit(ctx context.Context, bp *datatypes.Blueprint,
		template *datatypes.TemplateDetails, unit datatypes.BlueprintFile,
		donePaths []string) ([]datatypes.GeneratedFile, error)
}

// Deps are the external collaborators a session drives.
type Deps struct {
	Catalog  templates.Catalog
	Planner  Planner
	Deployer deploy.Deployer
	Store    Store
}

// =============================================================================
// Commands and internal events
// =============================================================================

// KickoffParams is the validated kickoff request handed to a new session.
type KickoffParams struct {
	Query            string
	Language         string
	Frameworks       []string
	SelectedTemplate string
	AgentMode        datatypes.AgentMode
	UserID           string
}

type attachResult struct {
	replay datatypes.ServerFrame
	ch     <-chan datatypes.ServerFrame
	subID  int
}

type (
	cmdBeginKickoff struct {
		params KickoffParams
		reply  chan error
	}
	cmdStartPlanning struct{}
	cmdAttach        struct{ reply chan attachResult }
	cmdDetach        struct{ subID int }
	cmdSnapshot      struct{ reply chan *Snapshot }
	cmdClientFrame   struct{ frame datatypes.ClientFrame }
	cmdStop          struct{ reply chan struct{} }

	evKickoffReady struct {
		selection datatypes.TemplateSelection
		template  *datatypes.TemplateDetails
	}
	evKickoffFailed struct{ err error }
	evChunk         struct{ text string }
	evBlueprint     struct{ bp *datatypes.Blueprint }
	evBlueprintErr  struct{ err error }
	evUnitDone      struct {
		idx   int
		files []datatypes.GeneratedFile
	}
	evUnitFailed struct {
		idx  int
		path string
		err  error
	}
	evDeployDone struct {
		url   string
		final bool
	}
	evDeployFailed struct {
		err   error
		final bool
	}
)

// =============================================================================
// Session
// =============================================================================

// Session is one durable build workflow. All exported methods are safe to
// call from any goroutine; they funnel into the owner loop.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	hub  *hub
	cmds chan any

	// Owned exclusively by the run loop.
	snap           *Snapshot
	unitInFlight   bool
	deployInFlight bool
	pauseRequested bool
	kickoffReply   chan error

	// Read by the directory's eviction scan without locking the loop.
	lastActivity atomic.Int64
	activeWork   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// newSession wires a session around an existing snapshot (fresh or
// restored) and starts its owner goroutine.
func newSession(snap *Snapshot, cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     snap.SessionID,
		cfg:    cfg,
		deps:   deps,
		hub:    newHub(cfg.SubscriberBuffer),
		cmds:   make(chan any, 32),
		snap:   snap,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.touch()
	go s.run()
	return s
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Idle reports whether the session is evictable: no transports, no work
// in flight, and no activity inside the idle window.
func (s *Session) Idle(window time.Duration) bool {
	if s.hub.count() > 0 || s.activeWork.Load() {
		return false
	}
	last := time.Unix(0, s.lastActivity.Load())
	return time.Since(last) >= window
}

// send delivers a command unless the session has already stopped.
func (s *Session) send(cmd any) bool {
	select {
	case s.cmds <- cmd:
		return true
	case <-s.done:
		return false
	}
}

// BeginKickoff runs template selection and template fetch, blocking until
// both complete or fail. The error (if any) carries the taxonomy kind the
// gateway maps to an HTTP status. On success the session is in PLANNING.
func (s *Session) BeginKickoff(ctx context.Context, params KickoffParams) error {
	reply := make(chan error, 1)
	if !s.send(cmdBeginKickoff{params: params, reply: reply}) {
		return datatypes.NewAgentError(datatypes.ErrSessionNotFound, "session stopped", nil)
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		// The caller gave up; the session itself keeps going and will
		// record the outcome durably.
		return ctx.Err()
	}
}

// StartPlanning kicks off blueprint generation. Callers subscribe first
// so no chunk is produced before anyone is listening.
func (s *Session) StartPlanning() {
	s.send(cmdStartPlanning{})
}

// Attach registers a transport. The returned replay frame materializes
// current state (status, blueprint, full file snapshot) and is computed
// atomically with the subscription, so the channel carries exactly the
// events that happen after the replay point.
func (s *Session) Attach() (datatypes.ServerFrame, <-chan datatypes.ServerFrame, int, error) {
	reply := make(chan attachResult, 1)
	if !s.send(cmdAttach{reply: reply}) {
		return datatypes.ServerFrame{}, nil, 0,
			datatypes.NewAgentError(datatypes.ErrSessionNotFound, "session stopped", nil)
	}
	res := <-reply
	return res.replay, res.ch, res.subID, nil
}

// Detach removes a transport registered by Attach.
func (s *Session) Detach(subID int) {
	s.send(cmdDetach{subID: subID})
}

// Snapshot returns a copy of current state safe to read from any
// goroutine.
func (s *Session) Snapshot() *Snapshot {
	reply := make(chan *Snapshot, 1)
	if !s.send(cmdSnapshot{reply: reply}) {
		// Stopped sessions served their final state at flush time; the
		// durable store is the fallback for late readers.
		return nil
	}
	return <-reply
}

// HandleFrame applies a client command frame (pause/resume/deploy/...).
func (s *Session) HandleFrame(frame datatypes.ClientFrame) {
	s.send(cmdClientFrame{frame: frame})
}

// Stop flushes state and terminates the owner goroutine. Used by
// eviction and shutdown; in-flight workers are cancelled.
func (s *Session) Stop() {
	reply := make(chan struct{})
	if s.send(cmdStop{reply: reply}) {
		<-reply
	}
}

// =============================================================================
// Owner loop
// =============================================================================

func (s *Session) run() {
	defer close(s.done)

	// A session restored mid-generation picks its work back up; one that
	// died mid-planning cannot resume a half-streamed blueprint and is
	// marked errored for the client to start over.
	switch s.snap.Status {
	case datatypes.StatusGenerating:
		s.dispatchNextUnit()
	case datatypes.StatusPlanning:
		s.failSession(datatypes.NewAgentError(datatypes.ErrBlueprint,
			"planning interrupted by restart", nil))
	}

	for {
		select {
		case cmd := <-s.cmds:
			if stop, ok := cmd.(cmdStop); ok {
				s.flush()
				s.hub.shutdown()
				s.cancel()
				close(stop.reply)
				return
			}
			s.handle(cmd)
		case <-s.ctx.Done():
			s.flush()
			s.hub.shutdown()
			return
		}
	}
}

func (s *Session) handle(cmd any) {
	s.touch()
	switch c := cmd.(type) {
	case cmdBeginKickoff:
		s.handleBeginKickoff(c)
	case cmdStartPlanning:
		s.handleStartPlanning()
	case cmdAttach:
		c.reply <- s.handleAttach()
	case cmdDetach:
		s.hub.unsubscribe(c.subID)
	case cmdSnapshot:
		c.reply <- s.copySnapshot()
	case cmdClientFrame:
		s.handleClientFrame(c.frame)

	case evKickoffReady:
		s.handleKickoffReady(c)
	case evKickoffFailed:
		s.handleKickoffFailed(c.err)
	case evChunk:
		s.hub.publish(datatypes.ServerFrame{Type: datatypes.FrameBlueprintChunk, Chunk: c.text})
	case evBlueprint:
		s.handleBlueprint(c.bp)
	case evBlueprintErr:
		s.activeWork.Store(false)
		s.failSession(datatypes.NewAgentError(datatypes.ErrBlueprint, "blueprint generation failed", c.err))
	case evUnitDone:
		s.handleUnitDone(c)
	case evUnitFailed:
		s.handleUnitFailed(c)
	case evDeployDone:
		s.handleDeployDone(c)
	case evDeployFailed:
		s.handleDeployFailed(c)
	}
}

func (s *Session) handleBeginKickoff(c cmdBeginKickoff) {
	if s.snap.Status != datatypes.StatusPendingTemplate {
		c.reply <- datatypes.NewAgentError(datatypes.ErrInvalidRequest,
			fmt.Sprintf("session already started (status %s)", s.snap.Status), nil)
		return
	}
	s.snap.Query = c.params.Query
	s.snap.Language = c.params.Language
	s.snap.Frameworks = c.params.Frameworks
	s.snap.AgentMode = c.params.AgentMode
	s.snap.UserID = c.params.UserID
	s.kickoffReply = c.reply
	s.activeWork.Store(true)
	go s.kickoffWorker(c.params)
}

func (s *Session) handleKickoffReady(ev evKickoffReady) {
	s.snap.Selection = &ev.selection
	s.snap.Template = ev.template
	s.setStatus(datatypes.StatusPlanning, "template selected: "+ev.template.Name)
	s.persist()
	s.activeWork.Store(false)
	if s.kickoffReply != nil {
		s.kickoffReply <- nil
		s.kickoffReply = nil
	}
}

func (s *Session) handleKickoffFailed(err error) {
	s.activeWork.Store(false)
	s.failSession(err)
	if s.kickoffReply != nil {
		s.kickoffReply <- err
		s.kickoffReply = nil
	}
}

func (s *Session) handleStartPlanning() {
	if s.snap.Status != datatypes.StatusPlanning || s.activeWork.Load() {
		return
	}
	s.activeWork.Store(true)
	go s.blueprintWorker()
}

func (s *Session) handleBlueprint(bp *datatypes.Blueprint) {
	s.activeWork.Store(false)
	s.snap.Blueprint = bp
	s.setStatus(datatypes.StatusGenerating, "blueprint complete: "+bp.Title)
	s.persist()
	s.dispatchNextUnit()
}

func (s *Session) handleAttach() attachResult {
	id, ch := s.hub.subscribe()
	if m := observability.DefaultMetrics; m != nil {
		m.TransportAttached()
	}
	snap := s.copySnapshot()
	progress := snap.Progress()
	replay := datatypes.ServerFrame{
		Type:           datatypes.FrameStateReplay,
		Status:         snap.Status,
		Blueprint:      snap.Blueprint,
		GeneratedFiles: snap.CurrentFiles(),
		Progress:       &progress,
		PreviewURL:     snap.DeploymentURL,
	}
	if snap.LastError != nil {
		replay.Error = snap.LastError.Message
		replay.ErrorKind = string(snap.LastError.Kind)
	}
	return attachResult{replay: replay, ch: ch, subID: id}
}

func (s *Session) handleClientFrame(frame datatypes.ClientFrame) {
	switch frame.Type {
	case datatypes.ClientFramePause:
		s.handlePause()
	case datatypes.ClientFrameResume:
		s.handleResume()
	case datatypes.ClientFramePreview, datatypes.ClientFrameDeploy:
		s.handleDeploy(false)
	case datatypes.ClientFrameRedeploy:
		s.handleRedeploy()
	}
}

func (s *Session) handlePause() {
	if s.snap.Status != datatypes.StatusGenerating {
		s.publishError(datatypes.NewAgentError(datatypes.ErrInvalidRequest,
			fmt.Sprintf("cannot pause in status %s", s.snap.Status), nil))
		return
	}
	s.pauseRequested = true
	if !s.unitInFlight {
		s.applyPause()
	}
	// With a unit in flight the pause lands at the unit boundary.
}

func (s *Session) applyPause() {
	s.pauseRequested = false
	s.setStatus(datatypes.StatusPaused, "generation paused")
	s.persist()
}

func (s *Session) handleResume() {
	if s.snap.Status != datatypes.StatusPaused {
		s.publishError(datatypes.NewAgentError(datatypes.ErrInvalidRequest,
			fmt.Sprintf("cannot resume in status %s", s.snap.Status), nil))
		return
	}
	s.setStatus(datatypes.StatusGenerating, "generation resumed")
	s.persist()
	s.dispatchNextUnit()
}

func (s *Session) handleDeploy(final bool) {
	if s.deployInFlight {
		return
	}
	if len(s.snap.GeneratedFiles) == 0 {
		s.publishError(datatypes.NewAgentError(datatypes.ErrDeployment,
			"nothing to deploy yet", nil))
		return
	}
	if final {
		s.setStatus(datatypes.StatusDeploying, "deploying build")
		s.persist()
	}
	s.deployInFlight = true
	files := s.copySnapshot().CurrentFiles()
	go s.deployWorker(files, final)
}

func (s *Session) handleRedeploy() {
	if !s.snap.Status.Terminal() {
		s.publishError(datatypes.NewAgentError(datatypes.ErrInvalidRequest,
			fmt.Sprintf("redeploy only applies to finished sessions, status is %s", s.snap.Status), nil))
		return
	}
	if len(s.snap.GeneratedFiles) == 0 {
		s.publishError(datatypes.NewAgentError(datatypes.ErrDeployment,
			"no generated files to redeploy", nil))
		return
	}
	s.setStatus(datatypes.StatusDeploying, "redeploying build")
	s.persist()
	s.deployInFlight = true
	files := s.copySnapshot().CurrentFiles()
	go s.deployWorker(files, true)
}

func (s *Session) handleUnitDone(ev evUnitDone) {
	s.unitInFlight = false
	s.activeWork.Store(false)
	s.snap.GeneratedFiles = append(s.snap.GeneratedFiles, ev.files...)
	s.snap.NextUnit = ev.idx + 1
	s.persist()
	if m := observability.DefaultMetrics; m != nil {
		m.FilesGenerated(len(ev.files))
	}

	progress := s.snap.Progress()
	for _, f := range ev.files {
		file := f
		s.hub.publish(datatypes.ServerFrame{
			Type:     datatypes.FrameFileGenerated,
			File:     &file,
			Progress: &progress,
		})
	}
	s.afterUnitBoundary()
}

func (s *Session) handleUnitFailed(ev evUnitFailed) {
	s.unitInFlight = false
	s.activeWork.Store(false)
	failure := datatypes.UnitFailure{FilePath: ev.path, Error: ev.err.Error()}
	s.snap.Failures = append(s.snap.Failures, failure)
	s.snap.NextUnit = ev.idx + 1
	s.persist()

	progress := s.snap.Progress()
	s.hub.publish(datatypes.ServerFrame{
		Type:     datatypes.FrameFileGenerationFailed,
		Failure:  &failure,
		Progress: &progress,
	})
	s.afterUnitBoundary()
}

func (s *Session) afterUnitBoundary() {
	if s.pauseRequested {
		s.applyPause()
		return
	}
	s.dispatchNextUnit()
}

// dispatchNextUnit starts the next unstarted unit, or finishes generation
// when none remain.
func (s *Session) dispatchNextUnit() {
	if s.snap.Status != datatypes.StatusGenerating || s.unitInFlight {
		return
	}
	bp := s.snap.Blueprint
	if bp == nil {
		s.failSession(datatypes.NewAgentError(datatypes.ErrBlueprint, "no blueprint to generate from", nil))
		return
	}
	if s.snap.NextUnit >= len(bp.Files) {
		s.finishGeneration()
		return
	}

	idx := s.snap.NextUnit
	unit := bp.Files[idx]
	donePaths := make([]string, 0, len(s.snap.GeneratedFiles))
	for _, f := range s.copySnapshot().CurrentFiles() {
		donePaths = append(donePaths, f.FilePath)
	}

	s.unitInFlight = true
	s.activeWork.Store(true)
	go s.unitWorker(idx, unit, bp, s.snap.Template, donePaths)
}

func (s *Session) finishGeneration() {
	progress := s.snap.Progress()
	s.hub.publish(datatypes.ServerFrame{
		Type:     datatypes.FrameGenerationComplete,
		Progress: &progress,
	})

	if len(s.snap.GeneratedFiles) == 0 {
		// Every unit failed; there is nothing worth deploying.
		s.failSession(datatypes.NewAgentError(datatypes.ErrFileGeneration,
			fmt.Sprintf("all %d units failed", len(s.snap.Failures)), nil))
		return
	}
	s.handleDeploy(true)
}

func (s *Session) handleDeployDone(ev evDeployDone) {
	s.deployInFlight = false
	s.snap.DeploymentURL = ev.url
	if ev.final {
		s.setStatus(datatypes.StatusCompleted, "deployment complete")
		if m := observability.DefaultMetrics; m != nil {
			m.SessionFinished(string(datatypes.StatusCompleted))
		}
	}
	s.persist()
	s.hub.publish(datatypes.ServerFrame{
		Type:       datatypes.FrameDeploymentComplete,
		PreviewURL: ev.url,
		TunnelURL:  ev.url,
	})
	if !ev.final {
		s.finishIfUnitsExhausted()
	}
}

func (s *Session) handleDeployFailed(ev evDeployFailed) {
	s.deployInFlight = false
	if ev.final {
		// Final deployment failure errors the session but keeps blueprint
		// and files; redeploy can retry without regenerating anything.
		s.failSession(ev.err)
		return
	}
	// A mid-generation preview attempt failing must not halt the build.
	s.publishError(ev.err)
	s.finishIfUnitsExhausted()
}

// finishIfUnitsExhausted runs the final deploy that finishGeneration could
// not start itself. When the last unit lands while a client-requested
// preview deploy is still in flight, finishGeneration's deploy attempt
// bounces off the in-flight guard; without this check the session would
// sit in generating forever once that preview settles.
func (s *Session) finishIfUnitsExhausted() {
	if s.snap.Status != datatypes.StatusGenerating || s.unitInFlight {
		return
	}
	bp := s.snap.Blueprint
	if bp == nil || s.snap.NextUnit < len(bp.Files) {
		return
	}
	s.handleDeploy(true)
}

// =============================================================================
// State helpers (owner goroutine only)
// =============================================================================

func (s *Session) setStatus(status datatypes.SessionStatus, message string) {
	slog.Info("Session status transition",
		"session_id", s.id, "from", s.snap.Status, "to", status)
	s.snap.Status = status
	s.hub.publish(datatypes.ServerFrame{
		Type:    datatypes.FramePhaseUpdate,
		Status:  status,
		Message: message,
	})
}

func (s *Session) failSession(err error) {
	s.snap.LastError = datatypes.RecordFor(err)
	s.setStatus(datatypes.StatusErrored, s.snap.LastError.Message)
	s.persist()
	s.publishError(err)
	if m := observability.DefaultMetrics; m != nil {
		m.SessionFinished(string(datatypes.StatusErrored))
	}
}

func (s *Session) publishError(err error) {
	record := datatypes.RecordFor(err)
	s.hub.publish(datatypes.ServerFrame{
		Type:      datatypes.FrameError,
		Error:     record.Message,
		ErrorKind: string(record.Kind),
	})
}

func (s *Session) persist() {
	if err := s.deps.Store.Save(s.ctx, s.snap); err != nil {
		slog.Error("Failed to persist session snapshot", "session_id", s.id, "error", err)
	}
}

// flush writes the final snapshot before the session leaves memory.
func (s *Session) flush() {
	// The loop context may already be cancelled during shutdown; the
	// flush still has to land.
	if err := s.deps.Store.Save(context.Background(), s.snap); err != nil {
		slog.Error("Failed to flush session snapshot", "session_id", s.id, "error", err)
	}
}

func (s *Session) copySnapshot() *Snapshot {
	cp := *s.snap
	cp.GeneratedFiles = append([]datatypes.GeneratedFile(nil), s.snap.GeneratedFiles...)
	cp.Failures = append([]datatypes.UnitFailure(nil), s.snap.Failures...)
	return &cp
}
