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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/planner"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCatalog struct {
	templates []datatypes.TemplateDescriptor
	details   map[string]*datatypes.TemplateDetails
	listErr   error
}

func (f *fakeCatalog) List(_ context.Context) ([]datatypes.TemplateDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.templates, nil
}

func (f *fakeCatalog) Details(_ context.Context, name string) (*datatypes.TemplateDetails, error) {
	d, ok := f.details[name]
	if !ok {
		return nil, datatypes.NewAgentError(datatypes.ErrTemplateFetch, "no details for "+name, nil)
	}
	return d, nil
}

type fakePlanner struct {
	mu         sync.Mutex
	selection  datatypes.TemplateSelection
	blueprint  *datatypes.Blueprint
	chunks     []string
	bpFailures int
	failPaths  map[string]bool
	unitGate   chan struct{}
	unitCalls  []string
}

func (f *fakePlanner) SelectTemplate(_ context.Context, _ string,
	_ []datatypes.TemplateDescriptor) datatypes.TemplateSelection {
	return f.selection
}

func (f *fakePlanner) GenerateBlueprint(_ context.Context, _ planner.BlueprintRequest,
	onChunk func(chunk string) error) (*datatypes.Blueprint, error) {

	f.mu.Lock()
	if f.bpFailures > 0 {
		f.bpFailures--
		f.mu.Unlock()
		return nil, errors.New("provider unavailable")
	}
	f.mu.Unlock()

	for _, c := range f.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return nil, err
			}
		}
	}
	return f.blueprint, nil
}

func (f *fakePlanner) GenerateUnit(ctx context.Context, _ *datatypes.Blueprint,
	_ *datatypes.TemplateDetails, unit datatypes.BlueprintFile,
	_ []string) ([]datatypes.GeneratedFile, error) {

	f.mu.Lock()
	f.unitCalls = append(f.unitCalls, unit.Path)
	gate := f.unitGate
	fail := f.failPaths[unit.Path]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("inference failed")
	}
	return []datatypes.GeneratedFile{{
		FilePath:     unit.Path,
		FileContents: "content of " + unit.Path,
		Explanation:  unit.Purpose,
	}}, nil
}

func (f *fakePlanner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unitCalls...)
}

type fakeDeployer struct {
	mu    sync.Mutex
	url   string
	err   error
	gate  chan struct{}
	calls [][]datatypes.GeneratedFile
}

func (f *fakeDeployer) Deploy(ctx context.Context, _ string,
	files []datatypes.GeneratedFile) (string, error) {

	f.mu.Lock()
	f.calls = append(f.calls, files)
	gate := f.gate
	err := f.err
	url := f.url
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

func (f *fakeDeployer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDeployer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// =============================================================================
// Helpers
// =============================================================================

func quickConfig() Config {
	return Config{
		UnitBackoff:      time.Millisecond,
		BlueprintBackoff: time.Millisecond,
		IdleTimeout:      time.Hour,
	}
}

func standardFixtures() (*fakeCatalog, *fakePlanner, *fakeDeployer) {
	catalog := &fakeCatalog{
		templates: []datatypes.TemplateDescriptor{
			{Name: "react-starter", Language: "typescript", Frameworks: []string{"react"}},
		},
		details: map[string]*datatypes.TemplateDetails{
			"react-starter": {
				Name:  "react-starter",
				Files: []datatypes.TemplateFile{{Path: "index.html", Contents: "<html></html>"}},
			},
		},
	}
	p := &fakePlanner{
		selection: datatypes.TemplateSelection{
			Template:    "react-starter",
			Reasoning:   "closest match",
			ProjectName: "todo-app",
		},
		blueprint: &datatypes.Blueprint{
			Title:       "Todo App",
			Description: "a todo list",
			Files: []datatypes.BlueprintFile{
				{Path: "src/App.tsx", Purpose: "root component"},
				{Path: "src/store.ts", Purpose: "state"},
				{Path: "src/api.ts", Purpose: "client"},
			},
		},
		chunks: []string{"{\"title\":", "\"Todo App\"}"},
	}
	deployer := &fakeDeployer{url: "https://preview.example.com/todo-app"}
	return catalog, p, deployer
}

func testDirectory(t *testing.T, catalog *fakeCatalog, p *fakePlanner,
	deployer *fakeDeployer) *Directory {
	t.Helper()

	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := NewDirectory(quickConfig(), Deps{
		Catalog:  catalog,
		Planner:  p,
		Deployer: deployer,
		Store:    store,
	})
	t.Cleanup(dir.Close)
	return dir
}

func waitStatus(t *testing.T, sess *Session, want datatypes.SessionStatus) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last datatypes.SessionStatus
	for time.Now().Before(deadline) {
		if snap := sess.Snapshot(); snap != nil {
			if snap.Status == want {
				return snap
			}
			last = snap.Status
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, last status %s", want, last)
	return nil
}

func kickedOffSession(t *testing.T, dir *Directory) *Session {
	t.Helper()
	sess := dir.Create()
	err := sess.BeginKickoff(context.Background(), KickoffParams{Query: "build me a todo app"})
	require.NoError(t, err)
	return sess
}

// =============================================================================
// Tests
// =============================================================================

func TestSessionHappyPath(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	replay, events, subID, err := sess.Attach()
	require.NoError(t, err)
	defer sess.Detach(subID)

	assert.Equal(t, datatypes.FrameStateReplay, replay.Type)
	assert.Equal(t, datatypes.StatusPlanning, replay.Status)

	sess.StartPlanning()
	snap := waitStatus(t, sess, datatypes.StatusCompleted)

	require.Len(t, snap.GeneratedFiles, 3)
	assert.Equal(t, "https://preview.example.com/todo-app", snap.DeploymentURL)
	assert.Equal(t, 3, snap.NextUnit)
	assert.Empty(t, snap.Failures)
	assert.Equal(t, datatypes.Progress{CompletedFiles: 3, TotalFiles: 3}, snap.Progress())
	assert.Equal(t, 1, deployer.callCount())

	// Blueprint chunks then files arrive in production order.
	var chunks []string
	var filePaths []string
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case frame, ok := <-events:
			if !ok {
				done = true
				break
			}
			switch frame.Type {
			case datatypes.FrameBlueprintChunk:
				chunks = append(chunks, frame.Chunk)
			case datatypes.FrameFileGenerated:
				filePaths = append(filePaths, frame.File.FilePath)
			case datatypes.FrameDeploymentComplete:
				assert.Equal(t, "https://preview.example.com/todo-app", frame.PreviewURL)
				done = true
			}
		case <-deadline:
			t.Fatal("timed out draining frames")
		}
	}
	assert.Equal(t, []string{"{\"title\":", "\"Todo App\"}"}, chunks)
	assert.Equal(t, []string{"src/App.tsx", "src/store.ts", "src/api.ts"}, filePaths)
}

func TestKickoffCatalogUnavailable(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	catalog.listErr = datatypes.NewAgentError(datatypes.ErrCatalogUnavailable, "catalog down", nil)
	dir := testDirectory(t, catalog, p, deployer)

	sess := dir.Create()
	err := sess.BeginKickoff(context.Background(), KickoffParams{Query: "anything"})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCatalogUnavailable, datatypes.KindOf(err))

	snap := waitStatus(t, sess, datatypes.StatusErrored)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, datatypes.ErrCatalogUnavailable, snap.LastError.Kind)
}

func TestKickoffNoSuitableTemplate(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	catalog.templates = nil
	p.selection = datatypes.TemplateSelection{Reasoning: "no templates are available"}
	dir := testDirectory(t, catalog, p, deployer)

	sess := dir.Create()
	err := sess.BeginKickoff(context.Background(), KickoffParams{Query: "a spaceship"})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrNoSuitableTemplate, datatypes.KindOf(err))

	// The failure is durable, not just an HTTP response.
	snap := waitStatus(t, sess, datatypes.StatusErrored)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, datatypes.ErrNoSuitableTemplate, snap.LastError.Kind)
}

func TestKickoffExplicitTemplateNotInCatalog(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	dir := testDirectory(t, catalog, p, deployer)

	sess := dir.Create()
	err := sess.BeginKickoff(context.Background(), KickoffParams{
		Query:            "todo app",
		SelectedTemplate: "vue-starter",
	})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrNoSuitableTemplate, datatypes.KindOf(err))
}

func TestKickoffExplicitTemplateSkipsSelection(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	// A planner selection that would fail if consulted.
	p.selection = datatypes.TemplateSelection{}
	dir := testDirectory(t, catalog, p, deployer)

	sess := dir.Create()
	err := sess.BeginKickoff(context.Background(), KickoffParams{
		Query:            "todo app",
		SelectedTemplate: "react-starter",
	})
	require.NoError(t, err)

	snap := sess.Snapshot()
	require.NotNil(t, snap.Selection)
	assert.Equal(t, "react-starter", snap.Selection.Template)
}

func TestBlueprintRetriesThenSucceeds(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	p.bpFailures = 1
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()

	snap := waitStatus(t, sess, datatypes.StatusCompleted)
	assert.Len(t, snap.GeneratedFiles, 3)
}

func TestBlueprintExhaustsRetries(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	p.bpFailures = 10
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()

	snap := waitStatus(t, sess, datatypes.StatusErrored)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, datatypes.ErrBlueprint, snap.LastError.Kind)
}

func TestPartialFailureKeepsOtherFiles(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	p.failPaths = map[string]bool{"src/store.ts": true}
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()

	snap := waitStatus(t, sess, datatypes.StatusCompleted)
	require.Len(t, snap.GeneratedFiles, 2)
	require.Len(t, snap.Failures, 1)
	assert.Equal(t, "src/store.ts", snap.Failures[0].FilePath)
	assert.Equal(t, datatypes.Progress{CompletedFiles: 2, TotalFiles: 3}, snap.Progress())

	// The failed unit burned all its attempts before being recorded.
	attempts := 0
	for _, path := range p.calls() {
		if path == "src/store.ts" {
			attempts++
		}
	}
	assert.Equal(t, 3, attempts)
}

func TestAllUnitsFailErrorsSession(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	p.failPaths = map[string]bool{
		"src/App.tsx": true, "src/store.ts": true, "src/api.ts": true,
	}
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()

	snap := waitStatus(t, sess, datatypes.StatusErrored)
	assert.Empty(t, snap.GeneratedFiles)
	assert.Len(t, snap.Failures, 3)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, datatypes.ErrFileGeneration, snap.LastError.Kind)
	assert.Equal(t, 0, deployer.callCount())
}

func TestPauseLandsAtUnitBoundary(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	gate := make(chan struct{}, 8)
	p.unitGate = gate
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()
	waitStatus(t, sess, datatypes.StatusGenerating)

	// Pause while the first unit is still in flight, then let it finish.
	sess.HandleFrame(datatypes.ClientFrame{Type: datatypes.ClientFramePause})
	gate <- struct{}{}

	snap := waitStatus(t, sess, datatypes.StatusPaused)
	assert.Len(t, snap.GeneratedFiles, 1)
	assert.Equal(t, 1, snap.NextUnit)

	// Resume continues with the next unstarted unit, no redo, no skip.
	sess.HandleFrame(datatypes.ClientFrame{Type: datatypes.ClientFrameResume})
	gate <- struct{}{}
	gate <- struct{}{}

	snap = waitStatus(t, sess, datatypes.StatusCompleted)
	assert.Len(t, snap.GeneratedFiles, 3)
	assert.Equal(t, []string{"src/App.tsx", "src/store.ts", "src/api.ts"}, p.calls())
}

func TestPauseOutsideGeneratingIsRejected(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	_, events, subID, err := sess.Attach()
	require.NoError(t, err)
	defer sess.Detach(subID)

	sess.HandleFrame(datatypes.ClientFrame{Type: datatypes.ClientFramePause})

	select {
	case frame := <-events:
		assert.Equal(t, datatypes.FrameError, frame.Type)
		assert.Equal(t, string(datatypes.ErrInvalidRequest), frame.ErrorKind)
	case <-time.After(time.Second):
		t.Fatal("expected an error frame for pause while planning")
	}
	assert.Equal(t, datatypes.StatusPlanning, sess.Snapshot().Status)
}

func TestReattachMidGenerationReplaysState(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	gate := make(chan struct{}, 8)
	p.unitGate = gate
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()
	waitStatus(t, sess, datatypes.StatusGenerating)

	gate <- struct{}{}
	for sess.Snapshot().NextUnit < 1 {
		time.Sleep(2 * time.Millisecond)
	}

	// A fresh transport sees everything it missed in one replay frame.
	replay, events, subID, err := sess.Attach()
	require.NoError(t, err)
	defer sess.Detach(subID)

	assert.Equal(t, datatypes.FrameStateReplay, replay.Type)
	assert.Equal(t, datatypes.StatusGenerating, replay.Status)
	require.Len(t, replay.GeneratedFiles, 1)
	assert.Equal(t, "src/App.tsx", replay.GeneratedFiles[0].FilePath)
	require.NotNil(t, replay.Progress)
	assert.Equal(t, 1, replay.Progress.CompletedFiles)

	// And only the events after the replay point on the live channel.
	gate <- struct{}{}
	gate <- struct{}{}
	deadline := time.After(5 * time.Second)
	var filePaths []string
	for len(filePaths) < 2 {
		select {
		case frame := <-events:
			if frame.Type == datatypes.FrameFileGenerated {
				filePaths = append(filePaths, frame.File.FilePath)
			}
		case <-deadline:
			t.Fatal("timed out waiting for remaining file events")
		}
	}
	assert.Equal(t, []string{"src/store.ts", "src/api.ts"}, filePaths)
}

func TestReplayIsIdempotent(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()
	waitStatus(t, sess, datatypes.StatusCompleted)

	first, _, id1, err := sess.Attach()
	require.NoError(t, err)
	sess.Detach(id1)
	second, _, id2, err := sess.Attach()
	require.NoError(t, err)
	sess.Detach(id2)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.GeneratedFiles, second.GeneratedFiles)
	assert.Equal(t, first.Progress, second.Progress)
	assert.Equal(t, first.PreviewURL, second.PreviewURL)
}

func TestFinalDeployFailurePreservesFiles(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	deployer.setErr(datatypes.NewAgentError(datatypes.ErrDeployment, "sandbox quota exceeded", nil))
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()

	snap := waitStatus(t, sess, datatypes.StatusErrored)
	assert.Len(t, snap.GeneratedFiles, 3)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, datatypes.ErrDeployment, snap.LastError.Kind)

	// Redeploy retries deployment without regenerating anything.
	deployer.setErr(nil)
	unitCallsBefore := len(p.calls())
	sess.HandleFrame(datatypes.ClientFrame{Type: datatypes.ClientFrameRedeploy})

	snap = waitStatus(t, sess, datatypes.StatusCompleted)
	assert.Equal(t, "https://preview.example.com/todo-app", snap.DeploymentURL)
	assert.Equal(t, unitCallsBefore, len(p.calls()))
}

func TestClientDeployRacingLastUnitStillCompletes(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	unitGate := make(chan struct{}, 8)
	p.unitGate = unitGate
	deployGate := make(chan struct{})
	deployer.gate = deployGate
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()
	waitStatus(t, sess, datatypes.StatusGenerating)

	// Land the first two units, then request a deploy that stays in
	// flight while the last unit finishes behind it.
	unitGate <- struct{}{}
	unitGate <- struct{}{}
	for sess.Snapshot().NextUnit < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	sess.HandleFrame(datatypes.ClientFrame{Type: datatypes.ClientFrameDeploy})
	for deployer.callCount() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	unitGate <- struct{}{}
	for sess.Snapshot().NextUnit < 3 {
		time.Sleep(2 * time.Millisecond)
	}

	// Releasing the mid-generation deploy must still drive the session
	// through the final deploy instead of leaving it generating forever.
	close(deployGate)
	snap := waitStatus(t, sess, datatypes.StatusCompleted)
	assert.Equal(t, "https://preview.example.com/todo-app", snap.DeploymentURL)
	assert.Equal(t, 2, deployer.callCount())
	assert.Len(t, snap.GeneratedFiles, 3)
}

func TestRedeployRequiresTerminalStatus(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	_, events, subID, err := sess.Attach()
	require.NoError(t, err)
	defer sess.Detach(subID)

	sess.HandleFrame(datatypes.ClientFrame{Type: datatypes.ClientFrameRedeploy})

	select {
	case frame := <-events:
		assert.Equal(t, datatypes.FrameError, frame.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error frame")
	}
}

func TestGeneratedFilesAppendOnly(t *testing.T) {
	catalog, p, deployer := standardFixtures()
	dir := testDirectory(t, catalog, p, deployer)

	sess := kickedOffSession(t, dir)
	sess.StartPlanning()

	var prev int
	for {
		snap := sess.Snapshot()
		require.GreaterOrEqual(t, len(snap.GeneratedFiles), prev,
			"generated files must never shrink")
		prev = len(snap.GeneratedFiles)
		if snap.Status.Terminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
}
