// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/planner"
)

// =============================================================================
// Dependency fakes
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
	mu        sync.Mutex
	selection datatypes.TemplateSelection
	blueprint *datatypes.Blueprint
	chunks    []string
	bpErr     error
}

func (f *fakePlanner) SelectTemplate(_ context.Context, _ string,
	_ []datatypes.TemplateDescriptor) datatypes.TemplateSelection {
	return f.selection
}

func (f *fakePlanner) GenerateBlueprint(_ context.Context, _ planner.BlueprintRequest,
	onChunk func(chunk string) error) (*datatypes.Blueprint, error) {

	if f.bpErr != nil {
		return nil, f.bpErr
	}
	for _, c := range f.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return nil, err
			}
		}
	}
	return f.blueprint, nil
}

func (f *fakePlanner) GenerateUnit(_ context.Context, _ *datatypes.Blueprint,
	_ *datatypes.TemplateDetails, unit datatypes.BlueprintFile,
	_ []string) ([]datatypes.GeneratedFile, error) {

	return []datatypes.GeneratedFile{{
		FilePath:     unit.Path,
		FileContents: "content of " + unit.Path,
		Explanation:  unit.Purpose,
	}}, nil
}

type fakeDeployer struct {
	url string
	err error
}

func (f *fakeDeployer) Deploy(_ context.Context, _ string,
	_ []datatypes.GeneratedFile) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// =============================================================================
// Fixtures
// =============================================================================

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
			},
		},
		chunks: []string{"{\"title\":", "\"Todo App\"}"},
	}
	deployer := &fakeDeployer{url: "https://preview.example.com/todo-app"}
	return catalog, p, deployer
}

func testDirectory(t *testing.T, catalog *fakeCatalog, p *fakePlanner,
	deployer *fakeDeployer) *agent.Directory {
	t.Helper()

	store, err := agent.NewBadgerStore(agent.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := agent.NewDirectory(agent.Config{
		UnitBackoff:      time.Millisecond,
		BlueprintBackoff: time.Millisecond,
		IdleTimeout:      time.Hour,
	}, agent.Deps{
		Catalog:  catalog,
		Planner:  p,
		Deployer: deployer,
		Store:    store,
	})
	t.Cleanup(dir.Close)
	return dir
}

// testRouter wires the agent routes the way routes.SetupRoutes does, minus
// auth, so handler behavior is tested in isolation.
func testRouter(dir *agent.Directory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/agent", HandleAgentKickoff(dir))
	router.GET("/v1/agent/:agentId/ws", HandleAgentWebsocket(dir))
	router.GET("/v1/agent/:agentId/progress", HandleAgentProgress(dir))
	router.GET("/v1/agent/:agentId/connect", HandleAgentConnect(dir))
	return router
}

var errBoom = errors.New("boom")
