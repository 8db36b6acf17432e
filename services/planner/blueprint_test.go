// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

func sampleRequest() BlueprintRequest {
	return BlueprintRequest{
		Query: "a todo app",
		Template: &datatypes.TemplateDetails{
			Name: "react-starter",
			Files: []datatypes.TemplateFile{
				{Path: "index.html"}, {Path: "src/App.tsx"},
			},
		},
		Selection: datatypes.TemplateSelection{
			Template:    "react-starter",
			ProjectName: "todo-app",
			Complexity:  datatypes.Complexity("moderate"),
		},
	}
}

const blueprintJSON = `{
	"title": "Todo App",
	"description": "a small todo list",
	"fileList": [
		{"path": "src/App.tsx", "purpose": "root component"},
		{"path": "src/store.ts", "purpose": "state"}
	],
	"features": ["add todos", "complete todos"]
}`

func TestGenerateBlueprintStreamsAndDecodes(t *testing.T) {
	client := &fakeLLM{streamText: "Here is the plan:\n" + blueprintJSON}
	p := New(client)

	var streamed strings.Builder
	bp, err := p.GenerateBlueprint(context.Background(), sampleRequest(), func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Todo App", bp.Title)
	require.Len(t, bp.Files, 2)
	assert.Equal(t, "src/App.tsx", bp.Files[0].Path)

	// Every token reached the callback, prose included.
	assert.Equal(t, "Here is the plan:\n"+blueprintJSON, streamed.String())

	// The template's file inventory rides in the prompt.
	prompt := client.lastMessages[len(client.lastMessages)-1].Content
	assert.Contains(t, prompt, "index.html")
	assert.Contains(t, prompt, "todo-app")
}

func TestGenerateBlueprintNilCallback(t *testing.T) {
	client := &fakeLLM{streamText: blueprintJSON}
	p := New(client)

	bp, err := p.GenerateBlueprint(context.Background(), sampleRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Todo App", bp.Title)
}

func TestGenerateBlueprintRejectsEmptyPlan(t *testing.T) {
	client := &fakeLLM{streamText: `{"title": "Empty", "description": "x", "fileList": []}`}
	p := New(client)

	_, err := p.GenerateBlueprint(context.Background(), sampleRequest(), nil)
	assert.Error(t, err)
}

func TestGenerateBlueprintIgnoresTrailingProse(t *testing.T) {
	client := &fakeLLM{streamText: blueprintJSON +
		"\nThat covers every file. Run `npm start` and you get {the app}."}
	p := New(client)

	bp, err := p.GenerateBlueprint(context.Background(), sampleRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Todo App", bp.Title)
	require.Len(t, bp.Files, 2)
}

func TestGenerateBlueprintRejectsNonJSON(t *testing.T) {
	client := &fakeLLM{streamText: "I cannot plan this application."}
	p := New(client)

	_, err := p.GenerateBlueprint(context.Background(), sampleRequest(), nil)
	assert.Error(t, err)
}

func TestGenerateBlueprintPropagatesStreamError(t *testing.T) {
	client := &fakeLLM{streamErr: errors.New("connection reset")}
	p := New(client)

	_, err := p.GenerateBlueprint(context.Background(), sampleRequest(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGenerateBlueprintCallbackAbortsStream(t *testing.T) {
	client := &fakeLLM{streamText: blueprintJSON}
	p := New(client)

	abort := errors.New("client went away")
	_, err := p.GenerateBlueprint(context.Background(), sampleRequest(), func(string) error {
		return abort
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, abort)
}

func TestGenerateUnit(t *testing.T) {
	bp := &datatypes.Blueprint{
		Title:       "Todo App",
		Description: "a small todo list",
		Files: []datatypes.BlueprintFile{
			{Path: "src/App.tsx", Purpose: "root component"},
		},
	}
	unit := bp.Files[0]
	template := sampleRequest().Template

	t.Run("returns generated files", func(t *testing.T) {
		client := &fakeLLM{structuredPayload: `{"files": [
			{"file_path": "src/App.tsx", "file_contents": "export default function App() {}", "explanation": "root"}
		]}`}
		p := New(client)

		files, err := p.GenerateUnit(context.Background(), bp, template, unit,
			[]string{"src/store.ts"})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "src/App.tsx", files[0].FilePath)

		prompt := client.lastMessages[len(client.lastMessages)-1].Content
		assert.Contains(t, prompt, "src/store.ts", "already generated paths inform the prompt")
	})

	t.Run("rejects empty result", func(t *testing.T) {
		client := &fakeLLM{structuredPayload: `{"files": []}`}
		p := New(client)

		_, err := p.GenerateUnit(context.Background(), bp, template, unit, nil)
		assert.Error(t, err)
	})

	t.Run("propagates inference error", func(t *testing.T) {
		client := &fakeLLM{structuredErr: errors.New("quota exceeded")}
		p := New(client)

		_, err := p.GenerateUnit(context.Background(), bp, template, unit, nil)
		assert.Error(t, err)
	})
}
