// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/appforge-ai/appforge/services/llm"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

const blueprintSystemPrompt = `You are planning the build of a web application from a starting template.
Produce a complete build plan: every file that must be created or rewritten, the feature list, and short architecture notes.
Plan only files that differ from the template; the template's other files are kept as-is.`

// BlueprintRequest carries everything the planning call needs.
type BlueprintRequest struct {
	Query      string
	Language   string
	Frameworks []string
	Template   *datatypes.TemplateDetails
	Selection  datatypes.TemplateSelection
}

func (r BlueprintRequest) prompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Request:\n%s\n\nTemplate: %s\n", r.Query, r.Template.Name)
	if r.Language != "" {
		fmt.Fprintf(&sb, "Language constraint: %s\n", r.Language)
	}
	if len(r.Frameworks) > 0 {
		fmt.Fprintf(&sb, "Framework constraints: %s\n", strings.Join(r.Frameworks, ", "))
	}
	fmt.Fprintf(&sb, "Project name: %s\nComplexity: %s\nStyle: %s\n\nTemplate files:\n",
		r.Selection.ProjectName, r.Selection.Complexity, r.Selection.Style)
	for _, f := range r.Template.Files {
		fmt.Fprintf(&sb, "- %s\n", f.Path)
	}
	return sb.String()
}

// GenerateBlueprint produces the build plan for a session.
//
// # Description
//
// Streams the raw planning completion token-by-token through onChunk (in
// production order, may be nil) while accumulating it, then decodes the
// accumulated text against the blueprint schema. The call is idempotent;
// the session retries it a bounded number of times on transient provider
// errors.
//
// A chunk-callback error aborts the stream and is returned as-is so the
// caller can distinguish client disconnects from provider failures.
func (p *Planner) GenerateBlueprint(ctx context.Context, req BlueprintRequest,
	onChunk func(chunk string) error) (*datatypes.Blueprint, error) {

	messages := withPlanSchema([]datatypes.Message{
		{Role: "system", Content: blueprintSystemPrompt},
		{Role: "user", Content: req.prompt()},
	})

	var full strings.Builder
	err := p.client.ChatStream(ctx, messages, llm.GenerationParams{}, func(token string) error {
		full.WriteString(token)
		if onChunk != nil {
			if cbErr := onChunk(token); cbErr != nil {
				return cbErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blueprint stream failed: %w", err)
	}

	var bp datatypes.Blueprint
	if err := decodeBlueprint(full.String(), &bp); err != nil {
		return nil, fmt.Errorf("blueprint decode failed: %w", err)
	}
	if bp.Title == "" || len(bp.Files) == 0 {
		return nil, fmt.Errorf("blueprint is missing title or file list")
	}
	return &bp, nil
}

// withPlanSchema embeds the blueprint schema instruction. Streaming calls
// cannot use the structured-output path (tool forcing disables token
// streaming on some backends), so the schema rides in the prompt and the
// result is validated after accumulation.
func withPlanSchema(messages []datatypes.Message) []datatypes.Message {
	instruction := fmt.Sprintf(
		"Respond with a single JSON object matching this JSON Schema and nothing else:\n%s",
		string(blueprintSchema))
	out := make([]datatypes.Message, len(messages))
	copy(out, messages)
	out[0].Content = out[0].Content + "\n\n" + instruction
	return out
}

// decodeBlueprint shares the balanced-brace extraction the structured
// backends use, so trailing prose around the object cannot corrupt the
// decode.
func decodeBlueprint(text string, bp *datatypes.Blueprint) error {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return fmt.Errorf("no JSON object in planning completion: %w", err)
	}
	return json.Unmarshal([]byte(raw), bp)
}

// GenerateUnit produces the file(s) for one blueprint entry.
//
// # Description
//
// One retryable step of the generation orchestrator. The prompt carries
// the blueprint context plus the current state of already-generated file
// paths so regenerated files stay consistent with the rest of the build.
func (p *Planner) GenerateUnit(ctx context.Context, bp *datatypes.Blueprint,
	template *datatypes.TemplateDetails, unit datatypes.BlueprintFile,
	donePaths []string) ([]datatypes.GeneratedFile, error) {

	var sb strings.Builder
	fmt.Fprintf(&sb, "App: %s\n%s\n\nGenerate the complete contents of %s.\nPurpose: %s\n",
		bp.Title, bp.Description, unit.Path, unit.Purpose)
	if bp.ArchitectureNotes != "" {
		fmt.Fprintf(&sb, "Architecture notes: %s\n", bp.ArchitectureNotes)
	}
	if len(donePaths) > 0 {
		fmt.Fprintf(&sb, "Already generated: %s\n", strings.Join(donePaths, ", "))
	}
	fmt.Fprintf(&sb, "Template: %s\n", template.Name)

	messages := []datatypes.Message{
		{Role: "system", Content: "You write production-quality application source files. Emit complete files, never fragments."},
		{Role: "user", Content: sb.String()},
	}

	var raw struct {
		Files []datatypes.GeneratedFile `json:"files"`
	}
	if err := p.client.GenerateStructured(ctx, messages, unitSchema, &raw); err != nil {
		return nil, fmt.Errorf("unit generation for %s failed: %w", unit.Path, err)
	}
	if len(raw.Files) == 0 {
		return nil, fmt.Errorf("unit generation for %s returned no files", unit.Path)
	}
	return raw.Files, nil
}
