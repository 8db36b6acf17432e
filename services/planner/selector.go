// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner drives the two AI inference steps that precede code
// generation: picking a starting template for a user query and producing
// the blueprint (the structured build plan) from that choice. It also
// generates the per-file units during the build itself.
//
// # Failure Policy
//
// SelectTemplate never returns an error for AI failures. A selection
// failure degrades to an empty template name with human-readable
// reasoning, letting the session abort cleanly instead of crashing
// mid-kickoff. Blueprint and unit generation do return errors; their
// retry policy lives with the caller, which knows both calls are
// idempotent.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/appforge-ai/appforge/services/llm"
	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// Planner runs the AI planning calls for a build session.
type Planner struct {
	client llm.Client
}

// New creates a Planner backed by the given LLM client.
func New(client llm.Client) *Planner {
	return &Planner{client: client}
}

const selectorSystemPrompt = `You pick the best starting template for a requested application.
Rules:
- Prefer the template that requires the LEAST modification to satisfy the request.
- Only choose a name that appears in the provided catalog. If nothing fits, set selectedTemplateName to null.
- Always explain your reasoning.
- projectName must be a short, lowercase, hyphenated name derived from the request.`

// SelectTemplate chooses the best-fit template for the query.
//
// # Description
//
// Runs one structured inference call over the catalog. Degrades rather
// than fails:
//   - Empty catalog short-circuits to an empty selection without any AI call.
//   - Any AI error produces an empty selection carrying the error as reasoning.
//   - A model-invented name not present in the catalog is discarded
//     (defensive validation, not trust-the-model).
func (p *Planner) SelectTemplate(ctx context.Context, query string,
	catalog []datatypes.TemplateDescriptor) datatypes.TemplateSelection {

	if len(catalog) == 0 {
		slog.Info("Template catalog is empty, skipping selection call")
		return datatypes.TemplateSelection{
			Reasoning:   "no templates are available in the catalog",
			ProjectName: fallbackProjectName(query),
		}
	}

	var sb strings.Builder
	for _, t := range catalog {
		fmt.Fprintf(&sb, "- %s (language: %s; frameworks: %s)\n  when to select: %s\n  usage: %s\n",
			t.Name, t.Language, strings.Join(t.Frameworks, ", "),
			t.Description.Selection, t.Description.Usage)
	}

	messages := []datatypes.Message{
		{Role: "system", Content: selectorSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Request:\n%s\n\nCatalog:\n%s", query, sb.String())},
	}

	var raw struct {
		Template   *string                  `json:"selectedTemplateName"`
		Reasoning  string                   `json:"reasoning"`
		UseCase    datatypes.UseCase        `json:"useCase"`
		Complexity datatypes.Complexity     `json:"complexity"`
		Style      datatypes.StyleSelection `json:"styleSelection"`
		Project    string                   `json:"projectName"`
	}
	if err := p.client.GenerateStructured(ctx, messages, selectionSchema, &raw); err != nil {
		slog.Warn("Template selection inference failed, degrading to no selection", "error", err)
		return datatypes.TemplateSelection{
			Reasoning:   fmt.Sprintf("template selection failed: %v", err),
			ProjectName: fallbackProjectName(query),
		}
	}

	selection := datatypes.TemplateSelection{
		Reasoning:   raw.Reasoning,
		UseCase:     raw.UseCase,
		Complexity:  raw.Complexity,
		Style:       raw.Style,
		ProjectName: raw.Project,
	}
	if selection.ProjectName == "" {
		selection.ProjectName = fallbackProjectName(query)
	}

	if raw.Template == nil || *raw.Template == "" {
		return selection
	}

	for _, t := range catalog {
		if t.Name == *raw.Template {
			selection.Template = t.Name
			return selection
		}
	}

	slog.Warn("Model selected a template not present in the catalog, discarding",
		"selected", *raw.Template)
	selection.Reasoning = fmt.Sprintf(
		"model chose %q which is not in the catalog; treating as no selection. %s",
		*raw.Template, selection.Reasoning)
	return selection
}

// fallbackProjectName derives a usable project name when the model did
// not provide one (or was never called).
func fallbackProjectName(query string) string {
	words := strings.Fields(strings.ToLower(query))
	kept := make([]string, 0, 4)
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if w == "" {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 4 {
			break
		}
	}
	if len(kept) == 0 {
		return "untitled-app"
	}
	return strings.Join(kept, "-")
}
