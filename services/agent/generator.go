// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
	"github.com/appforge-ai/appforge/services/orchestrator/observability"
	"github.com/appforge-ai/appforge/services/planner"
)

// Pipeline workers. Each runs off the owner goroutine, does exactly one
// blocking job, and posts one terminal event back. Workers read only the
// immutable arguments they were handed; session state stays with the loop.

// kickoffWorker resolves the template for a new session: catalog list,
// selection (AI or caller override), then the full template fetch.
func (s *Session) kickoffWorker(params KickoffParams) {
	catalog, err := s.deps.Catalog.List(s.ctx)
	if err != nil {
		s.send(evKickoffFailed{err: err})
		return
	}

	var selection datatypes.TemplateSelection
	if params.SelectedTemplate != "" {
		// Explicit override skips the AI call but still has to name a real
		// catalog entry.
		found := false
		for _, t := range catalog {
			if t.Name == params.SelectedTemplate {
				found = true
				break
			}
		}
		if !found {
			s.send(evKickoffFailed{err: datatypes.NewAgentError(datatypes.ErrNoSuitableTemplate,
				fmt.Sprintf("selected template %q not found in catalog", params.SelectedTemplate), nil)})
			return
		}
		selection = datatypes.TemplateSelection{
			Template:    params.SelectedTemplate,
			Reasoning:   "template explicitly selected by the caller",
			ProjectName: params.SelectedTemplate,
		}
	} else {
		selection = s.deps.Planner.SelectTemplate(s.ctx, params.Query, catalog)
	}

	if selection.Template == "" {
		s.send(evKickoffFailed{err: datatypes.NewAgentError(datatypes.ErrNoSuitableTemplate,
			"no suitable template: "+selection.Reasoning, nil)})
		return
	}

	details, err := s.deps.Catalog.Details(s.ctx, selection.Template)
	if err != nil {
		s.send(evKickoffFailed{err: datatypes.NewAgentError(datatypes.ErrTemplateFetch,
			fmt.Sprintf("fetch template %q", selection.Template), err)})
		return
	}

	s.send(evKickoffReady{selection: selection, template: details})
}

// blueprintWorker generates the build plan, retrying a bounded number of
// times. Chunks stream through the hub as they arrive; on a retry the
// client simply sees the plan text start over.
func (s *Session) blueprintWorker() {
	snap := s.Snapshot()
	if snap == nil || snap.Template == nil || snap.Selection == nil {
		s.send(evBlueprintErr{err: fmt.Errorf("session has no resolved template")})
		return
	}
	req := planner.BlueprintRequest{
		Query:      snap.Query,
		Language:   snap.Language,
		Frameworks: snap.Frameworks,
		Template:   snap.Template,
		Selection:  *snap.Selection,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.BlueprintAttempts; attempt++ {
		bp, err := s.deps.Planner.GenerateBlueprint(s.ctx, req, func(chunk string) error {
			s.send(evChunk{text: chunk})
			return nil
		})
		if err == nil {
			s.send(evBlueprint{bp: bp})
			return
		}
		lastErr = err
		slog.Warn("Blueprint generation attempt failed",
			"session_id", s.id, "attempt", attempt, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.GenerationRetry("blueprint")
		}
		if attempt < s.cfg.BlueprintAttempts && !s.sleep(s.cfg.BlueprintBackoff) {
			break
		}
	}
	s.send(evBlueprintErr{err: lastErr})
}

// unitWorker generates one blueprint unit with exponential-backoff
// retries. A unit that exhausts its attempts is recorded as a partial
// failure; the session moves on to the next unit either way.
func (s *Session) unitWorker(idx int, unit datatypes.BlueprintFile,
	bp *datatypes.Blueprint, template *datatypes.TemplateDetails, donePaths []string) {

	backoff := s.cfg.UnitBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.UnitAttempts; attempt++ {
		files, err := s.deps.Planner.GenerateUnit(s.ctx, bp, template, unit, donePaths)
		if err == nil {
			s.send(evUnitDone{idx: idx, files: files})
			return
		}
		lastErr = err
		slog.Warn("Unit generation attempt failed",
			"session_id", s.id, "path", unit.Path, "attempt", attempt, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.GenerationRetry("unit")
		}
		if attempt < s.cfg.UnitAttempts {
			if !s.sleep(backoff) {
				break
			}
			backoff *= 2
		}
	}
	s.send(evUnitFailed{
		idx:  idx,
		path: unit.Path,
		err: datatypes.NewAgentError(datatypes.ErrFileGeneration,
			fmt.Sprintf("unit %s failed after %d attempts", unit.Path, s.cfg.UnitAttempts), lastErr),
	})
}

// deployWorker ships the current file set to the deployer.
func (s *Session) deployWorker(files []datatypes.GeneratedFile, final bool) {
	url, err := s.deps.Deployer.Deploy(s.ctx, s.id, files)
	if err != nil {
		s.send(evDeployFailed{err: err, final: final})
		return
	}
	s.send(evDeployDone{url: url, final: final})
}

// sleep waits for d or until the session context is cancelled; reports
// whether the full wait elapsed.
func (s *Session) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
