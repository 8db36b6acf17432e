// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Build Session State
// =============================================================================

// SessionStatus is the lifecycle phase of a build session.
//
// Transitions are monotonic forward except StatusGenerating ⇄ StatusPaused.
// StatusCompleted and StatusErrored are terminal for file generation; both
// still accept a redeploy command that passes back through StatusDeploying
// without touching generated files.
type SessionStatus string

const (
	StatusPendingTemplate SessionStatus = "pending_template"
	StatusPlanning        SessionStatus = "planning"
	StatusGenerating      SessionStatus = "generating"
	StatusPaused          SessionStatus = "paused"
	StatusDeploying       SessionStatus = "deploying"
	StatusCompleted       SessionStatus = "completed"
	StatusErrored         SessionStatus = "errored"
)

// Terminal reports whether no further file generation can occur.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

// BlueprintFile is one planned file in the blueprint's build plan.
type BlueprintFile struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// Blueprint is the AI-produced build plan. It is produced exactly once per
// session and becomes immutable the moment generation starts; a re-plan
// requires a new session.
type Blueprint struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Files             []BlueprintFile `json:"fileList"`
	Features          []string        `json:"features,omitempty"`
	ArchitectureNotes string          `json:"architectureNotes,omitempty"`
}

// GeneratedFile is one record in a session's append-only file history.
// A path may appear more than once (regeneration); the externally visible
// "current" view is the latest record per path, but the history itself is
// never truncated.
type GeneratedFile struct {
	FilePath     string `json:"file_path"`
	FileContents string `json:"file_contents"`
	Explanation  string `json:"explanation,omitempty"`
}

// UnitFailure records a file-generation unit that exhausted its retries.
// The session keeps going; failures are surfaced in the final summary.
type UnitFailure struct {
	FilePath string `json:"file_path"`
	Error    string `json:"error"`
}

// Progress summarizes how far generation has advanced.
// TotalFiles is -1 while the blueprint has not yet fixed the plan size.
type Progress struct {
	CompletedFiles int `json:"completedFiles"`
	TotalFiles     int `json:"totalFiles"`
}

// =============================================================================
// Kickoff HTTP Contract
// =============================================================================

// AgentMode selects the build strategy for a session.
type AgentMode string

const (
	ModeDeterministic AgentMode = "deterministic"
	ModeSmart         AgentMode = "smart"
)

// KickoffRequest is the JSON body of POST /v1/agent.
type KickoffRequest struct {
	Query            string    `json:"query" binding:"required"`
	Language         string    `json:"language,omitempty"`
	Frameworks       []string  `json:"frameworks,omitempty"`
	SelectedTemplate string    `json:"selectedTemplate,omitempty"`
	AgentMode        AgentMode `json:"agentMode" binding:"omitempty,oneof=deterministic smart"`
}

// KickoffChunk is one newline-delimited JSON object on the kickoff stream.
// Early chunks carry Message (status text) or Chunk (partial blueprint
// text); the final chunk carries the connection envelope for phase two.
type KickoffChunk struct {
	Message       string           `json:"message,omitempty"`
	Chunk         string           `json:"chunk,omitempty"`
	AgentID       string           `json:"agentId,omitempty"`
	WebsocketURL  string           `json:"websocketUrl,omitempty"`
	HTTPStatusURL string           `json:"httpStatusUrl,omitempty"`
	Template      *TemplateDetails `json:"template,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// ProgressResponse is the body of GET /v1/agent/:agentId/progress.
type ProgressResponse struct {
	TextExplanation string          `json:"text_explanation"`
	GeneratedCode   []GeneratedFile `json:"generated_code"`
	Progress        Progress        `json:"progress"`
}

// ConnectResponse is the body of GET /v1/agent/:agentId/connect, used by
// clients that want current state before deciding to open the socket.
type ConnectResponse struct {
	AgentID      string   `json:"agentId"`
	WebsocketURL string   `json:"websocketUrl"`
	Progress     Progress `json:"progress"`
}
