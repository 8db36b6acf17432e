// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// =============================================================================
// Live-phase Frame Protocol
// =============================================================================

// ClientFrameType discriminates client→server websocket frames.
type ClientFrameType string

const (
	ClientFramePreview  ClientFrameType = "preview"
	ClientFrameDeploy   ClientFrameType = "deploy"
	ClientFramePause    ClientFrameType = "pause"
	ClientFrameResume   ClientFrameType = "resume"
	ClientFrameRedeploy ClientFrameType = "redeploy"
)

// ClientFrame is a command sent by the client over the live socket.
type ClientFrame struct {
	Type ClientFrameType `json:"type"`
}

// Validate rejects unknown frame types explicitly rather than silently
// ignoring them, so protocol drift surfaces as an error frame.
func (f ClientFrame) Validate() error {
	switch f.Type {
	case ClientFramePreview, ClientFrameDeploy, ClientFramePause,
		ClientFrameResume, ClientFrameRedeploy:
		return nil
	}
	return fmt.Errorf("unknown frame type %q", f.Type)
}

// ServerFrameType discriminates server→client frames.
type ServerFrameType string

const (
	FramePhaseUpdate          ServerFrameType = "phase_update"
	FrameBlueprintChunk       ServerFrameType = "blueprint_chunk"
	FrameStateReplay          ServerFrameType = "state_replay"
	FrameFileGenerated        ServerFrameType = "file_generated"
	FrameFileGenerationFailed ServerFrameType = "file_generation_failed"
	FrameGenerationComplete   ServerFrameType = "generation_complete"
	FrameDeploymentComplete   ServerFrameType = "deployment_complete"
	FrameError                ServerFrameType = "error"
)

// ServerFrame is one event delivered to every transport attached to a
// session. Delivery is at-least-once: a reconnecting client may see a file
// it already holds, and applying a duplicate must be a no-op client-side
// (records are keyed by file_path).
type ServerFrame struct {
	Type ServerFrameType `json:"type"`

	// Status and Message accompany phase_update frames.
	Status  SessionStatus `json:"status,omitempty"`
	Message string        `json:"message,omitempty"`

	// Chunk carries partial blueprint text in production order.
	Chunk string `json:"chunk,omitempty"`

	// File is set on file_generated frames.
	File *GeneratedFile `json:"file,omitempty"`

	// Failure is set on file_generation_failed frames.
	Failure *UnitFailure `json:"failure,omitempty"`

	// Replay fields, set on state_replay so a reattaching client never
	// has to diff partial history itself.
	Blueprint      *Blueprint      `json:"blueprint,omitempty"`
	GeneratedFiles []GeneratedFile `json:"generatedFiles,omitempty"`
	Progress       *Progress       `json:"progress,omitempty"`

	// PreviewURL / TunnelURL are set on deployment_complete.
	PreviewURL string `json:"previewURL,omitempty"`
	TunnelURL  string `json:"tunnelURL,omitempty"`

	// Error carries the message on error frames.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}
