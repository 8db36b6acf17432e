// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared wire and domain types for the
// orchestrator service: chat messages, template catalog shapes, build
// session records, and the frame protocol spoken over the kickoff stream
// and the live websocket.
package datatypes

// Message is a single chat message exchanged with an LLM backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
