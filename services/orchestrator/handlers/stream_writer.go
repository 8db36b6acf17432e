// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter defines the contract for writing the kickoff NDJSON stream.
//
// # Description
//
// The kickoff response is a chunked HTTP body of newline-delimited JSON
// objects, one KickoffChunk per line, flushed as they are produced.
// Closing the response body is the end-of-stream signal; there is no
// trailer.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Status messages and
// blueprint chunks can arrive from different goroutines.
type StreamWriter interface {
	// WriteChunk serializes one chunk as a JSON line and flushes it.
	WriteChunk(chunk datatypes.KickoffChunk) error

	// WriteMessage writes a status-message chunk.
	WriteMessage(message string) error

	// WriteToken writes a blueprint-text chunk.
	WriteToken(token string) error

	// WriteError writes a terminal error chunk. The stream should be
	// closed after this.
	WriteError(errMsg string) error
}

// =============================================================================
// Implementation
// =============================================================================

// ndjsonWriter implements StreamWriter over an http.ResponseWriter.
//
// # Limitations
//
//   - Requires http.Flusher support
//   - Cannot be reused across requests
type ndjsonWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewStreamWriter creates a StreamWriter for the given ResponseWriter.
// The caller must set streaming headers first via SetStreamHeaders.
func NewStreamWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &ndjsonWriter{writer: w, flusher: flusher}, nil
}

// WriteChunk implements StreamWriter.
func (w *ndjsonWriter) WriteChunk(chunk datatypes.KickoffChunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal kickoff chunk: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write kickoff chunk: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteMessage implements StreamWriter.
func (w *ndjsonWriter) WriteMessage(message string) error {
	return w.WriteChunk(datatypes.KickoffChunk{Message: message})
}

// WriteToken implements StreamWriter.
func (w *ndjsonWriter) WriteToken(token string) error {
	return w.WriteChunk(datatypes.KickoffChunk{Chunk: token})
}

// WriteError implements StreamWriter.
func (w *ndjsonWriter) WriteError(errMsg string) error {
	return w.WriteChunk(datatypes.KickoffChunk{Error: errMsg})
}

// SetStreamHeaders configures response headers for the NDJSON stream.
// Must be called before the first write.
func SetStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ StreamWriter = (*ndjsonWriter)(nil)
