// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification of an agent failure.
type ErrorKind string

const (
	ErrCatalogUnavailable ErrorKind = "TemplateCatalogUnavailable"
	ErrNoSuitableTemplate ErrorKind = "NoSuitableTemplate"
	ErrTemplateFetch      ErrorKind = "TemplateFetchFailed"
	ErrBlueprint          ErrorKind = "BlueprintGenerationFailed"
	ErrFileGeneration     ErrorKind = "FileGenerationFailed"
	ErrDeployment         ErrorKind = "DeploymentFailed"
	ErrSessionNotFound    ErrorKind = "SessionNotFound"
	ErrInvalidRequest     ErrorKind = "InvalidRequest"
)

// AgentError is a typed failure carrying both a machine-readable kind and
// a human message. The kind survives wrapping so callers can branch on it
// with KindOf regardless of how many layers annotated the error.
type AgentError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// NewAgentError builds an AgentError with an optional cause.
func NewAgentError(kind ErrorKind, message string, cause error) *AgentError {
	return &AgentError{Kind: kind, Message: message, Cause: cause}
}

// ErrorRecord is the persisted form of a session's last error.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// RecordFor converts any error into a persistable ErrorRecord, using the
// AgentError kind when present and a generic internal kind otherwise.
func RecordFor(err error) *ErrorRecord {
	if err == nil {
		return nil
	}
	var ae *AgentError
	if errors.As(err, &ae) {
		return &ErrorRecord{Kind: ae.Kind, Message: ae.Message}
	}
	return &ErrorRecord{Kind: "Internal", Message: err.Error()}
}

// KindOf extracts the ErrorKind from an error chain, or "" if the chain
// contains no AgentError.
func KindOf(err error) ErrorKind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
