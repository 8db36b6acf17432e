// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package templates provides the client for the external template catalog.
//
// # Description
//
// The catalog is an external collaborator serving the list of available
// starting templates and the full file contents of a chosen template.
// Both operations fail closed: any transport error, non-200 status, or
// malformed body surfaces as a typed TemplateCatalogUnavailable failure,
// never as a silently empty result.
//
// No retries happen here. Retry policy belongs to the callers that know
// whether a step is safe to repeat.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// Catalog defines the contract for template catalog access.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; multiple sessions
// resolve templates in parallel.
type Catalog interface {
	// List returns every available template descriptor.
	List(ctx context.Context) ([]datatypes.TemplateDescriptor, error)

	// Details returns the full file set for the named template.
	Details(ctx context.Context, name string) (*datatypes.TemplateDetails, error)
}

// Client is the HTTP implementation of Catalog.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a catalog client for the given base URL.
//
// # Inputs
//
//   - baseURL: Catalog service root, e.g. "http://templates:8090".
//
// # Outputs
//
//   - *Client: Ready-to-use catalog client.
//   - error: Non-nil if baseURL is empty or unparseable.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("template catalog URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid template catalog URL: %w", err)
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}, nil
}

func unavailable(msg string, cause error) error {
	return datatypes.NewAgentError(datatypes.ErrCatalogUnavailable, msg, cause)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return unavailable("build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable("catalog unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unavailable(fmt.Sprintf("catalog returned status %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable("malformed catalog response", err)
	}
	return nil
}

// List implements Catalog.
func (c *Client) List(ctx context.Context) ([]datatypes.TemplateDescriptor, error) {
	var payload struct {
		Templates []datatypes.TemplateDescriptor `json:"templates"`
	}
	if err := c.get(ctx, "/templates", &payload); err != nil {
		return nil, err
	}
	if payload.Templates == nil {
		// Distinguish "no templates" from "field missing entirely": a body
		// without the templates key is malformed, not an empty catalog.
		return nil, unavailable("catalog response missing templates field", nil)
	}
	return payload.Templates, nil
}

// Details implements Catalog.
func (c *Client) Details(ctx context.Context, name string) (*datatypes.TemplateDetails, error) {
	if name == "" {
		return nil, unavailable("template name is required", nil)
	}
	var details datatypes.TemplateDetails
	if err := c.get(ctx, "/templates/"+url.PathEscape(name), &details); err != nil {
		return nil, err
	}
	if details.Name == "" || len(details.Files) == 0 {
		return nil, unavailable(fmt.Sprintf("template %q has no files", name), nil)
	}
	return &details, nil
}

var _ Catalog = (*Client)(nil)
