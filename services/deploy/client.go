// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package deploy provides the client for the external deployment
// collaborator. Deployment mechanics (sandboxes, hosting) live entirely
// on the other side of this boundary; the orchestrator only hands over
// files and records the resulting URL.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// Deployer defines the contract for deploying a generated build.
type Deployer interface {
	// Deploy ships the session's current files and returns the preview URL.
	Deploy(ctx context.Context, sessionID string, files []datatypes.GeneratedFile) (string, error)
}

// Client is the HTTP implementation of Deployer.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a deployer client for the given base URL.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("deployer URL is required")
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
	}, nil
}

type deployRequest struct {
	SessionID string                    `json:"sessionId"`
	Files     []datatypes.GeneratedFile `json:"files"`
}

type deployResponse struct {
	DeploymentURL string `json:"deploymentUrl"`
	Error         string `json:"error,omitempty"`
}

// Deploy implements Deployer. Fails closed with a typed DeploymentFailed
// error; the session decides whether a redeploy is worth offering.
func (c *Client) Deploy(ctx context.Context, sessionID string, files []datatypes.GeneratedFile) (string, error) {
	body, err := json.Marshal(deployRequest{SessionID: sessionID, Files: files})
	if err != nil {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment, "marshal deploy request", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/deployments", bytes.NewBuffer(body))
	if err != nil {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment, "build deploy request", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment, "deployer unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment,
			fmt.Sprintf("deployer returned status %d", resp.StatusCode), nil)
	}

	var payload deployResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment, "malformed deployer response", err)
	}
	if payload.Error != "" {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment, payload.Error, nil)
	}
	if payload.DeploymentURL == "" {
		return "", datatypes.NewAgentError(datatypes.ErrDeployment, "deployer returned no URL", nil)
	}
	return payload.DeploymentURL, nil
}

var _ Deployer = (*Client)(nil)
