// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the identity extension point for the
// orchestrator.
//
// The open source build runs without authentication infrastructure: the
// default NopAuthProvider admits every request as an anonymous local
// user, and sessions record that identity for ownership. Hosted builds
// inject a real provider (Okta, Auth0, API keys) via ServiceOptions
// without modifying the core service.
//
// All implementations must be safe for concurrent use.
package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when token validation fails. Provider
// implementations should wrap it so callers can branch with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity returned after successful authentication.
type AuthInfo struct {
	// UserID uniquely identifies the user; never empty on success.
	UserID string

	// Email may be empty if the provider does not supply one.
	Email string

	// Roles carries role memberships for future authorization decisions.
	Roles []string
}

// HasRole checks whether the user holds a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens and resolves user identity.
//
// # Open Source Behavior
//
// NopAuthProvider accepts any token, including the empty string, and
// returns the local user. Build sessions created this way are owned by
// "local-user".
type AuthProvider interface {
	// Validate checks the token and returns the user's identity, or an
	// error wrapping ErrUnauthorized when the token is rejected.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default provider: every request authenticates
// as a local admin user. Stateless and therefore thread-safe.
type NopAuthProvider struct{}

// Validate always succeeds; the token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// ServiceOptions groups the extension points for service construction.
// Nil fields fall back to no-op defaults.
type ServiceOptions struct {
	// AuthProvider validates authentication tokens.
	// Default: NopAuthProvider.
	AuthProvider AuthProvider
}

// DefaultOptions returns ServiceOptions with no-op defaults, the
// configuration the open source build runs with.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

var _ AuthProvider = (*NopAuthProvider)(nil)
