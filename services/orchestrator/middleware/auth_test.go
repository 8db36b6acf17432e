// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge-ai/appforge/pkg/extensions"
)

type rejectingProvider struct{}

func (rejectingProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	return nil, extensions.ErrUnauthorized
}

type tokenProvider struct {
	wantToken string
}

func (p tokenProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	if token != p.wantToken {
		return nil, extensions.ErrUnauthorized
	}
	return &extensions.AuthInfo{UserID: "user-42"}, nil
}

func authedRouter(provider extensions.AuthProvider) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seenUser string
	router.Use(AuthMiddleware(provider))
	router.GET("/whoami", func(c *gin.Context) {
		seenUser = UserID(c)
		c.Status(http.StatusOK)
	})
	return router, &seenUser
}

func doGet(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("nop provider authenticates everything", func(t *testing.T) {
		router, seenUser := authedRouter(&extensions.NopAuthProvider{})

		rec := doGet(router, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "local-user", *seenUser)
	})

	t.Run("rejecting provider yields 401", func(t *testing.T) {
		router, _ := authedRouter(rejectingProvider{})

		rec := doGet(router, map[string]string{"Authorization": "Bearer anything"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthorized")
	})

	t.Run("valid token reaches the handler", func(t *testing.T) {
		router, seenUser := authedRouter(tokenProvider{wantToken: "sekrit"})

		rec := doGet(router, map[string]string{"Authorization": "Bearer sekrit"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-42", *seenUser)
	})

	t.Run("bad token rejected", func(t *testing.T) {
		router, _ := authedRouter(tokenProvider{wantToken: "sekrit"})

		rec := doGet(router, map[string]string{"Authorization": "Bearer wrong"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]struct {
		header string
		want   string
	}{
		"standard":         {"Bearer tok123", "tok123"},
		"lowercase scheme": {"bearer tok123", "tok123"},
		"missing header":   {"", ""},
		"wrong scheme":     {"Basic dXNlcjpwYXNz", ""},
		"scheme only":      {"Bearer", ""},
		"padded token":     {"Bearer   tok123", "tok123"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, extractBearerToken(c))
		})
	}
}

func TestUserIDWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, UserID(c))
}
