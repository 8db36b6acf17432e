// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for AppForge services.
//
// Built on slog with JSON output. Services log to stdout for container
// log collection; the LOG_LEVEL environment variable controls verbosity.
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure tokens and secrets are not logged:
//
//	// BAD: logs sensitive data
//	logger.Info("auth", "token", authToken)
//
//	// GOOD: log metadata only
//	logger.Info("auth", "token_present", authToken != "")
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity: debug, info, warn, error.
	// Default: info.
	Level string

	// Service is attached to every record as the "service" attribute.
	Service string
}

// New builds a JSON slog.Logger for the given configuration.
func New(cfg Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Setup builds the logger for a service, reading LOG_LEVEL from the
// environment, and installs it as the slog default.
func Setup(service string) *slog.Logger {
	logger := New(Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: service,
	})
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
