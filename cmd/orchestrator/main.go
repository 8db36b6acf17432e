// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the AppForge agent orchestrator.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12300)
//   - LLM_BACKEND_TYPE: Inference provider - openai, anthropic, ollama (default: ollama)
//   - LLM_RATE_RPS: Inference calls per second, 0 disables limiting
//   - TEMPLATES_SERVICE_URL: Template catalog base URL (required)
//   - DEPLOYER_URL: Deployment collaborator base URL (required)
//   - AGENT_DATA_DIR: Snapshot store directory (default: ./data/agent)
//   - AGENT_IDLE_TIMEOUT: Idle session eviction window (default: 10m)
//   - AGENT_UNIT_ATTEMPTS: Attempts per file-generation unit (default: 3)
//   - AGENT_BLUEPRINT_ATTEMPTS: Attempts for blueprint generation (default: 2)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, empty disables tracing
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator serve
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/appforge-ai/appforge/pkg/logging"
	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/orchestrator"
)

func main() {
	logging.Setup("orchestrator")

	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "AppForge agent orchestrator",
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := orchestrator.Config{
				Port:         getEnvInt("ORCHESTRATOR_PORT", 12300),
				LLMBackend:   getEnvString("LLM_BACKEND_TYPE", "ollama"),
				LLMRateRPS:   getEnvFloat("LLM_RATE_RPS", 0),
				TemplatesURL: os.Getenv("TEMPLATES_SERVICE_URL"),
				DeployerURL:  os.Getenv("DEPLOYER_URL"),
				DataDir:      getEnvString("AGENT_DATA_DIR", "./data/agent"),
				OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
				Agent: agent.Config{
					UnitAttempts:      getEnvInt("AGENT_UNIT_ATTEMPTS", 0),
					BlueprintAttempts: getEnvInt("AGENT_BLUEPRINT_ATTEMPTS", 0),
					IdleTimeout:       getEnvDuration("AGENT_IDLE_TIMEOUT", 0),
				},
			}

			slog.Info("Starting orchestrator",
				"port", cfg.Port,
				"llm_backend", cfg.LLMBackend,
				"templates_url", cfg.TemplatesURL,
				"deployer_url", cfg.DeployerURL,
			)

			// Open source build: no-op extension options. Hosted builds
			// pass real providers here.
			svc, err := orchestrator.New(cfg, nil)
			if err != nil {
				log.Fatalf("Failed to create orchestrator: %v", err)
			}
			if err := svc.Run(); err != nil {
				log.Fatalf("Orchestrator error: %v", err)
			}
		},
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
