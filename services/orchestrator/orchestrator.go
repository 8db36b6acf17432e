// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the agent service together: configuration,
// tracing, metrics, the durable snapshot store, the LLM backend, the
// external collaborators, and the HTTP router.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/appforge-ai/appforge/pkg/extensions"
	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/deploy"
	"github.com/appforge-ai/appforge/services/llm"
	"github.com/appforge-ai/appforge/services/orchestrator/observability"
	"github.com/appforge-ai/appforge/services/orchestrator/routes"
	"github.com/appforge-ai/appforge/services/planner"
	"github.com/appforge-ai/appforge/services/templates"
)

const serviceName = "appforge-orchestrator"

// Config holds orchestrator service configuration. Zero values use
// defaults suitable for local development.
type Config struct {
	// Port is the HTTP listen port. Default: 12300.
	Port int `validate:"gte=0,lte=65535"`

	// LLMBackend selects the inference provider: openai, anthropic,
	// ollama. Default: ollama (works offline).
	LLMBackend string `validate:"omitempty,oneof=openai claude anthropic ollama"`

	// LLMRateRPS caps inference calls per second across all sessions.
	// Zero disables rate limiting.
	LLMRateRPS float64 `validate:"gte=0"`

	// TemplatesURL is the template catalog base URL. Required.
	TemplatesURL string `validate:"required,url"`

	// DeployerURL is the deployment collaborator base URL. Required.
	DeployerURL string `validate:"required,url"`

	// DataDir is the snapshot store directory. Default: ./data/agent.
	DataDir string

	// OTelEndpoint is the OTLP collector address. Empty disables tracing.
	OTelEndpoint string

	// Agent carries the session tunables (retry bounds, buffers, idle
	// eviction window).
	Agent agent.Config
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 12300
	}
	if c.LLMBackend == "" {
		c.LLMBackend = "ollama"
	}
	if c.DataDir == "" {
		c.DataDir = "./data/agent"
	}
	return c
}

// Service is the assembled orchestrator.
type Service struct {
	cfg    Config
	router *gin.Engine
	store  agent.Store
	dir    *agent.Directory

	tracerCleanup func(context.Context)
}

// New builds the service from configuration.
//
// # Description
//
// Fails fast on anything that would leave the service half-working: a
// missing collaborator URL, an unopenable store, an unknown backend. The
// optional opts argument injects enterprise extension implementations;
// nil means the open source no-op defaults.
func New(cfg Config, opts *extensions.ServiceOptions) (*Service, error) {
	cfg = cfg.withDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid orchestrator configuration: %w", err)
	}

	extOpts := extensions.DefaultOptions()
	if opts != nil {
		extOpts = *opts
		if extOpts.AuthProvider == nil {
			extOpts.AuthProvider = &extensions.NopAuthProvider{}
		}
	}

	if observability.DefaultMetrics == nil {
		observability.InitMetrics()
	}

	svc := &Service{cfg: cfg}

	if cfg.OTelEndpoint != "" {
		cleanup, err := initTracer(cfg.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("setup OTLP tracer: %w", err)
		}
		svc.tracerCleanup = cleanup
	}

	store, err := agent.NewBadgerStore(agent.DefaultBadgerConfig(cfg.DataDir))
	if err != nil {
		return nil, err
	}
	svc.store = store

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	catalog, err := templates.NewClient(cfg.TemplatesURL)
	if err != nil {
		store.Close()
		return nil, err
	}
	deployer, err := deploy.NewClient(cfg.DeployerURL)
	if err != nil {
		store.Close()
		return nil, err
	}

	svc.dir = agent.NewDirectory(cfg.Agent, agent.Deps{
		Catalog:  catalog,
		Planner:  planner.New(llmClient),
		Deployer: deployer,
		Store:    store,
	})

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, svc.dir, extOpts)
	svc.router = router

	return svc, nil
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, then
// drains: resident sessions are flushed before the store closes.
func (s *Service) Run() error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Orchestrator listening", "port", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	s.shutdown()
	return nil
}

func (s *Service) shutdown() {
	s.dir.Close()
	if err := s.store.Close(); err != nil {
		slog.Error("Failed to close snapshot store", "error", err)
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// buildLLMClient constructs the configured inference backend, optionally
// wrapped in the shared rate limiter.
func buildLLMClient(cfg Config) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.LLMBackend {
	case "openai":
		client, err = llm.NewOpenAIClient()
	case "claude", "anthropic":
		client, err = llm.NewAnthropicClient()
	case "ollama":
		client, err = llm.NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.LLMBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", cfg.LLMBackend, err)
	}
	slog.Info("LLM backend configured", "backend", cfg.LLMBackend)

	if cfg.LLMRateRPS > 0 {
		client = llm.NewRateLimitedClient(client, cfg.LLMRateRPS, 1)
	}
	return client, nil
}

// initTracer configures the OTLP trace exporter over gRPC.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
