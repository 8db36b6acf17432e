// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring build
// sessions and their transports. Metrics include:
//   - Session lifecycle counters (started, restored, evicted, finished)
//   - Resident session gauge (the in-memory working set)
//   - Generation retry counters (blueprint, unit)
//   - Transport counters and active stream gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "appforge"

// Subsystem for session metrics
const agentSubsystem = "agent"

// AgentMetrics holds all Prometheus metrics for build session operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring session
// lifecycle and generation progress. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type AgentMetrics struct {
	// SessionsStartedTotal counts brand-new sessions created by kickoff.
	SessionsStartedTotal prometheus.Counter

	// SessionsRestoredTotal counts sessions reconstructed from snapshots.
	SessionsRestoredTotal prometheus.Counter

	// SessionsEvictedTotal counts idle sessions flushed out of memory.
	SessionsEvictedTotal prometheus.Counter

	// SessionsFinishedTotal counts sessions reaching a terminal status.
	// Labels: status (completed, errored)
	SessionsFinishedTotal *prometheus.CounterVec

	// ResidentSessions tracks the number of sessions currently in memory.
	ResidentSessions prometheus.Gauge

	// TransportsAttachedTotal counts transport attachments (kickoff
	// streams and websocket connections alike).
	TransportsAttachedTotal prometheus.Counter

	// GenerationRetriesTotal counts retried inference calls.
	// Labels: stage (blueprint, unit)
	GenerationRetriesTotal *prometheus.CounterVec

	// FilesGeneratedTotal counts generated file records (appends, not
	// distinct paths).
	FilesGeneratedTotal prometheus.Counter

	// ActiveStreams tracks currently open streaming connections.
	// Labels: endpoint (kickoff, websocket)
	ActiveStreams *prometheus.GaugeVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of AgentMetrics.
// Initialized by InitMetrics(); nil until then, callers nil-check.
var DefaultMetrics *AgentMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup, before any session is created.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *AgentMetrics {
	DefaultMetrics = &AgentMetrics{
		SessionsStartedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "sessions_started_total",
			Help:      "Total build sessions created",
		}),

		SessionsRestoredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "sessions_restored_total",
			Help:      "Total sessions reconstructed from durable snapshots",
		}),

		SessionsEvictedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "sessions_evicted_total",
			Help:      "Total idle sessions evicted from memory",
		}),

		SessionsFinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "sessions_finished_total",
				Help:      "Total sessions reaching a terminal status",
			},
			[]string{"status"},
		),

		ResidentSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "resident_sessions",
			Help:      "Number of sessions currently resident in memory",
		}),

		TransportsAttachedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "transports_attached_total",
			Help:      "Total transport attachments across all sessions",
		}),

		GenerationRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "generation_retries_total",
				Help:      "Total retried inference calls by pipeline stage",
			},
			[]string{"stage"},
		),

		FilesGeneratedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "files_generated_total",
			Help:      "Total generated file records appended",
		}),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming connections",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a streaming endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointKickoff is the chunked NDJSON kickoff stream.
	EndpointKickoff Endpoint = "kickoff"

	// EndpointWebsocket is the live-phase websocket.
	EndpointWebsocket Endpoint = "websocket"
)

// =============================================================================
// Helper Methods
// =============================================================================

// SessionStarted records a new session creation.
func (m *AgentMetrics) SessionStarted() {
	m.SessionsStartedTotal.Inc()
}

// SessionRestored records a snapshot reconstruction.
func (m *AgentMetrics) SessionRestored() {
	m.SessionsRestoredTotal.Inc()
}

// SessionEvicted records an idle eviction.
func (m *AgentMetrics) SessionEvicted() {
	m.SessionsEvictedTotal.Inc()
}

// SessionFinished records a terminal transition.
//
// # Inputs
//
//   - status: The terminal status name (completed, errored).
func (m *AgentMetrics) SessionFinished(status string) {
	m.SessionsFinishedTotal.WithLabelValues(status).Inc()
}

// SetResidentSessions updates the resident session gauge.
func (m *AgentMetrics) SetResidentSessions(n int) {
	m.ResidentSessions.Set(float64(n))
}

// TransportAttached records a transport attachment.
func (m *AgentMetrics) TransportAttached() {
	m.TransportsAttachedTotal.Inc()
}

// GenerationRetry records a retried inference call.
//
// # Inputs
//
//   - stage: The pipeline stage that retried (blueprint, unit).
func (m *AgentMetrics) GenerationRetry(stage string) {
	m.GenerationRetriesTotal.WithLabelValues(stage).Inc()
}

// FilesGenerated records n appended file records.
func (m *AgentMetrics) FilesGenerated(n int) {
	m.FilesGeneratedTotal.Add(float64(n))
}

// StreamStarted increments the active streams gauge.
func (m *AgentMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *AgentMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *AgentMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
