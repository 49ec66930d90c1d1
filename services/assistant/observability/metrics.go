// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the assistant.
//
// # Description
//
// Metrics cover the full query pipeline:
//   - Request counters (by intent, mode, outcome)
//   - Stage latency histograms (classify, search, synthesize, validate)
//   - Search provider health (calls, failures, timeouts)
//   - Validation retry counters and fallback-answer counters
//   - Session gauge and reap counters
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "hearthward"

// Subsystem for query pipeline metrics.
const querySubsystem = "query"

// QueryMetrics holds all Prometheus metrics for the query pipeline.
//
// Initialize once at startup via InitMetrics(); registering twice panics
// on duplicate registration, which is intentional.
type QueryMetrics struct {
	// RequestsTotal counts queries by intent, mode, and outcome.
	// Labels: intent, mode (owner, guest), outcome (answered, denied,
	// fallback, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (classify, gate, search, fuse, synthesize, validate,
	// dispatch, session_write)
	StageDurationSeconds *prometheus.HistogramVec

	// PolicyDenialsTotal counts gate denials by reason.
	// Labels: reason (domain_denied, entity_denied, quiet_hours, mode_denied)
	PolicyDenialsTotal *prometheus.CounterVec

	// ProviderCallsTotal counts search provider calls by provider and status.
	// Labels: provider, status (success, timeout, error)
	ProviderCallsTotal *prometheus.CounterVec

	// ProviderDurationSeconds measures per-provider search latency.
	// Labels: provider
	ProviderDurationSeconds *prometheus.HistogramVec

	// ValidationRetriesTotal counts synthesis retries by failure reason.
	// Labels: reason (ignorance_phrase, insufficient_evidence, uncorroborated)
	ValidationRetriesTotal *prometheus.CounterVec

	// FallbackAnswersTotal counts queries that exhausted the retry budget.
	FallbackAnswersTotal prometheus.Counter

	// EscalationsTotal counts escalation re-searches.
	EscalationsTotal prometheus.Counter

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions prometheus.Gauge

	// SessionsReapedTotal counts sessions removed by the reaper.
	SessionsReapedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *QueryMetrics

// InitMetrics creates and registers all pipeline metrics against the
// default Prometheus registry. Call exactly once at startup.
func InitMetrics() *QueryMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates and registers all pipeline metrics against the
// given registerer. Tests pass a fresh prometheus.NewRegistry() so each
// test observes its own counters.
func NewMetrics(reg prometheus.Registerer) *QueryMetrics {
	factory := promauto.With(reg)
	return &QueryMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "requests_total",
				Help:      "Total queries by intent, mode, and outcome",
			},
			[]string{"intent", "mode", "outcome"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		PolicyDenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "policy_denials_total",
				Help:      "Total gate denials by reason",
			},
			[]string{"reason"},
		),

		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "search",
				Name:      "provider_calls_total",
				Help:      "Total search provider calls by provider and status",
			},
			[]string{"provider", "status"},
		),

		ProviderDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "search",
				Name:      "provider_duration_seconds",
				Help:      "Search provider call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 4.0, 5.0},
			},
			[]string{"provider"},
		),

		ValidationRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "validation_retries_total",
				Help:      "Total synthesis retries by failure reason",
			},
			[]string{"reason"},
		),

		FallbackAnswersTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "fallback_answers_total",
				Help:      "Total queries that exhausted the validation retry budget",
			},
		),

		EscalationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "escalations_total",
				Help:      "Total escalation re-searches",
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "session",
				Name:      "active_sessions",
				Help:      "Number of live sessions",
			},
		),

		SessionsReapedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "session",
				Name:      "reaped_total",
				Help:      "Total sessions removed by the reaper",
			},
		),
	}
}

// Outcome labels for RequestsTotal.
const (
	OutcomeAnswered = "answered"
	OutcomeDenied   = "denied"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Status labels for ProviderCallsTotal.
const (
	ProviderStatusSuccess = "success"
	ProviderStatusTimeout = "timeout"
	ProviderStatusError   = "error"
)
