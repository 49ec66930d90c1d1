// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/assistant/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var coordinatorTracer = otel.Tracer("hearthward.search")

// =============================================================================
// Coordinator Configuration
// =============================================================================

// CoordinatorConfig bounds the parallel fan-out.
type CoordinatorConfig struct {
	// PerProviderTimeout caps each individual provider call.
	PerProviderTimeout time.Duration

	// OverallBudget caps the whole fan-out wall-clock; on expiry the
	// coordinator cancels outstanding calls and fuses what arrived.
	OverallBudget time.Duration

	// Metrics records per-provider call outcomes and latency.
	// Nil disables recording.
	Metrics *observability.QueryMetrics
}

// DefaultCoordinatorConfig returns production defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		PerProviderTimeout: 4 * time.Second,
		OverallBudget:      6 * time.Second,
	}
}

// ProviderFailure records one excluded provider for the request log.
type ProviderFailure struct {
	Provider string
	Err      error
}

// TimedOut reports whether the provider missed its per-call deadline.
func (f ProviderFailure) TimedOut() bool {
	return errors.Is(f.Err, context.DeadlineExceeded)
}

// =============================================================================
// Parallel Search Coordinator
// =============================================================================

// Coordinator fans a query out to the intent's provider subset, collects
// partial results under the overall budget, and invokes fusion.
//
// # Description
//
// One goroutine runs per selected provider. Each call carries its own
// timeout; the whole fan-out additionally runs under the overall budget,
// whose expiry cancels every outstanding call via context — no provider
// is allowed to delay the others. Providers that time out or error are
// recorded and excluded, never retried within the same request.
//
// Search never returns an error: absence of results is a valid terminal
// outcome, and an all-providers-failed fan-out simply yields empty
// evidence.
//
// # Thread Safety
//
// Safe for concurrent use.
type Coordinator struct {
	registry *Registry
	fusion   *Fusion
	cfg      CoordinatorConfig
	metrics  *observability.QueryMetrics
}

// NewCoordinator wires the registry and fusion engine together.
func NewCoordinator(registry *Registry, fusion *Fusion, cfg CoordinatorConfig) *Coordinator {
	if cfg.PerProviderTimeout <= 0 {
		cfg.PerProviderTimeout = DefaultCoordinatorConfig().PerProviderTimeout
	}
	if cfg.OverallBudget <= 0 {
		cfg.OverallBudget = DefaultCoordinatorConfig().OverallBudget
	}
	return &Coordinator{registry: registry, fusion: fusion, cfg: cfg, metrics: cfg.Metrics}
}

// Search runs the bounded parallel fan-out and fuses the results.
//
// # Inputs
//
//   - ctx: Request context; the overall budget nests inside it.
//   - intent: Classified intent selecting the provider subset.
//   - query: The raw query text forwarded to providers.
//   - escalated: Use the expanded provider subset (validator escalation).
//
// # Outputs
//
//   - datatypes.FusedEvidence: Ranked evidence; may be empty, never nil
//     semantics beyond Empty().
//   - []ProviderFailure: Providers excluded this request, for logging
//     only — failures are not surfaced to the user. Call outcomes and
//     latency are recorded against the configured metrics here.
func (c *Coordinator) Search(ctx context.Context, intent datatypes.Intent, query string,
	escalated bool) (datatypes.FusedEvidence, []ProviderFailure) {

	ctx, span := coordinatorTracer.Start(ctx, "Coordinator.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.intent", string(intent.Category)),
		attribute.Bool("search.escalated", escalated),
	)

	providers := c.registry.ProvidersFor(intent.Category, escalated)
	if len(providers) == 0 {
		slog.Debug("search.coordinator: no providers routed for intent",
			"intent", string(intent.Category))
		return datatypes.FusedEvidence{}, nil
	}
	span.SetAttributes(attribute.Int("search.providers", len(providers)))

	budgetCtx, cancel := context.WithTimeout(ctx, c.cfg.OverallBudget)
	defer cancel()

	var (
		mu       sync.Mutex
		gathered []datatypes.SearchResult
		failures []ProviderFailure
	)

	g, gctx := errgroup.WithContext(budgetCtx)
	for _, p := range providers {
		g.Go(func() error {
			callCtx, callCancel := context.WithTimeout(gctx, c.cfg.PerProviderTimeout)
			defer callCancel()

			callStart := time.Now()
			results, err := p.Search(callCtx, query)
			c.observeCall(p.Name(), time.Since(callStart), err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					slog.Warn("search.coordinator: provider timed out",
						"provider", p.Name(), "timeout", c.cfg.PerProviderTimeout.String())
				} else {
					slog.Warn("search.coordinator: provider failed",
						"provider", p.Name(), "error", err)
				}
				failures = append(failures, ProviderFailure{Provider: p.Name(), Err: err})
				// Recorded and excluded; never fails the fan-out.
				return nil
			}
			gathered = append(gathered, results...)
			return nil
		})
	}
	// Errors are absorbed per provider, so Wait only reflects ctx state.
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("search.results", len(gathered)),
		attribute.Int("search.failures", len(failures)),
	)

	evidence := c.fusion.Fuse(intent.Category, gathered)
	slog.Debug("search.coordinator: fan-out complete",
		"intent", string(intent.Category),
		"providers", len(providers),
		"raw_results", len(gathered),
		"fused_entries", len(evidence.Results),
		"failures", len(failures),
	)
	return evidence, failures
}

// observeCall records one provider call's outcome and latency.
func (c *Coordinator) observeCall(provider string, elapsed time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	status := observability.ProviderStatusSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = observability.ProviderStatusTimeout
	default:
		status = observability.ProviderStatusError
	}
	c.metrics.ProviderCallsTotal.WithLabelValues(provider, status).Inc()
	c.metrics.ProviderDurationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}
