// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// =============================================================================
// Routing Table Configuration
// =============================================================================

// RoutingFile is the on-disk YAML layout for provider routing.
//
// Routes map an intent category to the provider subset queried for it.
// Escalation lists the expanded subset used after a failed validation;
// when omitted for a category, escalation uses every registered provider.
// Weights carry the per-intent source-authority weights consumed by the
// fusion engine; the "default" key applies when a category has no entry.
type RoutingFile struct {
	Routes     map[string][]string           `yaml:"routes"`
	Escalation map[string][]string           `yaml:"escalation"`
	Weights    map[string]map[string]float64 `yaml:"weights"`
}

// Validate rejects tables that reference unknown intent categories.
func (f *RoutingFile) Validate() error {
	for cat := range f.Routes {
		if _, err := datatypes.ParseIntentCategory(cat); err != nil {
			return fmt.Errorf("routing table: %w", err)
		}
	}
	for cat := range f.Escalation {
		if _, err := datatypes.ParseIntentCategory(cat); err != nil {
			return fmt.Errorf("escalation table: %w", err)
		}
	}
	return nil
}

// defaultAuthorityWeight applies when neither the category nor the
// default table names a source.
const defaultAuthorityWeight = 0.5

// =============================================================================
// Registry
// =============================================================================

// Registry resolves an intent to its provider subset at startup-validated
// names, never by runtime string dispatch.
//
// # Description
//
// Providers register once at construction. The routing table is loaded
// from a config provider and may be hot-reloaded; route entries naming an
// unregistered provider are skipped with a warning rather than failing
// the whole table, so one missing provider does not take down routing for
// every intent.
//
// # Thread Safety
//
// Reload swaps the parsed table under a write lock; lookups take a read
// lock. Safe for concurrent use.
type Registry struct {
	providers map[string]Provider

	mu         sync.RWMutex
	routes     map[datatypes.IntentCategory][]Provider
	escalation map[datatypes.IntentCategory][]Provider
	weights    map[string]map[string]float64

	cfg config.Provider
}

// NewRegistry builds a registry from the provider set and routing config.
//
// # Inputs
//
//   - providers: Every available provider client, resolved at startup.
//   - cfg: Source of the YAML routing table. Must not be nil.
//
// # Outputs
//
//   - *Registry: Ready registry with the initial table loaded.
//   - error: Non-nil when the initial table is missing or invalid.
func NewRegistry(providers []Provider, cfg config.Provider) (*Registry, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name())
		}
		byName[p.Name()] = p
	}

	r := &Registry{providers: byName, cfg: cfg}
	if err := r.Reload(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load initial routing table: %w", err)
	}
	return r, nil
}

// Reload re-reads the routing table through the config provider.
//
// On parse or validation failure the previous table stays in effect.
func (r *Registry) Reload(ctx context.Context) error {
	var file RoutingFile
	if err := config.LoadYAML(ctx, r.cfg, &file); err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}

	routes := r.resolve(file.Routes)
	escalation := r.resolve(file.Escalation)

	r.mu.Lock()
	r.routes = routes
	r.escalation = escalation
	r.weights = file.Weights
	r.mu.Unlock()

	slog.Info("search.registry: routing table loaded",
		"routes", len(routes),
		"escalation_routes", len(escalation),
		"providers", len(r.providers),
	)
	return nil
}

// resolve maps configured names onto registered providers, skipping and
// logging unknown names.
func (r *Registry) resolve(table map[string][]string) map[datatypes.IntentCategory][]Provider {
	resolved := make(map[datatypes.IntentCategory][]Provider, len(table))
	for cat, names := range table {
		category, _ := datatypes.ParseIntentCategory(cat)
		var subset []Provider
		for _, name := range names {
			p, ok := r.providers[name]
			if !ok {
				slog.Warn("search.registry: route references unregistered provider",
					"intent", cat, "provider", name)
				continue
			}
			subset = append(subset, p)
		}
		resolved[category] = subset
	}
	return resolved
}

// ProvidersFor returns the provider subset for an intent.
//
// # Inputs
//
//   - category: The classified intent.
//   - escalated: When true, returns the expanded escalation subset; if the
//     category has none configured, every registered provider is used.
func (r *Registry) ProvidersFor(category datatypes.IntentCategory, escalated bool) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if escalated {
		if subset, ok := r.escalation[category]; ok && len(subset) > 0 {
			return subset
		}
		all := make([]Provider, 0, len(r.providers))
		for _, p := range r.providers {
			all = append(all, p)
		}
		return all
	}
	return r.routes[category]
}

// WeightFor returns the authority weight of a source for an intent.
func (r *Registry) WeightFor(category datatypes.IntentCategory, source string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if table, ok := r.weights[string(category)]; ok {
		if w, ok := table[source]; ok {
			return w
		}
	}
	if table, ok := r.weights["default"]; ok {
		if w, ok := table[source]; ok {
			return w
		}
	}
	return defaultAuthorityWeight
}
