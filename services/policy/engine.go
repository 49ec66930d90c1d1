// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy implements the permission gate that precedes any search
// or device-control action.
//
// # Description
//
// The gate computes an effective Policy from the request mode and the
// configured tables, then evaluates the classified intent against it.
// Policies are computed fresh for every request — never cached across
// mode changes — and a violation is a terminal outcome with a fixed-format
// denial message, not a retryable error.
package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/services/assistant/datatypes"
	"github.com/hearthward/hearthward/services/policy/enforcement"
)

// =============================================================================
// Gate
// =============================================================================

// Gate evaluates requests against the mode policy tables.
//
// # Thread Safety
//
// Gate holds no mutable state of its own; the config provider handles
// caching and reload internally. Safe for concurrent use.
type Gate struct {
	provider config.Provider
}

// NewGate creates a gate backed by the given config provider.
//
// # Inputs
//
//   - provider: Source of the YAML policy tables. Pass nil to use the
//     embedded defaults only.
//
// # Outputs
//
//   - *Gate: Ready gate.
//   - error: Non-nil when the initial table load fails validation, so a
//     misconfigured deployment dies at startup instead of at first denial.
func NewGate(provider config.Provider) (*Gate, error) {
	if provider == nil {
		provider = config.NewStaticProvider(enforcement.DefaultPolicyTables)
	}
	g := &Gate{provider: provider}
	if _, err := g.loadTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load initial policy tables: %w", err)
	}
	return g, nil
}

// loadTables fetches and validates the current policy file.
func (g *Gate) loadTables(ctx context.Context) (*PolicyFile, error) {
	var file PolicyFile
	if err := config.LoadYAML(ctx, g.provider, &file); err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("policy table validation failed: %w", err)
	}
	return &file, nil
}

// PolicyFor computes the effective policy for a mode.
//
// # Description
//
// Reads the current tables through the provider (so hot reloads and TTL
// refreshes are picked up) and projects the mode's spec into an immutable
// Policy value. Unknown modes fall back to the guest policy — the
// restrictive choice.
func (g *Gate) PolicyFor(ctx context.Context, mode string) (Policy, error) {
	file, err := g.loadTables(ctx)
	if err != nil {
		return Policy{}, err
	}

	spec, ok := file.Policies[mode]
	if !ok {
		spec, ok = file.Policies[datatypes.ModeGuest]
		if !ok {
			return Policy{}, fmt.Errorf("no policy configured for mode %q and no guest fallback", mode)
		}
		mode = datatypes.ModeGuest
	}

	return Policy{
		Mode:              mode,
		AllowedDomains:    spec.Control.AllowedDomains,
		DeniedDomains:     spec.Control.DeniedDomains,
		DeniedEntities:    spec.Control.DeniedEntities,
		BrightnessCap:     spec.Control.BrightnessCap,
		VolumeCap:         spec.Control.VolumeCap,
		AllowedCategories: spec.Info.AllowedCategories,
		DeniedCategories:  spec.Info.DeniedCategories,
		QuietHours:        file.QuietHours,
	}, nil
}

// =============================================================================
// Evaluation
// =============================================================================

// EvaluateControl checks a control intent against the policy.
//
// # Description
//
// Evaluation order: explicit domain deny list, allow list (with "*"
// wildcard), denied entities, quiet-hours window, then parameter caps.
// Cap violations are rewritten (clamped) rather than denied: a guest
// asking for brightness 100 under an 80 cap gets 80.
//
// # Inputs
//
//   - pol: The effective policy for this request's mode.
//   - intent: Classified control intent; the "domain", "device",
//     "brightness", and "volume" entities are consulted.
//   - now: Wall-clock time for the quiet-hours check.
func (g *Gate) EvaluateControl(pol Policy, intent datatypes.Intent, now time.Time) Decision {
	domain := strings.ToLower(strings.TrimSpace(intent.Entity("domain")))
	device := strings.ToLower(strings.TrimSpace(intent.Entity("device")))

	if domain == "" {
		return deny(DenialEntity, "Sorry, I couldn't tell which device you meant.")
	}

	if containsFold(pol.DeniedDomains, domain) {
		return deny(DenialDomain, fmt.Sprintf(
			"Sorry, %s mode doesn't allow controlling %s devices.", pol.Mode, domain))
	}
	if !containsFold(pol.AllowedDomains, domain) && !containsFold(pol.AllowedDomains, "*") {
		return deny(DenialDomain, fmt.Sprintf(
			"Sorry, %s mode doesn't allow controlling %s devices.", pol.Mode, domain))
	}

	for _, denied := range pol.DeniedEntities {
		if denied != "" && strings.Contains(device, strings.ToLower(denied)) {
			return deny(DenialEntity, fmt.Sprintf(
				"Sorry, that device isn't available in %s mode.", pol.Mode))
		}
	}

	if pol.InQuietHours(now) && containsFold(pol.QuietHours.Domains, domain) {
		return deny(DenialQuietHours, fmt.Sprintf(
			"Sorry, %s control is paused during quiet hours.", domain))
	}

	params := clampParams(intent.Entities, pol)
	return allow(params)
}

// EvaluateInfo checks an information category against the policy.
//
// Unknown is a classification outcome, not a shareable category: the
// synthesizer answers such queries from conversation context, so the
// allow list does not apply to it. An explicit deny-list entry still wins.
func (g *Gate) EvaluateInfo(pol Policy, category datatypes.IntentCategory) Decision {
	cat := string(category)

	if containsFold(pol.DeniedCategories, cat) {
		return deny(DenialCategory, fmt.Sprintf(
			"Sorry, I can't share %s information in %s mode.", cat, pol.Mode))
	}
	if category == datatypes.IntentUnknown {
		return allow(nil)
	}
	if !containsFold(pol.AllowedCategories, cat) && !containsFold(pol.AllowedCategories, "*") {
		return deny(DenialCategory, fmt.Sprintf(
			"Sorry, I can't share %s information in %s mode.", cat, pol.Mode))
	}
	return allow(nil)
}

// clampParams copies the intent entities, clamping brightness and volume
// to the policy caps. The original entity map is never mutated.
func clampParams(entities map[string]string, pol Policy) map[string]string {
	params := make(map[string]string, len(entities))
	for k, v := range entities {
		params[k] = v
	}
	clampInt(params, "brightness", pol.BrightnessCap)
	clampInt(params, "volume", pol.VolumeCap)
	return params
}

func clampInt(params map[string]string, key string, limit int) {
	raw, ok := params[key]
	if !ok || limit <= 0 {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return
	}
	if v > limit {
		params[key] = strconv.Itoa(limit)
	}
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
