// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// Tests for the policy gate.

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/hearthward/pkg/config"
	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// quietEvening is inside the default 22:00-07:00 quiet-hours window.
var quietEvening = time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC)

// midAfternoon is well outside the quiet-hours window.
var midAfternoon = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	gate, err := NewGate(nil) // embedded defaults
	require.NoError(t, err)
	return gate
}

func controlIntent(entities map[string]string) datatypes.Intent {
	return datatypes.Intent{
		Category:   datatypes.IntentControl,
		Confidence: 0.9,
		Entities:   entities,
	}
}

// =============================================================================
// Control Evaluation
// =============================================================================

func TestEvaluateControl_GuestTable(t *testing.T) {
	gate := newTestGate(t)
	pol, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)

	tests := []struct {
		name       string
		entities   map[string]string
		now        time.Time
		wantAllow  bool
		wantReason DenialReason
	}{
		{
			name:      "allowed domain passes",
			entities:  map[string]string{"domain": "light", "action": "on", "device": "living room lamp"},
			now:       midAfternoon,
			wantAllow: true,
		},
		{
			name:       "denied domain rejected",
			entities:   map[string]string{"domain": "lock", "action": "unlock", "device": "back door"},
			now:        midAfternoon,
			wantAllow:  false,
			wantReason: DenialDomain,
		},
		{
			name:       "thermostat not in allow list",
			entities:   map[string]string{"domain": "thermostat", "action": "set", "device": "hallway"},
			now:        midAfternoon,
			wantAllow:  false,
			wantReason: DenialDomain,
		},
		{
			name:       "denied entity rejected even in allowed domain",
			entities:   map[string]string{"domain": "light", "action": "on", "device": "front door light"},
			now:        midAfternoon,
			wantAllow:  false,
			wantReason: DenialEntity,
		},
		{
			name:       "media denied during quiet hours",
			entities:   map[string]string{"domain": "media", "action": "play", "device": "kitchen speaker"},
			now:        quietEvening,
			wantAllow:  false,
			wantReason: DenialQuietHours,
		},
		{
			name:      "light allowed during quiet hours",
			entities:  map[string]string{"domain": "light", "action": "off", "device": "bedroom"},
			now:       quietEvening,
			wantAllow: true,
		},
		{
			name:       "missing domain rejected",
			entities:   map[string]string{"action": "on"},
			now:        midAfternoon,
			wantAllow:  false,
			wantReason: DenialEntity,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := gate.EvaluateControl(pol, controlIntent(tc.entities), tc.now)
			assert.Equal(t, tc.wantAllow, decision.Allowed)
			if !tc.wantAllow {
				assert.Equal(t, tc.wantReason, decision.Reason)
				assert.NotEmpty(t, decision.Message)
			}
		})
	}
}

func TestEvaluateControl_ClampsCapsInsteadOfDenying(t *testing.T) {
	gate := newTestGate(t)
	pol, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)

	intent := controlIntent(map[string]string{
		"domain":     "light",
		"action":     "on",
		"device":     "living room lamp",
		"brightness": "100",
	})
	decision := gate.EvaluateControl(pol, intent, midAfternoon)

	require.True(t, decision.Allowed)
	assert.Equal(t, "80", decision.Params["brightness"])
	// The original intent entities are never mutated.
	assert.Equal(t, "100", intent.Entities["brightness"])
}

func TestEvaluateControl_CapUnderLimitUntouched(t *testing.T) {
	gate := newTestGate(t)
	pol, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)

	decision := gate.EvaluateControl(pol, controlIntent(map[string]string{
		"domain": "media", "action": "play", "device": "kitchen speaker", "volume": "40",
	}), midAfternoon)

	require.True(t, decision.Allowed)
	assert.Equal(t, "40", decision.Params["volume"])
}

func TestEvaluateControl_OwnerWildcard(t *testing.T) {
	gate := newTestGate(t)
	pol, err := gate.PolicyFor(context.Background(), datatypes.ModeOwner)
	require.NoError(t, err)

	for _, domain := range []string{"light", "lock", "thermostat", "garage"} {
		decision := gate.EvaluateControl(pol, controlIntent(map[string]string{
			"domain": domain, "action": "toggle", "device": "front door",
		}), midAfternoon)
		assert.True(t, decision.Allowed, "owner should control %s", domain)
	}
}

// =============================================================================
// Mode Resolution
// =============================================================================

func TestPolicyFor_UnknownModeFallsBackToGuest(t *testing.T) {
	gate := newTestGate(t)

	pol, err := gate.PolicyFor(context.Background(), "visitor")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ModeGuest, pol.Mode)

	// And the guest restrictions apply.
	decision := gate.EvaluateControl(pol, controlIntent(map[string]string{
		"domain": "lock", "action": "unlock", "device": "front door",
	}), midAfternoon)
	assert.False(t, decision.Allowed)
}

// =============================================================================
// Info Evaluation
// =============================================================================

func TestEvaluateInfo(t *testing.T) {
	gate := newTestGate(t)

	guest, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)
	owner, err := gate.PolicyFor(context.Background(), datatypes.ModeOwner)
	require.NoError(t, err)

	assert.True(t, gate.EvaluateInfo(guest, datatypes.IntentWeather).Allowed)
	assert.True(t, gate.EvaluateInfo(owner, datatypes.IntentGeneral).Allowed)
}

func TestEvaluateInfo_UnknownBypassesAllowList(t *testing.T) {
	gate := newTestGate(t)

	// An unclassifiable guest utterance still gets answered: unknown is a
	// classification outcome, not a category the allow list enumerates.
	guest, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)
	assert.True(t, gate.EvaluateInfo(guest, datatypes.IntentUnknown).Allowed)
}

func TestEvaluateInfo_ExplicitUnknownDenyStillWins(t *testing.T) {
	tables := []byte(`
policies:
  guest:
    info:
      allowed_categories: [weather]
      denied_categories: [unknown]
`)
	gate, err := NewGate(config.NewStaticProvider(tables))
	require.NoError(t, err)

	guest, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)

	decision := gate.EvaluateInfo(guest, datatypes.IntentUnknown)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenialCategory, decision.Reason)
}

// =============================================================================
// Quiet Hours Window
// =============================================================================

func TestInQuietHours_CrossesMidnight(t *testing.T) {
	gate := newTestGate(t)
	pol, err := gate.PolicyFor(context.Background(), datatypes.ModeGuest)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before window", time.Date(2025, 6, 10, 21, 59, 0, 0, time.UTC), false},
		{"window start", time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC), true},
		{"past midnight", time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC), true},
		{"just before end", time.Date(2025, 6, 11, 6, 59, 0, 0, time.UTC), true},
		{"window end", time.Date(2025, 6, 11, 7, 0, 0, 0, time.UTC), false},
		{"midday", midAfternoon, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pol.InQuietHours(tc.now))
		})
	}
}
