// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Configuration File Types
// =============================================================================

// PolicyFile is the on-disk YAML layout for the policy tables.
type PolicyFile struct {
	Policies   map[string]ModeSpec `yaml:"policies"`
	QuietHours QuietHoursSpec      `yaml:"quiet_hours"`
}

// ModeSpec is the configured policy for one mode ("owner" or "guest").
type ModeSpec struct {
	Control ControlSpec `yaml:"control"`
	Info    InfoSpec    `yaml:"info"`
}

// ControlSpec configures the device-control side of a mode's policy.
//
// A "*" entry in AllowedDomains grants every domain not explicitly denied.
type ControlSpec struct {
	AllowedDomains []string `yaml:"allowed_domains"`
	DeniedDomains  []string `yaml:"denied_domains"`
	DeniedEntities []string `yaml:"denied_entities"`
	BrightnessCap  int      `yaml:"brightness_cap"`
	VolumeCap      int      `yaml:"volume_cap"`
}

// InfoSpec configures the information-category side of a mode's policy.
type InfoSpec struct {
	AllowedCategories []string `yaml:"allowed_categories"`
	DeniedCategories  []string `yaml:"denied_categories"`
}

// QuietHoursSpec is a daily window during which the listed control
// domains are restricted. Start and End are "HH:MM" local time; a window
// may cross midnight (e.g. 22:00 to 07:00).
type QuietHoursSpec struct {
	Start   string   `yaml:"start"`
	End     string   `yaml:"end"`
	Domains []string `yaml:"domains"`
}

// Validate checks the table for structural problems at load time so a
// broken hot-reload never replaces a good table.
func (f *PolicyFile) Validate() error {
	if len(f.Policies) == 0 {
		return fmt.Errorf("policy file defines no modes")
	}
	for mode := range f.Policies {
		if mode != "owner" && mode != "guest" {
			return fmt.Errorf("policy file defines unknown mode %q", mode)
		}
	}
	if f.QuietHours.Start != "" {
		if _, err := parseClock(f.QuietHours.Start); err != nil {
			return fmt.Errorf("invalid quiet_hours.start: %w", err)
		}
		if _, err := parseClock(f.QuietHours.End); err != nil {
			return fmt.Errorf("invalid quiet_hours.end: %w", err)
		}
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// =============================================================================
// Computed Policy
// =============================================================================

// Policy is the effective permission set for one request.
//
// # Description
//
// Derived from the configured tables and the request mode, computed fresh
// for every request so a mode change or a hot-reloaded table is never
// served stale. Policy is an immutable value passed explicitly down the
// call chain; nothing reads ambient policy state.
type Policy struct {
	Mode              string
	AllowedDomains    []string
	DeniedDomains     []string
	DeniedEntities    []string
	BrightnessCap     int
	VolumeCap         int
	AllowedCategories []string
	DeniedCategories  []string
	QuietHours        QuietHoursSpec
}

// InQuietHours reports whether now falls inside the configured window.
// Windows may cross midnight.
func (p Policy) InQuietHours(now time.Time) bool {
	if p.QuietHours.Start == "" || p.QuietHours.End == "" {
		return false
	}
	start, err := parseClock(p.QuietHours.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(p.QuietHours.End)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// =============================================================================
// Decisions
// =============================================================================

// DenialReason records why the gate rejected a request.
type DenialReason string

const (
	DenialDomain     DenialReason = "domain_denied"
	DenialEntity     DenialReason = "entity_denied"
	DenialCategory   DenialReason = "category_denied"
	DenialQuietHours DenialReason = "quiet_hours"
)

// Decision is the gate's verdict for one request.
//
// When Allowed is false, Message holds the fixed-format user-facing
// denial text; the orchestrator returns it verbatim and never proceeds
// to search, synthesis, or device control. When Allowed is true, Params
// holds the (possibly rewritten) control parameters: brightness and
// volume values above the mode's caps are clamped, not denied.
type Decision struct {
	Allowed bool
	Reason  DenialReason
	Message string
	Params  map[string]string
}

func allow(params map[string]string) Decision {
	return Decision{Allowed: true, Params: params}
}

func deny(reason DenialReason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}
