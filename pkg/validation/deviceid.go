// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for identifiers that end up
// in storage keys, URL paths, or controller payloads.
//
// Device identifiers arrive from URL path segments and dispatcher payloads;
// validating them here means nothing downstream has to reason about key
// injection or path traversal.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxDeviceIDLength mirrors the request-body limit on device_id.
const MaxDeviceIDLength = 128

// deviceIDPattern matches satellite device identifiers: lowercase
// alphanumerics with dot, underscore, and hyphen separators, starting with
// an alphanumeric. Covers names like "kitchen-speaker" and "esp32.living_room".
var deviceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]*$`)

// ValidateDeviceID checks a device identifier before it is used in a
// session key or device-controller call.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("device id cannot be empty")
	}
	if len(id) > MaxDeviceIDLength {
		return fmt.Errorf("device id exceeds %d characters", MaxDeviceIDLength)
	}
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid device id %q: lowercase alphanumerics, dots, underscores, and hyphens only", id)
	}
	return nil
}

// SanitizeDeviceID normalizes and validates a device identifier, returning
// the lowercase form the rest of the system keys on.
func SanitizeDeviceID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateDeviceID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
