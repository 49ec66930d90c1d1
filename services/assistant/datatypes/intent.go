// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// IntentCategory is the closed enumeration of utterance purposes.
//
// # Description
//
// Every utterance classifies into exactly one category. Control intents
// take the device-control path; all other categories take the
// search/synthesis path. Unknown is a valid terminal classification, not
// an error: the synthesizer still answers from conversation context.
type IntentCategory string

const (
	IntentControl IntentCategory = "control"
	IntentWeather IntentCategory = "weather"
	IntentEvents  IntentCategory = "events"
	IntentSports  IntentCategory = "sports"
	IntentGeneral IntentCategory = "general"
	IntentUnknown IntentCategory = "unknown"
)

// AllIntentCategories lists every valid category, used by the classifier
// prompt schema and by the provider routing table loader for validation.
var AllIntentCategories = []IntentCategory{
	IntentControl, IntentWeather, IntentEvents,
	IntentSports, IntentGeneral, IntentUnknown,
}

// ParseIntentCategory maps a raw string onto the closed enumeration.
//
// # Outputs
//
//   - IntentCategory: The matching category.
//   - error: Non-nil when the string is not a member of the enumeration.
//     Callers treating model output should fall back to IntentUnknown.
func ParseIntentCategory(s string) (IntentCategory, error) {
	for _, c := range AllIntentCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return IntentUnknown, fmt.Errorf("unknown intent category %q", s)
}

// IsControl reports whether the category routes to device control.
func (c IntentCategory) IsControl() bool { return c == IntentControl }

// Intent is the classifier's verdict for one utterance.
//
// # Fields
//
//   - Category: Member of the closed enumeration.
//   - Confidence: Classifier confidence in [0,1]. The keyword fallback
//     always reports a fixed conservative value.
//   - Entities: Free-form extracted key/value pairs, e.g.
//     {"device": "kitchen lights", "action": "on"} or {"team": "Kraken"}.
//
// Intent is passed by value through the pipeline and never mutated after
// classification.
type Intent struct {
	Category   IntentCategory    `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

// Entity returns the named entity or "" when absent.
func (i Intent) Entity(key string) string {
	if i.Entities == nil {
		return ""
	}
	return i.Entities[key]
}
