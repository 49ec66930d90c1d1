// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"regexp"
	"strings"

	"github.com/hearthward/hearthward/services/assistant/datatypes"
)

// FallbackConfidence is the fixed conservative confidence reported by the
// keyword matcher. The matcher cannot distinguish a strong match from a
// lucky one, so it never claims more than this.
const FallbackConfidence = 0.45

// =============================================================================
// Keyword Pattern Matcher
// =============================================================================

// controlVerbs match the start of a device-control utterance.
var controlVerbs = regexp.MustCompile(
	`\b(turn on|turn off|switch on|switch off|dim|brighten|lock|unlock|open|close|play|pause|stop|mute|unmute|set)\b`)

// domainKeywords maps utterance nouns to control domains.
var domainKeywords = []struct {
	words  []string
	domain string
}{
	{[]string{"light", "lights", "lamp", "lamps", "bulb"}, "light"},
	{[]string{"lock", "door", "deadbolt"}, "lock"},
	{[]string{"thermostat", "heating", "heater", "ac", "air conditioning"}, "thermostat"},
	{[]string{"music", "speaker", "speakers", "tv", "television", "volume", "song"}, "media"},
	{[]string{"fan", "fans"}, "fan"},
	{[]string{"camera", "cameras"}, "camera"},
	{[]string{"garage"}, "garage"},
}

var infoKeywords = []struct {
	words    []string
	category datatypes.IntentCategory
}{
	{[]string{"weather", "forecast", "temperature outside", "rain", "raining", "snow", "snowing",
		"sunny", "umbrella", "windy", "humidity"}, datatypes.IntentWeather},
	{[]string{"score", "game", "match", "playoffs", "season opener", "who won", "who's winning",
		"playing tonight", "playing today"}, datatypes.IntentSports},
	{[]string{"concert", "tickets", "event", "events", "show", "shows", "festival", "happening",
		"restaurant", "restaurants", "dining", "open near", "things to do", "movie times"},
		datatypes.IntentEvents},
}

var numberPercent = regexp.MustCompile(`(\d{1,3})\s*(?:percent|%)`)

var questionWords = []string{"who", "what", "when", "where", "why", "how", "which", "is ", "are ", "was ", "does ", "did ", "tell me"}

// PatternMatcher is the deterministic fallback classifier.
//
// # Description
//
// Covers the same intent enumeration as the model-backed path using
// keyword and regex tables. It is used whenever the model call fails or
// returns malformed output, so classification never fails outright. All
// verdicts carry FallbackConfidence.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type PatternMatcher struct{}

// NewPatternMatcher returns the deterministic keyword classifier.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{}
}

// Match classifies an utterance by keyword tables.
func (m *PatternMatcher) Match(text string) datatypes.Intent {
	lower := strings.ToLower(strings.TrimSpace(text))

	if verb := controlVerbs.FindString(lower); verb != "" {
		if domain := matchDomain(lower); domain != "" {
			return datatypes.Intent{
				Category:   datatypes.IntentControl,
				Confidence: FallbackConfidence,
				Entities:   controlEntities(lower, verb, domain),
			}
		}
	}

	for _, group := range infoKeywords {
		for _, w := range group.words {
			if strings.Contains(lower, w) {
				return datatypes.Intent{
					Category:   group.category,
					Confidence: FallbackConfidence,
					Entities:   map[string]string{},
				}
			}
		}
	}

	for _, q := range questionWords {
		if strings.HasPrefix(lower, q) {
			return datatypes.Intent{
				Category:   datatypes.IntentGeneral,
				Confidence: FallbackConfidence,
				Entities:   map[string]string{},
			}
		}
	}

	return datatypes.Intent{
		Category:   datatypes.IntentUnknown,
		Confidence: FallbackConfidence,
		Entities:   map[string]string{},
	}
}

func matchDomain(lower string) string {
	for _, group := range domainKeywords {
		for _, w := range group.words {
			if containsWord(lower, w) {
				return group.domain
			}
		}
	}
	return ""
}

// controlEntities extracts the action, domain, device phrase, and any
// percentage parameter from a control utterance.
func controlEntities(lower, verb, domain string) map[string]string {
	entities := map[string]string{
		"action": normalizeAction(verb),
		"domain": domain,
	}

	// Device phrase: everything after the verb, trimmed of articles and
	// trailing qualifiers ("to 80 percent", "please").
	if idx := strings.Index(lower, verb); idx >= 0 {
		phrase := strings.TrimSpace(lower[idx+len(verb):])
		phrase = strings.TrimPrefix(phrase, "the ")
		for _, cut := range []string{" to ", " at ", " please", ","} {
			if i := strings.Index(phrase, cut); i >= 0 {
				phrase = phrase[:i]
			}
		}
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			entities["device"] = phrase
		}
	}

	if m := numberPercent.FindStringSubmatch(lower); m != nil {
		key := "brightness"
		if domain == "media" {
			key = "volume"
		}
		entities[key] = m[1]
	}
	return entities
}

func normalizeAction(verb string) string {
	switch verb {
	case "turn on", "switch on":
		return "on"
	case "turn off", "switch off":
		return "off"
	default:
		return verb
	}
}

// containsWord reports whether w appears in s on word boundaries, so
// "fan" does not match "fantastic".
func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		leftOK := start == 0 || !isLetter(s[start-1])
		rightOK := end == len(s) || !isLetter(s[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
