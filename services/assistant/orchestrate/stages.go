// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrate drives a query through the fixed stage machine:
// classify, gate, then either device dispatch or the search/synthesize/
// validate loop, and finally the session write. Stage transitions are
// explicit and observable; every query emits an ordered event stream.
package orchestrate

import (
	"sync"
	"time"
)

// Stage is one state of the query pipeline.
type Stage string

const (
	StageReceived     Stage = "received"
	StageClassified   Stage = "classified"
	StageGated        Stage = "gated"
	StageDenied       Stage = "denied" // terminal
	StageDispatching  Stage = "dispatching"
	StageSearching    Stage = "searching"
	StageFusing       Stage = "fusing"
	StageSynthesizing Stage = "synthesizing"
	StageValidating   Stage = "validating"
	StageSessionWrite Stage = "session_write"
	StageDone         Stage = "done" // terminal
)

// stageTransitions is the legal edge set. The pipeline asserts each move
// against this table so an illegal jump is a bug caught immediately, not
// a silent skipped stage.
var stageTransitions = map[Stage][]Stage{
	StageReceived:     {StageClassified},
	StageClassified:   {StageGated},
	StageGated:        {StageDenied, StageDispatching, StageSearching},
	StageDispatching:  {StageSessionWrite},
	StageSearching:    {StageFusing},
	StageFusing:       {StageSynthesizing},
	StageSynthesizing: {StageValidating},
	StageValidating:   {StageSynthesizing, StageSessionWrite},
	StageSessionWrite: {StageDone},
	StageDenied:       {StageSessionWrite},
}

// CanTransition reports whether moving from one stage to another is legal.
func CanTransition(from, to Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a stage ends the pipeline.
func (s Stage) IsTerminal() bool {
	return s == StageDone
}

// StageEvent is one observable pipeline transition, streamed to any
// connected dispatcher over the events websocket.
type StageEvent struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id,omitempty"`
	Stage     Stage     `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// =============================================================================
// Event Notifier
// =============================================================================

// Notifier fans stage events out to subscribers.
//
// # Description
//
// Subscribers get a buffered channel; a slow subscriber drops events
// rather than stalling the pipeline. The pipeline never blocks on
// observation.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan StageEvent]struct{}
}

// subscriberBuffer bounds how far a subscriber may fall behind.
const subscriberBuffer = 64

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan StageEvent]struct{})}
}

// Subscribe registers a new event channel. Call Unsubscribe when done.
func (n *Notifier) Subscribe() chan StageEvent {
	ch := make(chan StageEvent, subscriberBuffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (n *Notifier) Unsubscribe(ch chan StageEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
}

// Publish delivers an event to every subscriber without blocking.
func (n *Notifier) Publish(ev StageEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the pipeline.
		}
	}
}
