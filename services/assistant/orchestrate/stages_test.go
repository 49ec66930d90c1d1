// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// Tests for the stage machine and the event notifier.

package orchestrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to Stage }{
		{StageReceived, StageClassified},
		{StageClassified, StageGated},
		{StageGated, StageDenied},
		{StageGated, StageDispatching},
		{StageGated, StageSearching},
		{StageSearching, StageFusing},
		{StageFusing, StageSynthesizing},
		{StageSynthesizing, StageValidating},
		{StageValidating, StageSynthesizing},
		{StageValidating, StageSessionWrite},
		{StageDispatching, StageSessionWrite},
		{StageDenied, StageSessionWrite},
		{StageSessionWrite, StageDone},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e.from, e.to), "%s -> %s should be legal", e.from, e.to)
	}

	illegal := []struct{ from, to Stage }{
		{StageReceived, StageGated},
		{StageReceived, StageDone},
		{StageClassified, StageSearching},
		{StageDenied, StageSearching},
		{StageDenied, StageDone},
		{StageDone, StageReceived},
		{StageSearching, StageSynthesizing},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e.from, e.to), "%s -> %s should be illegal", e.from, e.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StageDone.IsTerminal())
	assert.False(t, StageDenied.IsTerminal(), "denied still flows through the session write")
	assert.False(t, StageReceived.IsTerminal())
}

func TestNotifierDeliversToAllSubscribers(t *testing.T) {
	n := NewNotifier()
	a := n.Subscribe()
	b := n.Subscribe()
	defer n.Unsubscribe(a)
	defer n.Unsubscribe(b)

	ev := StageEvent{RequestID: "r-1", Stage: StageReceived, At: time.Now()}
	n.Publish(ev)

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestNotifierUnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	n.Unsubscribe(ch)
	n.Unsubscribe(ch) // second call is a no-op

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not reach (or panic on) the
	// closed channel.
	n.Publish(StageEvent{RequestID: "r-2", Stage: StageDone})
}

func TestNotifierDropsWhenSubscriberLagsBehind(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	// Nobody is draining; publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			n.Publish(StageEvent{RequestID: "r-3", Stage: StageReceived})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a lagging subscriber")
	}
	require.Len(t, ch, subscriberBuffer, "excess events are dropped, not queued")
}
