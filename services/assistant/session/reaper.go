// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultReapInterval is how often the reaper scans for expired sessions.
const DefaultReapInterval = 5 * time.Minute

// Reaper periodically removes expired sessions from the store.
//
// # Description
//
// Runs Manager.Reap on a fixed interval using the ticker + done channel
// pattern for graceful shutdown. Reap errors are logged, never fatal;
// the next cycle retries. Expiry is also checked lazily on every read,
// so the reaper is a space-reclamation mechanism, not a correctness one.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewReaper creates a reaper over the given manager. interval <= 0 uses
// DefaultReapInterval.
func NewReaper(manager *Manager, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		manager:  manager,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background reap loop.
//
// # Outputs
//
//   - error: Non-nil if the reaper is already running.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("session reaper is already running")
	}
	r.running = true
	r.done = make(chan struct{}) // reset for restart
	r.mu.Unlock()

	r.logger.Info("session.reaper: starting", "interval", r.interval.String())
	go r.runLoop(ctx)
	return nil
}

// Stop signals the reap loop to exit. Safe to call multiple times.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.logger.Info("session.reaper: stopping")
	close(r.done)
	r.running = false
}

// RunNow triggers an immediate reap cycle outside the schedule.
func (r *Reaper) RunNow(ctx context.Context) (int, error) {
	return r.manager.Reap(ctx)
}

func (r *Reaper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Reap once on start so a restart clears stale sessions immediately.
	r.reapOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session.reaper: stopped (context cancelled)")
			return
		case <-r.done:
			r.logger.Info("session.reaper: stopped (stop requested)")
			return
		case <-ticker.C:
			r.reapOnce(ctx)
		}
	}
}

func (r *Reaper) reapOnce(ctx context.Context) {
	count, err := r.manager.Reap(ctx)
	if err != nil {
		r.logger.Error("session.reaper: reap cycle failed", "error", err)
		return
	}
	if count == 0 {
		r.logger.Debug("session.reaper: reap cycle completed (no expired sessions)")
	}
}
