// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides the configuration-provider abstraction used by
// the policy gate and the provider routing table.
//
// # Description
//
// Components that consume hot-reloadable configuration accept a Provider
// at construction time instead of reading files or environment variables
// at call sites. Three adapters are provided:
//
//   - StaticProvider: fixed bytes, typically go:embed defaults.
//   - FileProvider: a YAML file on disk with fsnotify change notification.
//   - CachedProvider: wraps another provider with a TTL cache and a
//     fallback provider for when the upstream is unavailable.
//
// The TTL and fallback behavior live inside CachedProvider; call sites
// only ever see Fetch.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Provider Interface
// =============================================================================

// Provider supplies raw configuration bytes.
type Provider interface {
	// Fetch returns the current configuration document.
	Fetch(ctx context.Context) ([]byte, error)
}

// Watcher is implemented by providers whose source can change at runtime.
type Watcher interface {
	// Watch invokes onChange every time the underlying source changes,
	// until ctx is cancelled. Watch does not block.
	Watch(ctx context.Context, onChange func()) error
}

// LoadYAML fetches from a provider and unmarshals the YAML document.
func LoadYAML(ctx context.Context, p Provider, into any) error {
	raw, err := p.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("config fetch failed: %w", err)
	}
	if err := yaml.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("config unmarshal failed: %w", err)
	}
	return nil
}

// =============================================================================
// Static Provider
// =============================================================================

// StaticProvider serves fixed bytes, typically embedded defaults.
type StaticProvider struct {
	data []byte
}

// NewStaticProvider wraps a byte slice as a Provider.
func NewStaticProvider(data []byte) *StaticProvider {
	return &StaticProvider{data: data}
}

// Fetch implements Provider.
func (p *StaticProvider) Fetch(_ context.Context) ([]byte, error) {
	return p.data, nil
}

// =============================================================================
// File Provider
// =============================================================================

// FileProvider reads a configuration file and signals changes via fsnotify.
//
// # Thread Safety
//
// Fetch and Watch are safe for concurrent use.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider for the given path. The file does
// not need to exist yet; Fetch errors until it does.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Fetch implements Provider.
func (p *FileProvider) Fetch(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	return raw, nil
}

// Watch implements Watcher using fsnotify on the file's directory.
//
// # Description
//
// Watching the directory rather than the file survives editors and
// config-map mounts that replace the file via rename. Events for other
// files in the directory are ignored.
func (p *FileProvider) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(p.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				slog.Info("config.file: configuration change detected", "path", p.path)
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.file: watcher error", "path", p.path, "error", err)
			}
		}
	}()
	return nil
}

// =============================================================================
// Cached Provider
// =============================================================================

// CachedProvider wraps an upstream provider with a TTL cache and fallback.
//
// # Description
//
// Within the TTL, Fetch serves the cached document without touching the
// upstream. After expiry it refetches; if the upstream fails it serves
// the stale cached copy, and only when nothing was ever cached does it
// consult the fallback provider. This is the standard remote-config
// pattern: the upstream may be an admin service, the fallback the
// embedded defaults.
type CachedProvider struct {
	upstream Provider
	fallback Provider
	ttl      time.Duration

	mu        sync.Mutex
	cached    []byte
	fetchedAt time.Time
}

// NewCachedProvider wraps upstream with a TTL cache. fallback may be nil.
func NewCachedProvider(upstream, fallback Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{upstream: upstream, fallback: fallback, ttl: ttl}
}

// Fetch implements Provider.
func (p *CachedProvider) Fetch(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	raw, err := p.upstream.Fetch(ctx)
	if err == nil {
		p.cached = raw
		p.fetchedAt = time.Now()
		return raw, nil
	}

	if p.cached != nil {
		slog.Warn("config.cached: upstream fetch failed, serving stale copy",
			"age", time.Since(p.fetchedAt).String(),
			"error", err,
		)
		return p.cached, nil
	}
	if p.fallback != nil {
		slog.Warn("config.cached: upstream fetch failed, using fallback", "error", err)
		return p.fallback.Fetch(ctx)
	}
	return nil, err
}

// Invalidate drops the cached copy so the next Fetch hits the upstream.
// The file watcher calls this on change notification.
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

var (
	_ Provider = (*StaticProvider)(nil)
	_ Provider = (*FileProvider)(nil)
	_ Watcher  = (*FileProvider)(nil)
	_ Provider = (*CachedProvider)(nil)
)
