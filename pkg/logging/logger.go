// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for Hearthward services.
//
// # Description
//
// Built on the standard library slog package. The server logs JSON to
// stdout for the log collector; admin CLI commands log human-readable
// text to stderr so command output stays clean on stdout. An optional
// log file receives a copy of everything, which is how households
// without a collector keep history across restarts.
//
// # Basic Usage
//
//	logger, closer, err := logging.New(logging.Config{Format: logging.FormatJSON})
//	if err != nil { ... }
//	defer closer.Close()
//	slog.SetDefault(logger)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Output formats.
const (
	// FormatJSON emits one JSON object per line, for collectors.
	FormatJSON = "json"

	// FormatText emits human-readable key=value lines, for terminals.
	FormatText = "text"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level emitted: "debug", "info", "warn",
	// "error". Empty means info.
	Level string

	// Format is FormatJSON or FormatText. Empty means FormatJSON.
	Format string

	// FilePath, when set, duplicates output to this file. Parent
	// directories are created as needed.
	FilePath string

	// Writer overrides the primary destination. Nil means os.Stdout for
	// JSON and os.Stderr for text.
	Writer io.Writer
}

// ParseLevel maps a level name to its slog.Level. Unknown names map to
// info rather than failing, so a typo in LOG_LEVEL never kills the
// server.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// nopCloser satisfies the closer contract when no file is open.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger from the config.
//
// # Outputs
//
//   - *slog.Logger: Ready logger; the caller decides whether to install
//     it as the process default.
//   - io.Closer: Closes the log file, if one was opened. Never nil.
//   - error: Non-nil when the log file cannot be created.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}

	w := cfg.Writer
	if w == nil {
		if cfg.Format == FormatText {
			w = os.Stderr
		} else {
			w = os.Stdout
		}
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.FilePath, err)
		}
		w = io.MultiWriter(w, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}
