// Copyright (C) 2025 Hearthward Labs (ops@hearthward.dev)
// Tests for logger construction.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseLevel(tc.name), "level %q", tc.name)
	}
}

func TestNewEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Config{Format: FormatJSON, Writer: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("assistant starting", "port", 8420)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "assistant starting", line["msg"])
	assert.EqualValues(t, 8420, line["port"])
}

func TestNewHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "warn", Format: FormatText, Writer: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestNewDuplicatesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "assistant.log")
	var buf bytes.Buffer
	logger, closer, err := New(Config{Format: FormatJSON, Writer: &buf, FilePath: path})
	require.NoError(t, err)

	logger.Info("session reaped", "count", 3)
	require.NoError(t, closer.Close())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(onDisk))
}
