// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestLevel_toSlogLevel_UnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, Level(42).toSlogLevel())
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" Error ", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WritesServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "inputgen", JSON: true, Output: &buf})

	logger.Info("module processed", "idx", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "inputgen", rec["service"])
	assert.Equal(t, "module processed", rec["msg"])
	assert.EqualValues(t, 3, rec["idx"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")
	logger.Error("shown too")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "shown too")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	child := logger.With("module", "a.bc")
	child.Info("round done")

	assert.Contains(t, buf.String(), "module=a.bc")
	assert.NotNil(t, child.Slog())
}

func TestNew_QuietDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	logger.Error("nothing")
	assert.Empty(t, buf.String())
	assert.NoError(t, logger.Close())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir, Service: "worker"})
	logger.Info("to file", "k", "v")
	require.NoError(t, logger.Close())

	name := "worker_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)

	// Second close is a no-op.
	assert.NoError(t, logger.Close())
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	logger.Info("still logs")

	assert.Contains(t, buf.String(), "still logs")
	assert.NoError(t, logger.Close())
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := New(Config{Output: &lockedWriter{mu: &mu, w: &buf}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.With("worker", n).Info("tick")
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, strings.Count(buf.String(), "msg=tick"))
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.Int("idx", 1)}))
	logger.Info("info only to a")
	logger.Warn("warn to both")

	assert.Contains(t, a.String(), "info only to a")
	assert.Contains(t, a.String(), "warn to both")
	assert.NotContains(t, b.String(), "info only to a")
	assert.Contains(t, b.String(), "warn to both")
	assert.Contains(t, b.String(), "idx=1")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, (&multiHandler{}).Enabled(context.Background(), slog.LevelError))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
