// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/generate"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// NotedEnv lists the environment variables recorded with every batch.
var NotedEnv = []string{
	generate.EnvEnablePtrCmpRetry,
	generate.EnvDisablePtrCmpRetry,
	generate.EnvDisableBranchHints,
}

// VersionReporter reports the instrumentation tool's version.
type VersionReporter interface {
	Version(ctx context.Context) (string, error)
}

// NewRunID returns a fresh batch id.
func NewRunID() string {
	return uuid.NewString()
}

// NoteRunInfo captures the circumstances of a batch.
//
// # Description
//
// Records the tool version, the set variables of NotedEnv and cfg encoded
// as JSON. The module range is filled in by Orchestrator.Run. Failing to
// query the version or encode cfg is logged and leaves the field empty.
func NoteRunInfo(ctx context.Context, runID string, tool VersionReporter, cfg any, logger *slog.Logger) stats.RunInfo {
	if logger == nil {
		logger = slog.Default()
	}
	info := stats.RunInfo{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
	}

	if tool != nil {
		v, err := tool.Version(ctx)
		if err != nil {
			logger.Warn("cannot determine tool version", slog.String("error", err.Error()))
		}
		info.ToolVersion = v
	}

	for _, key := range NotedEnv {
		if v, ok := os.LookupEnv(key); ok {
			if info.Environment == nil {
				info.Environment = map[string]string{}
			}
			info.Environment[key] = v
		}
	}

	if cfg != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			logger.Warn("cannot record configuration", slog.String("error", err.Error()))
		} else {
			info.Config = data
		}
	}
	return info
}
