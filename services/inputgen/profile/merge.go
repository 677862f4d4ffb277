// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile adapts the external profile tools: the merge tool that
// accumulates per-run profiles, and the coverage query tool that reports
// basic-block totals for a merged profile.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// DefaultMergeTool merges profiles.
const DefaultMergeTool = "llvm-profdata"

// ErrMergeFailed indicates the merge tool failed.
var ErrMergeFailed = errors.New("profile merge failed")

// MergeOptions configure the merge tool.
type MergeOptions struct {
	// Tool is the merge executable. Empty means DefaultMergeTool.
	Tool string

	// Timeout bounds one merge. Zero means no timeout.
	Timeout time.Duration
}

// Merger folds profiles into an accumulated profile.
type Merger struct {
	sup  supervisor.Supervisor
	opts MergeOptions
}

// NewMerger creates a Merger.
func NewMerger(sup supervisor.Supervisor, opts MergeOptions) *Merger {
	if opts.Tool == "" {
		opts.Tool = DefaultMergeTool
	}
	return &Merger{sup: sup, opts: opts}
}

// Merge folds in into accumulated.
//
// # Description
//
// Runs "merge -o accumulated accumulated in". When accumulated does not
// exist yet it is created from in alone. On failure the previous
// accumulated profile is left as the tool left it; callers treat a failed
// merge as no new information.
func (m *Merger) Merge(ctx context.Context, accumulated, in string) error {
	args := []string{"merge", "-o", accumulated}
	if layout.Exists(accumulated) {
		args = append(args, accumulated)
	}
	args = append(args, in)

	var stderr bytes.Buffer
	exit, err := m.sup.Launch(ctx, supervisor.Command{
		Path:    m.opts.Tool,
		Args:    args,
		Timeout: m.opts.Timeout,
		Stderr:  &stderr,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	if !exit.Success() {
		return fmt.Errorf("%w: %s exited %d: %s", ErrMergeFailed,
			m.opts.Tool, exit.Code, strings.TrimSpace(stderr.String()))
	}
	return nil
}
