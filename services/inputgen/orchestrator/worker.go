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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/processor"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// ErrWorkerPanic is wrapped by results of a worker that panicked.
var ErrWorkerPanic = errors.New("module worker panicked")

// ErrWorkerKilled is wrapped by results of a worker that died from a signal.
var ErrWorkerKilled = errors.New("module worker killed")

// Worker processes one module and never returns an untyped failure.
type Worker interface {
	Process(ctx context.Context, m *source.Module) Result
}

// ModuleProcessor is the part of processor.Processor a worker needs.
type ModuleProcessor interface {
	Process(ctx context.Context, m *source.Module) (*processor.Outcome, error)
}

// =============================================================================
// InProcess
// =============================================================================

// InProcess runs the processor in the calling goroutine.
//
// A panic inside the processor becomes a retryable result.
type InProcess struct {
	Processor ModuleProcessor
}

// Process implements Worker.
func (w InProcess) Process(ctx context.Context, m *source.Module) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Retryable(fmt.Errorf("%w: %v\n%s", ErrWorkerPanic, r, debug.Stack()))
		}
	}()

	out, err := w.Processor.Process(ctx, m)
	if err != nil {
		return Result{Kind: Classify(err), Err: err}
	}
	return Ok(out.Stats)
}

// =============================================================================
// Subprocess
// =============================================================================

// SubprocessOptions configure isolated module workers.
type SubprocessOptions struct {
	// Executable is the CLI binary. Empty means os.Executable().
	Executable string

	// Args precede the module subcommand's own flags, for example
	// ["--config", "batch.yaml", "module"].
	Args []string

	// Outdir is the batch output root. Each module gets Outdir/<index>.
	Outdir string

	// Timeout bounds one module. Zero means none.
	Timeout time.Duration

	// Verbose forwards the child's output.
	Verbose bool
}

// Subprocess runs each module in a child process of the CLI.
//
// # Description
//
// The child writes its statistics as JSON to a file named by --stats-out
// and reports its Kind through the exit status. A child killed by a
// signal, typically by the out-of-memory killer, yields a retryable
// result instead of taking the batch down.
type Subprocess struct {
	sup    supervisor.Supervisor
	opts   SubprocessOptions
	logger *slog.Logger
}

// NewSubprocess creates a Subprocess worker.
func NewSubprocess(sup supervisor.Supervisor, opts SubprocessOptions, logger *slog.Logger) (*Subprocess, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating own executable: %w", err)
		}
		opts.Executable = exe
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subprocess{sup: sup, opts: opts, logger: logger}, nil
}

// Args returns the child's argument vector for m.
func (w *Subprocess) Args(m *source.Module, statsOut string) []string {
	args := append([]string(nil), w.opts.Args...)
	return append(args,
		"--input", m.Path,
		"--outdir", filepath.Join(w.opts.Outdir, strconv.Itoa(m.Index)),
		"--language", m.Language,
		"--index", strconv.Itoa(m.Index),
		"--stats-out", statsOut,
	)
}

// Process implements Worker.
func (w *Subprocess) Process(ctx context.Context, m *source.Module) Result {
	f, err := os.CreateTemp("", "inputgen-stats-*.json")
	if err != nil {
		return Retryable(fmt.Errorf("creating stats file: %w", err))
	}
	statsOut := f.Name()
	f.Close()
	defer os.Remove(statsOut)

	cmd := supervisor.Command{
		Path:    w.opts.Executable,
		Args:    w.Args(m, statsOut),
		Timeout: w.opts.Timeout,
	}
	if w.opts.Verbose {
		cmd.Stdout, cmd.Stderr = os.Stderr, os.Stderr
	}

	exit, err := w.sup.Launch(ctx, cmd)
	switch {
	case errors.Is(err, supervisor.ErrLaunch):
		return Fatal(err)
	case err != nil:
		return Retryable(err)
	case exit.Signaled:
		return Retryable(fmt.Errorf("%w: %s", ErrWorkerKilled, exit.Signal))
	}

	kind := KindFromExitCode(exit.Code)
	if kind != KindOk {
		return Result{Kind: kind, Err: fmt.Errorf("module worker exited with status %d", exit.Code)}
	}

	st, err := readStats(statsOut)
	if err != nil {
		return Retryable(err)
	}
	return Ok(st)
}

// WriteStats writes st where a Subprocess worker expects it.
func WriteStats(path string, st stats.Statistics) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	return nil
}

func readStats(path string) (stats.Statistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stats.Statistics{}, fmt.Errorf("read statistics: %w", err)
	}
	var st stats.Statistics
	if err := json.Unmarshal(data, &st); err != nil {
		return stats.Statistics{}, fmt.Errorf("decode statistics: %w", err)
	}
	return st, nil
}
