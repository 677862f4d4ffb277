// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instrument drives the external input-gen instrumentation tool.
//
// One invocation per module produces the generator and runner executables
// and the available-functions manifest. A failed invocation is reported
// as a flag on the Result, never as an error, so the caller can still
// account for the module's functions.
package instrument

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// DefaultTool is the instrumentation tool looked up on PATH.
const DefaultTool = "input-gen"

// ErrToolFailed indicates the tool exited with a non-zero status.
var ErrToolFailed = errors.New("instrumentation tool failed")

// Options configure every invocation of the tool.
type Options struct {
	// Tool is the instrumentation executable. Empty means DefaultTool.
	Tool string

	// GenerateRuntime and RunRuntime are the runtime sources or objects
	// linked into the generator and runner.
	GenerateRuntime string
	RunRuntime      string

	// Debug requests debug symbols in the produced executables.
	Debug bool

	// Coverage instruments the runner for profile collection, linking
	// ProfilingRuntime.
	Coverage         bool
	ProfilingRuntime string

	// DisablePointers turns off pointer instrumentation.
	DisablePointers bool

	// BranchHints enables branch-hint instrumentation. Mutually exclusive
	// with CoverageRepresentation.
	BranchHints bool

	// CoverageRepresentation selects the alternative coverage
	// representation instead of branch hints.
	CoverageRepresentation bool

	// Timeout bounds one invocation. Zero means no timeout.
	Timeout time.Duration
}

// Request is one instrumentation of one module.
type Request struct {
	// Module is the path of the module's bitcode.
	Module string

	// Outdir receives the executables and manifest.
	Outdir string

	// Profile is an optional merged profile used to bias instrumentation.
	Profile string
}

// Result reports how an invocation went.
type Result struct {
	// Failed is true on non-zero exit, timeout or launch failure.
	Failed bool

	// Err explains a failure.
	Err error

	// Elapsed is the time the invocation took.
	Elapsed time.Duration
}

// Driver invokes the instrumentation tool through a Supervisor.
type Driver struct {
	sup    supervisor.Supervisor
	opts   Options
	logger *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(sup supervisor.Supervisor, opts Options, logger *slog.Logger) *Driver {
	if opts.Tool == "" {
		opts.Tool = DefaultTool
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{sup: sup, opts: opts, logger: logger}
}

// Options returns the driver's configuration.
func (d *Driver) Options() Options {
	return d.opts
}

// Instrument runs the tool for one module.
//
// # Description
//
// Creates the output directory and invokes the tool with the runtimes,
// output directory and module, followed by the optional flags. Never
// returns an error: every failure sets Result.Failed.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - req: Module, output directory and optional profile.
//
// # Outputs
//
//   - Result: Failed flag, cause and elapsed time.
func (d *Driver) Instrument(ctx context.Context, req Request) Result {
	start := time.Now()
	fail := func(err error) Result {
		d.logger.Warn("instrumentation failed",
			slog.String("module", req.Module),
			slog.String("error", err.Error()))
		return Result{Failed: true, Err: err, Elapsed: time.Since(start)}
	}

	if err := os.MkdirAll(req.Outdir, 0750); err != nil {
		return fail(fmt.Errorf("create output directory: %w", err))
	}

	cmd := supervisor.Command{
		Path:    d.opts.Tool,
		Args:    d.Args(req),
		Timeout: d.opts.Timeout,
	}
	d.logger.Debug("instrumenting", slog.String("cmd", cmd.String()))

	exit, err := d.sup.Launch(ctx, cmd)
	if err != nil {
		return fail(err)
	}
	if !exit.Success() {
		return fail(fmt.Errorf("%w: exit status %d", ErrToolFailed, exit.Code))
	}
	return Result{Elapsed: time.Since(start)}
}

// Args builds the tool's argument vector for req.
func (d *Driver) Args(req Request) []string {
	args := []string{
		"--input-gen-runtime", d.opts.GenerateRuntime,
		"--input-run-runtime", d.opts.RunRuntime,
		"--output-dir", req.Outdir,
		req.Module,
		"--compile-input-gen-executables",
	}
	if d.opts.Debug {
		args = append(args, "-g")
	}
	if d.opts.Coverage {
		args = append(args,
			"--instrumented-module-for-coverage",
			"--profiling-runtime-path="+d.opts.ProfilingRuntime)
	}
	if req.Profile != "" {
		args = append(args, "--profile-path="+req.Profile)
	}
	if d.opts.DisablePointers {
		args = append(args, "--input-gen-instrument-pointers=false")
	}
	switch {
	case d.opts.CoverageRepresentation:
		args = append(args, "--input-gen-use-coverage-representation")
	case d.opts.BranchHints:
		args = append(args, "--input-gen-branch-hints=true")
	default:
		args = append(args, "--input-gen-branch-hints=false")
	}
	return args
}

// Version asks the tool for its version string.
func (d *Driver) Version(ctx context.Context) (string, error) {
	var out bytes.Buffer
	exit, err := d.sup.Launch(ctx, supervisor.Command{
		Path:    d.opts.Tool,
		Args:    []string{"--version"},
		Timeout: 30 * time.Second,
		Stdout:  &out,
		Stderr:  &out,
	})
	if err != nil {
		return "", fmt.Errorf("query %s version: %w", d.opts.Tool, err)
	}
	if !exit.Success() {
		return "", fmt.Errorf("%w: %s --version exited %d", ErrToolFailed, d.opts.Tool, exit.Code)
	}
	return strings.TrimSpace(out.String()), nil
}
