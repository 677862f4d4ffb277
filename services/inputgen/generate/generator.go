// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate runs the generator executable to produce inputs.
//
// Each call to Round appends exactly one Round to the function, whether
// generation succeeded or not. Seeds are claimed from the function and
// are never reused.
package generate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// Environment variables understood by the generator runtime.
const (
	EnvDisableBranchHints = "INPUT_GEN_DISABLE_BRANCH_HINTS"
	EnvDisablePtrCmpRetry = "INPUT_GEN_DISABLE_PTR_CMP_RETRY"
	EnvEnablePtrCmpRetry  = "INPUT_GEN_ENABLE_PTR_CMP_RETRY"
)

// ErrNotInstrumented is returned for functions without executables.
var ErrNotInstrumented = errors.New("function has no attached executables")

// Options configure generator launches.
type Options struct {
	// Timeout bounds one generator launch. Zero means no timeout.
	Timeout time.Duration

	// UnreachableExitStatus is the sentinel status for unreachable exits.
	UnreachableExitStatus int

	// DisablePtrCmpRetry sets EnvDisablePtrCmpRetry for every launch.
	DisablePtrCmpRetry bool
}

// RoundOptions vary per round.
type RoundOptions struct {
	// Hints is true when the executables were instrumented with a merged
	// profile for this round.
	Hints bool

	// SeedAttempts is the number of seeds tried before the round is
	// recorded as failed. Values below one mean one.
	SeedAttempts int
}

// Generator launches the module's generator executable.
type Generator struct {
	sup    supervisor.Supervisor
	layout layout.Layout
	opts   Options
	logger *slog.Logger
}

// New creates a Generator for the module at l.
func New(sup supervisor.Supervisor, l layout.Layout, opts Options, logger *slog.Logger) *Generator {
	if opts.UnreachableExitStatus == 0 {
		opts.UnreachableExitStatus = registry.DefaultUnreachableExitStatus
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{sup: sup, layout: l, opts: opts, logger: logger}
}

// Round runs one generation round for fn.
//
// # Description
//
// Tries up to SeedAttempts fresh seeds, stopping at the first one that
// yields an input, and appends one Round recording the last seed tried.
// A zero exit or the unreachable status only counts when the expected
// artifact exists on disk.
//
// # Outputs
//
//   - registry.Outcome: The recorded generation outcome.
//   - error: ErrNotInstrumented when fn has no executables. Process
//     failures are recorded in the Round, not returned.
func (g *Generator) Round(ctx context.Context, fn *registry.Function, ro RoundOptions) (registry.Outcome, error) {
	if !fn.Instrumented() {
		return registry.OutcomeAbsent, ErrNotInstrumented
	}

	attempts := max(ro.SeedAttempts, 1)
	round := registry.Round{}
	for a := 0; a < attempts; a++ {
		seed := fn.ClaimSeed()
		outcome := g.attempt(ctx, fn, seed, ro.Hints)
		round.Seed = seed
		if outcome.Present() {
			round.Generated = outcome
			round.Input = g.layout.Input(fn.ID, seed)
			fn.SucceededSeeds = append(fn.SucceededSeeds, seed)
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	fn.Rounds = append(fn.Rounds, round)
	return round.Generated, nil
}

func (g *Generator) attempt(ctx context.Context, fn *registry.Function, seed int, hints bool) registry.Outcome {
	logger := g.logger.With(slog.String("func", fn.ID), slog.Int("seed", seed))

	dir := g.layout.InputsDir(fn.ID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		logger.Warn("cannot create inputs directory", slog.String("error", err.Error()))
		return registry.OutcomeAbsent
	}

	cmd := supervisor.Command{
		Path: fn.GeneratorPath,
		Args: []string{
			dir,
			strconv.Itoa(seed), strconv.Itoa(seed + 1),
			"--file", g.layout.Manifest(),
			fn.ID,
		},
		Env:     g.env(hints),
		Timeout: g.opts.Timeout,
	}
	logger.Debug("generating", slog.String("cmd", cmd.String()))

	exit, err := g.sup.Launch(ctx, cmd)
	if err != nil {
		logger.Debug("generation failed", slog.String("error", err.Error()))
		return registry.OutcomeAbsent
	}
	if exit.Signaled {
		logger.Debug("generator killed by signal", slog.String("signal", exit.Signal.String()))
		return registry.OutcomeAbsent
	}

	outcome := registry.Classify(exit.Code, g.opts.UnreachableExitStatus)
	if !outcome.Present() {
		logger.Debug("generator failed", slog.Int("exit", exit.Code))
		return registry.OutcomeAbsent
	}
	if !layout.Exists(g.layout.Input(fn.ID, seed)) {
		logger.Warn("generator reported success without an input",
			slog.Int("exit", exit.Code), slog.String("outcome", outcome.String()))
		return registry.OutcomeAbsent
	}
	return outcome
}

func (g *Generator) env(hints bool) []string {
	var env []string
	if !hints {
		env = append(env, EnvDisableBranchHints+"=1")
	}
	if g.opts.DisablePtrCmpRetry {
		env = append(env, EnvDisablePtrCmpRetry+"=1")
	}
	return env
}
