// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execute replays generated inputs through the runner executable.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// DefaultProfileEnv is the variable the profiling runtime reads to decide
// where to write its profile.
const DefaultProfileEnv = "LLVM_PROFILE_FILE"

// ErrNoSuchRound is returned when the round index is out of range.
var ErrNoSuchRound = errors.New("round index out of range")

// Options configure runner launches.
type Options struct {
	// Timeout bounds one runner launch. Zero means no timeout.
	Timeout time.Duration

	// UnreachableExitStatus is the sentinel status for unreachable exits.
	UnreachableExitStatus int

	// ProfileEnv names the profile destination variable. Empty means
	// DefaultProfileEnv.
	ProfileEnv string
}

// Runner launches the module's runner executable.
type Runner struct {
	sup    supervisor.Supervisor
	layout layout.Layout
	opts   Options
	logger *slog.Logger
}

// New creates a Runner for the module at l.
func New(sup supervisor.Supervisor, l layout.Layout, opts Options, logger *slog.Logger) *Runner {
	if opts.UnreachableExitStatus == 0 {
		opts.UnreachableExitStatus = registry.DefaultUnreachableExitStatus
	}
	if opts.ProfileEnv == "" {
		opts.ProfileEnv = DefaultProfileEnv
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sup: sup, layout: l, opts: opts, logger: logger}
}

// Run executes the input of round idx and fills the run half of the Round.
//
// # Description
//
// A round without an input is recorded as absent without launching
// anything. Elapsed time is stored only for present outcomes. With
// capture enabled the runner is told to write a profile next to the
// input, and the profile is recorded when it appears.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - fn: Function whose round is executed.
//   - idx: Round index.
//   - capture: Whether to collect a coverage profile.
//
// # Outputs
//
//   - registry.Outcome: The recorded run outcome.
//   - error: ErrNoSuchRound for a bad index. Process failures are
//     recorded in the Round, not returned.
func (r *Runner) Run(ctx context.Context, fn *registry.Function, idx int, capture bool) (registry.Outcome, error) {
	if idx < 0 || idx >= len(fn.Rounds) {
		return registry.OutcomeAbsent, fmt.Errorf("%w: %d of %d", ErrNoSuchRound, idx, len(fn.Rounds))
	}
	round := &fn.Rounds[idx]
	round.Ran, round.Elapsed, round.Profile = registry.OutcomeAbsent, nil, ""

	if !round.Generated.Present() || round.Input == "" {
		return registry.OutcomeAbsent, nil
	}

	logger := r.logger.With(slog.String("func", fn.ID), slog.Int("round", idx))

	cmd := supervisor.Command{
		Path:    fn.RunnerPath,
		Args:    []string{round.Input, "--file", r.layout.Manifest(), fn.ID},
		Timeout: r.opts.Timeout,
	}
	profile := r.layout.Profile(round.Input)
	if capture {
		cmd.Env = []string{r.opts.ProfileEnv + "=" + profile}
	}
	logger.Debug("running", slog.String("cmd", cmd.String()))

	exit, err := r.sup.Launch(ctx, cmd)
	if err != nil {
		logger.Debug("run failed", slog.String("error", err.Error()))
		return registry.OutcomeAbsent, nil
	}
	if exit.Signaled {
		logger.Debug("runner killed by signal", slog.String("signal", exit.Signal.String()))
		return registry.OutcomeAbsent, nil
	}

	outcome := registry.Classify(exit.Code, r.opts.UnreachableExitStatus)
	if !outcome.Present() {
		logger.Debug("runner failed", slog.Int("exit", exit.Code))
		return registry.OutcomeAbsent, nil
	}

	elapsed := exit.Elapsed
	round.Ran = outcome
	round.Elapsed = &elapsed
	if capture && layout.Exists(profile) {
		round.Profile = profile
	}
	return outcome, nil
}
