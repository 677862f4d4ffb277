// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy sequences generation and execution rounds for one
// module.
//
// Two strategies share the same per-round primitives:
//
//   - Batched generates every round for every function, then runs every
//     input. Each round may try several seeds.
//   - Interleaved runs one seed per round and executes each round before
//     the next. Before every round after the first it merges the profiles
//     collected so far and re-instruments the module with them.
package strategy

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/execute"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/generate"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/instrument"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
)

// Instrumenter re-instruments a module with a merged profile.
type Instrumenter interface {
	Instrument(ctx context.Context, req instrument.Request) instrument.Result
}

// ProfileMerger folds a profile into an accumulated profile.
type ProfileMerger interface {
	Merge(ctx context.Context, accumulated, in string) error
}

// Session is everything a strategy needs to process one module.
type Session struct {
	// Module is the module path passed to re-instrumentation.
	Module string

	// Layout is the module's output directory.
	Layout layout.Layout

	// Functions are the module's functions. Only instrumented ones are
	// processed.
	Functions []*registry.Function

	// Rounds is the number of generation rounds.
	Rounds int

	// SeedAttempts is the per-round seed budget of the batched strategy.
	SeedAttempts int

	// CaptureProfiles asks the runner for coverage profiles.
	CaptureProfiles bool

	Generator *generate.Generator
	Runner    *execute.Runner

	// Instrumenter and Merger are required by Interleaved only.
	Instrumenter Instrumenter
	Merger       ProfileMerger

	Logger *slog.Logger
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Session) instrumented() []*registry.Function {
	out := make([]*registry.Function, 0, len(s.Functions))
	for _, fn := range s.Functions {
		if fn.Instrumented() {
			out = append(out, fn)
		}
	}
	return out
}

// Strategy runs all rounds of a session.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Run fills the Rounds of every instrumented function. It only
	// returns an error when ctx is cancelled.
	Run(ctx context.Context, s *Session) error
}

// Select returns Interleaved when branch hints are enabled and Batched
// otherwise.
func Select(branchHints bool) Strategy {
	if branchHints {
		return Interleaved{}
	}
	return Batched{}
}

// =============================================================================
// Batched
// =============================================================================

// Batched generates all rounds first and executes them afterwards.
type Batched struct{}

// Name implements Strategy.
func (Batched) Name() string { return "batched" }

// Run implements Strategy.
func (Batched) Run(ctx context.Context, s *Session) error {
	funcs := s.instrumented()
	logger := s.logger()

	for _, fn := range funcs {
		for r := 0; r < s.Rounds; r++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.Generator.Round(ctx, fn, generate.RoundOptions{SeedAttempts: s.SeedAttempts}); err != nil {
				return err
			}
		}
		logger.Debug("generated inputs",
			slog.String("func", fn.ID),
			slog.Int("succeeded", len(fn.SucceededSeeds)),
			slog.Int("tried", len(fn.TriedSeeds)))
	}

	for _, fn := range funcs {
		for idx := range fn.Rounds {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.Runner.Run(ctx, fn, idx, s.CaptureProfiles); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// Interleaved
// =============================================================================

// Interleaved alternates profile feedback, generation and execution.
type Interleaved struct{}

// Name implements Strategy.
func (Interleaved) Name() string { return "interleaved" }

// Run implements Strategy.
//
// # Description
//
// For each round i: when i > 0, merge the profiles of round i-1 into the
// accumulated profile and re-instrument with it; then generate one seed
// per function and immediately run it. Merge and re-instrumentation
// failures are logged and the round proceeds without new hints.
func (Interleaved) Run(ctx context.Context, s *Session) error {
	logger := s.logger()
	acc := s.Layout.MergedProfile()
	funcs := s.instrumented()

	for r := 0; r < s.Rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		hints := false
		if r > 0 {
			hints = feedback(ctx, s, r-1, acc, logger)
		}

		for _, fn := range funcs {
			if _, err := s.Generator.Round(ctx, fn, generate.RoundOptions{Hints: hints, SeedAttempts: 1}); err != nil {
				return err
			}
		}
		for _, fn := range funcs {
			if _, err := s.Runner.Run(ctx, fn, r, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// feedback merges the profiles of round prev and re-instruments. Returns
// true when the executables now carry hints from the accumulated profile.
func feedback(ctx context.Context, s *Session, prev int, acc string, logger *slog.Logger) bool {
	merged := 0
	for _, fn := range s.Functions {
		if prev >= len(fn.Rounds) || fn.Rounds[prev].Profile == "" {
			continue
		}
		if err := s.Merger.Merge(ctx, acc, fn.Rounds[prev].Profile); err != nil {
			logger.Warn("profile merge failed",
				slog.String("func", fn.ID),
				slog.Int("round", prev),
				slog.String("error", err.Error()))
			continue
		}
		merged++
	}

	if !layout.Exists(acc) {
		logger.Debug("no accumulated profile yet", slog.Int("round", prev+1))
		return false
	}

	res := s.Instrumenter.Instrument(ctx, instrument.Request{
		Module:  s.Module,
		Outdir:  s.Layout.Dir,
		Profile: acc,
	})
	if res.Failed {
		logger.Warn("re-instrumentation failed", slog.Int("round", prev+1))
		return false
	}
	logger.Debug("re-instrumented with merged profile",
		slog.Int("round", prev+1),
		slog.Int("merged", merged))
	return true
}
