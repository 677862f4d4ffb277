// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package processor processes one module end to end.
//
// Processing is a pipeline of stages:
//
//	INSTRUMENT -> LOAD_FUNCTIONS -> ROUNDS -> [COVERAGE] -> STATISTICS -> [CLEANUP]
//
// A failed instrumentation never fails the module; it leaves every function
// uninstrumented and the statistics report zero instrumented functions.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/execute"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/generate"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/instrument"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/pipeline"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/profile"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/strategy"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// Stage names.
const (
	StageInstrument    = "INSTRUMENT"
	StageLoadFunctions = "LOAD_FUNCTIONS"
	StageRounds        = "ROUNDS"
	StageCoverage      = "COVERAGE"
	StageStatistics    = "STATISTICS"
	StageCleanup       = "CLEANUP"
)

// DefaultRounds is the number of generation rounds when none is configured.
const DefaultRounds = 5

// ErrInvalidModule is returned when the module file does not exist.
var ErrInvalidModule = errors.New("invalid module")

// Options configure module processing.
type Options struct {
	// Outdir is the output root.
	Outdir string

	// PerModuleDir places each module under Outdir/<index>. Otherwise
	// Outdir itself is the module's output directory.
	PerModuleDir bool

	// Rounds is the number of generation rounds. Zero means DefaultRounds.
	Rounds int

	// SeedAttempts is the per-round seed budget of batched generation.
	SeedAttempts int

	// BranchHints selects the interleaved strategy with profile feedback.
	BranchHints bool

	// CoverageStatistics collects basic-block coverage per round.
	CoverageStatistics bool

	// Cleanup removes the output directory after statistics are built.
	Cleanup bool

	Instrument instrument.Options
	Generate   generate.Options
	Execute    execute.Options
	Merge      profile.MergeOptions
	Query      profile.QueryOptions
}

// Outcome is the result of processing one module.
type Outcome struct {
	Module   string
	Language string

	// Instrumented is false when the instrumentation tool failed.
	Instrumented bool

	// InstrumentErr explains an instrumentation failure.
	InstrumentErr error

	Functions []*registry.Function
	Stats     stats.Statistics

	SessionID string
	Duration  time.Duration
	Stages    map[string]time.Duration
}

// Processor turns a module into statistics.
type Processor struct {
	sup    supervisor.Supervisor
	opts   Options
	logger *slog.Logger
}

// New creates a Processor. A nil logger uses slog.Default().
func New(sup supervisor.Supervisor, opts Options, logger *slog.Logger) *Processor {
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultRounds
	}
	if opts.SeedAttempts <= 0 {
		opts.SeedAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{sup: sup, opts: opts, logger: logger}
}

// Options returns the effective options.
func (p *Processor) Options() Options {
	return p.opts
}

// Dir returns the output directory of m.
func (p *Processor) Dir(m *source.Module) string {
	if p.opts.PerModuleDir {
		return filepath.Join(p.opts.Outdir, strconv.Itoa(m.Index))
	}
	return p.opts.Outdir
}

// capture reports whether runs collect profiles.
func (p *Processor) capture() bool {
	return p.opts.CoverageStatistics || p.opts.BranchHints
}

// Process runs every stage for m.
//
// # Description
//
// The module's output directory is reset first. Instrumentation failure
// and per-round process failures are absorbed into the statistics. The
// errors returned are the ones that make the module's result unusable.
//
// # Inputs
//
//   - ctx: Cancellation. Every subprocess is bounded by its own timeout.
//   - m: The module. m.Path must exist.
//
// # Outputs
//
//   - *Outcome: Statistics and per-function records.
//   - error: ErrInvalidModule, a registry manifest error, a statistics
//     consistency error, or the context error.
func (p *Processor) Process(ctx context.Context, m *source.Module) (*Outcome, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil module", ErrInvalidModule)
	}
	if info, err := os.Stat(m.Path); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModule, m.Path)
	}

	l := layout.New(p.Dir(m))
	if err := l.Reset(); err != nil {
		return nil, fmt.Errorf("preparing %s: %w", l.Dir, err)
	}

	logger := p.logger.With(
		slog.Int("module_index", m.Index),
		slog.String("module", m.Name),
	)
	run := &moduleRun{
		proc:   p,
		module: m,
		layout: l,
		logger: logger,
		driver: instrument.NewDriver(p.sup, p.opts.Instrument, logger),
		merger: profile.NewMerger(p.sup, p.opts.Merge),
	}

	pl, err := run.build()
	if err != nil {
		return nil, err
	}
	exec, err := pipeline.NewExecutor(pl, logger)
	if err != nil {
		return nil, err
	}

	result, err := exec.Run(ctx, m)
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) {
			return nil, se.Err
		}
		return nil, err
	}

	st, ok := result.Output.(stats.Statistics)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline produced %T", pipeline.ErrInvalidInput, result.Output)
	}

	logger.Info("module processed",
		slog.Int("functions", st.NumFuncs),
		slog.Int("instrumented", st.NumInstrumentedFuncs),
		slog.Int("generated", st.NumInputGeneratedFuncs),
		slog.Int("ran", st.NumInputRanFuncs),
		slog.Duration("duration", result.Duration),
	)

	return &Outcome{
		Module:        m.Name,
		Language:      m.Language,
		Instrumented:  !run.instrumented.Failed,
		InstrumentErr: run.instrumented.Err,
		Functions:     run.functions,
		Stats:         st,
		SessionID:     result.SessionID,
		Duration:      result.Duration,
		Stages:        result.StageDurations,
	}, nil
}

// moduleRun holds the state of one Process call.
type moduleRun struct {
	proc   *Processor
	module *source.Module
	layout layout.Layout
	logger *slog.Logger
	driver *instrument.Driver
	merger *profile.Merger

	instrumented instrument.Result
	functions    []*registry.Function
}

func (r *moduleRun) build() (*pipeline.Pipeline, error) {
	opts := r.proc.opts
	b := pipeline.NewBuilder("module").
		AddStage(pipeline.NewFuncStage(StageInstrument, nil, r.instrument)).
		AddStage(pipeline.NewFuncStage(StageLoadFunctions, []string{StageInstrument}, r.loadFunctions)).
		AddStage(pipeline.NewFuncStage(StageRounds, []string{StageLoadFunctions}, r.rounds))

	statsDeps := []string{StageRounds}
	if opts.CoverageStatistics {
		b.AddStage(pipeline.NewFuncStage(StageCoverage, []string{StageRounds}, r.coverage))
		statsDeps = append(statsDeps, StageCoverage)
	}
	b.AddStage(pipeline.NewFuncStage(StageStatistics, statsDeps, r.statistics))
	if opts.Cleanup {
		b.AddStage(pipeline.NewFuncStage(StageCleanup, []string{StageStatistics}, r.cleanup))
	}
	return b.Build()
}

func (r *moduleRun) instrument(ctx context.Context, _ map[string]any) (any, error) {
	r.instrumented = r.driver.Instrument(ctx, instrument.Request{
		Module: r.module.Path,
		Outdir: r.layout.Dir,
	})
	if r.instrumented.Failed {
		r.logger.Warn("instrumentation failed, module has no instrumented functions",
			slog.Any("error", r.instrumented.Err),
		)
	}
	return r.instrumented, nil
}

func (r *moduleRun) loadFunctions(ctx context.Context, _ map[string]any) (any, error) {
	funcs, err := registry.Load(r.layout.Manifest())
	switch {
	case err == nil:
	case r.instrumented.Failed && errors.Is(err, registry.ErrManifestMissing):
		return []*registry.Function(nil), nil
	default:
		return nil, err
	}

	if !r.instrumented.Failed {
		attached := 0
		for _, fn := range funcs {
			if fn.AttachExecutables(r.layout) {
				attached++
			}
		}
		r.logger.Debug("functions loaded",
			slog.Int("functions", len(funcs)),
			slog.Int("instrumented", attached),
		)
	}
	r.functions = funcs
	return funcs, nil
}

func (r *moduleRun) rounds(ctx context.Context, _ map[string]any) (any, error) {
	opts := r.proc.opts
	s := strategy.Select(opts.BranchHints)
	session := &strategy.Session{
		Module:          r.module.Path,
		Layout:          r.layout,
		Functions:       r.functions,
		Rounds:          opts.Rounds,
		SeedAttempts:    opts.SeedAttempts,
		CaptureProfiles: r.proc.capture(),
		Generator:       generate.New(r.proc.sup, r.layout, opts.Generate, r.logger),
		Runner:          execute.New(r.proc.sup, r.layout, opts.Execute, r.logger),
		Instrumenter:    r.driver,
		Merger:          r.merger,
		Logger:          r.logger,
	}
	r.logger.Debug("running rounds",
		slog.String("strategy", s.Name()),
		slog.Int("rounds", opts.Rounds),
	)
	if err := s.Run(ctx, session); err != nil {
		return nil, err
	}
	return r.functions, nil
}

func (r *moduleRun) coverage(ctx context.Context, _ map[string]any) (any, error) {
	c := &stats.Coverage{
		Merger:  r.merger,
		Querier: profile.NewQuerier(r.proc.sup, r.proc.opts.Query),
		Layout:  r.layout,
		Logger:  r.logger,
	}
	return c.Collect(ctx, r.module.Path, r.functions, r.proc.opts.Rounds)
}

func (r *moduleRun) statistics(_ context.Context, inputs map[string]any) (any, error) {
	st := stats.Build(r.functions, r.proc.opts.Rounds)
	if cov, ok := inputs[StageCoverage].(stats.CoverageResult); ok {
		st = st.WithCoverage(cov)
	}
	return st, nil
}

func (r *moduleRun) cleanup(_ context.Context, inputs map[string]any) (any, error) {
	if err := r.layout.Remove(); err != nil {
		r.logger.Warn("cleanup failed", slog.String("dir", r.layout.Dir), slog.Any("error", err))
	}
	return inputs[StageStatistics], nil
}
