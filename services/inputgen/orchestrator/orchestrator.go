// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator processes a batch of modules.
//
// Modules are dispatched to a bounded pool of workers. Every attempt at a
// module ends in a typed Result; retryable failures are retried up to a
// limit, and a module that never succeeds contributes zero statistics
// flagged as failed. One module's failure never aborts the batch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

var meter = otel.Meter("aleutian.inputgen.orchestrator")

// ErrEmptyRange is returned when the selected module range is empty.
var ErrEmptyRange = errors.New("empty module range")

// Store persists module results and run info.
type Store interface {
	Put(ctx context.Context, r stats.ModuleResult) error
	Get(ctx context.Context, index int) (stats.ModuleResult, bool, error)
	PutRunInfo(ctx context.Context, info stats.RunInfo) error
}

// Sink receives every finished module result.
type Sink interface {
	Write(ctx context.Context, r stats.ModuleResult) error
}

// Options configure a batch.
type Options struct {
	// Start and End select the half-open index range. End <= 0 or beyond
	// the source means the end of the source.
	Start int
	End   int

	// Workers bounds concurrent modules. Zero means runtime.NumCPU().
	Workers int

	// MaxRetries is the number of extra attempts after a retryable failure.
	MaxRetries int

	// Resume skips modules whose stored result is ok.
	Resume bool

	// RunID identifies the batch in the report.
	RunID string

	// RunInfo, when set, receives the effective range, is persisted
	// before dispatch and is attached to the report.
	RunInfo *stats.RunInfo
}

// Deps are the collaborators of an Orchestrator. Source and Worker are
// required.
type Deps struct {
	Source source.Source
	Worker Worker
	Gate   *Gate
	Store  Store
	Sink   Sink
	Logger *slog.Logger

	// OnResult, when set, is called with every finished module result,
	// including ones skipped on resume. Calls may be concurrent.
	OnResult func(stats.ModuleResult)
}

// Orchestrator runs batches.
//
// # Thread Safety
//
// Run may be called concurrently only with distinct output directories.
type Orchestrator struct {
	deps Deps
	opts Options

	metricsOnce    sync.Once
	moduleOutcomes metric.Int64Counter
	moduleAttempts metric.Int64Counter
	moduleLatency  metric.Float64Histogram
	activeModules  metric.Int64UpDownCounter
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Source == nil || deps.Worker == nil {
		return nil, errors.New("orchestrator: source and worker are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

func (o *Orchestrator) initMetrics() {
	o.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		o.moduleOutcomes, err = meter.Int64Counter("inputgen_module_outcomes_total",
			metric.WithDescription("Finished modules by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "module_outcomes: "+err.Error())
		}

		o.moduleAttempts, err = meter.Int64Counter("inputgen_module_attempts_total",
			metric.WithDescription("Module attempts by result kind"),
		)
		if err != nil {
			initErrors = append(initErrors, "module_attempts: "+err.Error())
		}

		o.moduleLatency, err = meter.Float64Histogram("inputgen_module_duration_seconds",
			metric.WithDescription("Time from first attempt to final result of a module"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "module_latency: "+err.Error())
		}

		o.activeModules, err = meter.Int64UpDownCounter("inputgen_active_modules",
			metric.WithDescription("Modules currently being processed"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_modules: "+err.Error())
		}

		if len(initErrors) > 0 {
			o.deps.Logger.Error("failed to initialize some orchestrator metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Range returns the effective half-open module range.
func (o *Orchestrator) Range() (int, int) {
	n := o.deps.Source.Len()
	start, end := max(o.opts.Start, 0), o.opts.End
	if end <= 0 || end > n {
		end = n
	}
	return start, end
}

// Run processes every module of the range.
//
// # Description
//
// Each module is retried while its attempts are retryable and the retry
// budget lasts. Results are persisted and forwarded to the sink as they
// finish. Store and sink failures are logged and do not affect the batch.
//
// # Outputs
//
//   - *stats.BatchReport: Module-wise, language-wise and overall results.
//     Non-nil whenever dispatch started, even with a non-nil error.
//   - error: ErrEmptyRange, the context error, or a statistics
//     consistency error from aggregation.
func (o *Orchestrator) Run(ctx context.Context) (*stats.BatchReport, error) {
	o.initMetrics()
	logger := o.deps.Logger.With(slog.String("run_id", o.opts.RunID))

	start, end := o.Range()
	if start >= end {
		return nil, fmt.Errorf("%w: [%d, %d) of %d modules", ErrEmptyRange, start, end, o.deps.Source.Len())
	}

	if o.opts.RunInfo != nil {
		o.opts.RunInfo.Start, o.opts.RunInfo.End = start, end
	}
	if o.opts.RunInfo != nil && o.deps.Store != nil {
		if err := o.deps.Store.PutRunInfo(ctx, *o.opts.RunInfo); err != nil {
			logger.Warn("cannot persist run info", slog.String("error", err.Error()))
		}
	}

	logger.Info("batch started",
		slog.Int("start", start),
		slog.Int("end", end),
		slog.Int("workers", o.opts.Workers),
		slog.Int("max_retries", o.opts.MaxRetries),
	)
	began := time.Now()

	results := make([]stats.ModuleResult, end-start)
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for idx := start; idx < end; idx++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[idx-start] = o.module(ctx, idx, logger)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		report, _ := stats.NewReport(o.opts.RunID, finished(results))
		report.RunInfo = o.opts.RunInfo
		return report, err
	}

	report, err := stats.NewReport(o.opts.RunID, results)
	report.RunInfo = o.opts.RunInfo
	logger.Info("batch finished",
		slog.Int("modules", len(results)),
		slog.Int("failed", report.Failed),
		slog.Int("retries", report.Retries),
		slog.Duration("duration", time.Since(began)),
	)
	return report, err
}

// finished drops the slots of modules that never started.
func finished(results []stats.ModuleResult) []stats.ModuleResult {
	out := make([]stats.ModuleResult, 0, len(results))
	for _, r := range results {
		if r.Status != "" {
			out = append(out, r)
		}
	}
	return out
}

// module processes one index to its final result.
func (o *Orchestrator) module(ctx context.Context, idx int, logger *slog.Logger) stats.ModuleResult {
	logger = logger.With(slog.Int("module_index", idx))

	if o.opts.Resume && o.deps.Store != nil {
		stored, found, err := o.deps.Store.Get(ctx, idx)
		switch {
		case err != nil:
			logger.Warn("cannot read stored result", slog.String("error", err.Error()))
		case found && stored.Status == stats.StatusOK:
			logger.Debug("skipping module with stored result")
			o.notify(stored)
			return stored
		}
	}

	if o.activeModules != nil {
		o.activeModules.Add(ctx, 1)
		defer o.activeModules.Add(ctx, -1)
	}

	began := time.Now()
	result := stats.ModuleResult{Index: idx, Language: source.UnknownLanguage, Status: stats.StatusFailed}
	var last Result
	for attempt := 1; attempt <= o.opts.MaxRetries+1; attempt++ {
		result.Attempts = attempt
		last = o.attempt(ctx, idx, &result)
		if o.moduleAttempts != nil {
			o.moduleAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", last.Kind.String())))
		}

		if last.Kind == KindOk {
			result.Status = stats.StatusOK
			result.Stats = last.Stats
			result.Error = ""
			break
		}
		result.Error = last.Err.Error()
		logger.Warn("module attempt failed",
			slog.Int("attempt", attempt),
			slog.String("kind", last.Kind.String()),
			slog.String("error", result.Error),
		)
		if last.Kind == KindFatal || ctx.Err() != nil {
			break
		}
	}
	if result.Status != stats.StatusOK {
		result.Stats = stats.Statistics{}
	}
	elapsed := time.Since(began)
	result.Duration = elapsed.Round(time.Millisecond).String()

	if o.moduleOutcomes != nil {
		o.moduleOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(result.Status)),
			attribute.String("language", result.Language),
		))
	}
	if o.moduleLatency != nil {
		o.moduleLatency.Record(ctx, elapsed.Seconds())
	}

	o.publish(ctx, result, logger)
	o.notify(result)
	return result
}

func (o *Orchestrator) notify(r stats.ModuleResult) {
	if o.deps.OnResult != nil {
		o.deps.OnResult(r)
	}
}

// attempt fetches and processes the module once, filling in its identity.
func (o *Orchestrator) attempt(ctx context.Context, idx int, result *stats.ModuleResult) Result {
	if err := o.deps.Gate.Wait(ctx); err != nil {
		return Retryable(err)
	}

	m, err := o.deps.Source.Fetch(ctx, idx)
	if err != nil {
		if errors.Is(err, source.ErrOutOfRange) {
			return Fatal(err)
		}
		return Retryable(fmt.Errorf("fetching module: %w", err))
	}
	defer func() {
		if err := m.Release(); err != nil {
			o.deps.Logger.Debug("cannot release module", slog.Int("module_index", idx), slog.String("error", err.Error()))
		}
	}()

	result.Name = m.Name
	result.Language = m.Language
	return o.deps.Worker.Process(ctx, m)
}

func (o *Orchestrator) publish(ctx context.Context, r stats.ModuleResult, logger *slog.Logger) {
	// A cancelled batch still records what finished.
	ctx = context.WithoutCancel(ctx)
	if o.deps.Store != nil {
		if err := o.deps.Store.Put(ctx, r); err != nil {
			logger.Warn("cannot persist result", slog.String("error", err.Error()))
		}
	}
	if o.deps.Sink != nil {
		if err := o.deps.Sink.Write(ctx, r); err != nil {
			logger.Warn("cannot forward result", slog.String("error", err.Error()))
		}
	}
}
