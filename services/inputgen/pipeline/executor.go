// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.inputgen.pipeline")
	meter  = otel.Meter("aleutian.inputgen.pipeline")
)

// RootKey is the input key under which root stages receive the pipeline input.
const RootKey = "root"

// Executor runs a Pipeline.
//
// # Description
//
// Stages whose dependencies have all completed run in parallel. The first
// stage failure stops the run after the current wave finishes.
//
// # Thread Safety
//
// Executor is safe for concurrent use. Each Run has its own State.
type Executor struct {
	pipeline *Pipeline
	logger   *slog.Logger

	metricsOnce     sync.Once
	stageLatency    metric.Float64Histogram
	stageSuccesses  metric.Int64Counter
	stageFailures   metric.Int64Counter
	activeStages    metric.Int64UpDownCounter
	pipelineLatency metric.Float64Histogram
}

// NewExecutor creates an executor for p. A nil logger uses slog.Default().
func NewExecutor(p *Pipeline, logger *slog.Logger) (*Executor, error) {
	if p == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{pipeline: p, logger: logger}, nil
}

func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		e.stageLatency, err = meter.Float64Histogram("inputgen_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		e.stageSuccesses, err = meter.Int64Counter("inputgen_stage_success_total",
			metric.WithDescription("Number of successful stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_successes: "+err.Error())
		}

		e.stageFailures, err = meter.Int64Counter("inputgen_stage_failure_total",
			metric.WithDescription("Number of failed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		e.activeStages, err = meter.Int64UpDownCounter("inputgen_active_stages",
			metric.WithDescription("Number of currently executing stages"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_stages: "+err.Error())
		}

		e.pipelineLatency, err = meter.Float64Histogram("inputgen_pipeline_duration_seconds",
			metric.WithDescription("Total pipeline execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipeline_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes the pipeline.
//
// # Description
//
// Runs every stage in dependency order. input is handed to root stages
// under RootKey.
//
// # Inputs
//
//   - ctx: Cancellation. Must not be nil.
//   - input: Pipeline input.
//
// # Outputs
//
//   - *Result: Always non-nil once execution started.
//   - error: A *StageError for the first failing stage, ErrNoProgress, or
//     the context error.
func (e *Executor) Run(ctx context.Context, input any) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.name", e.pipeline.Name()),
			attribute.Int("pipeline.stage_count", e.pipeline.StageCount()),
		),
	)
	defer span.End()

	start := time.Now()
	sessionID := uuid.NewString()[:12]

	e.logger.Debug("pipeline started",
		slog.String("pipeline", e.pipeline.Name()),
		slog.String("session_id", sessionID),
		slog.Int("stages", e.pipeline.StageCount()),
	)

	state := NewState(sessionID)
	state.Outputs[RootKey] = input
	durations := make(map[string]time.Duration)

	for !state.IsComplete(e.pipeline) && !state.IsFailed() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return e.buildResult(state, start, durations, err), err
		}

		ready := e.findReady(state)
		if len(ready) == 0 {
			span.RecordError(ErrNoProgress)
			span.SetStatus(codes.Error, ErrNoProgress.Error())
			return e.buildResult(state, start, durations, ErrNoProgress), ErrNoProgress
		}

		if err := e.executeParallel(ctx, ready, state, durations); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return e.buildResult(state, start, durations, err), err
		}
	}

	duration := time.Since(start)
	if e.pipelineLatency != nil {
		e.pipelineLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("pipeline", e.pipeline.Name())),
		)
	}

	span.SetStatus(codes.Ok, "")
	result := e.buildResult(state, start, durations, nil)
	e.logger.Debug("pipeline completed",
		slog.String("session_id", sessionID),
		slog.Duration("duration", duration),
		slog.Int("stages_executed", result.StagesExecuted),
	)
	return result, nil
}

// findReady returns the stages whose dependencies have completed, in name order.
func (e *Executor) findReady(state *State) []Stage {
	var ready []Stage
	for _, name := range e.pipeline.StageNames() {
		if state.IsCompleted(name) || state.Status(name) == StageStatusRunning {
			continue
		}
		satisfied := true
		for _, dep := range e.pipeline.Dependencies(name) {
			if !state.IsCompleted(dep) {
				satisfied = false
				break
			}
		}
		if satisfied {
			stage, _ := e.pipeline.Stage(name)
			ready = append(ready, stage)
		}
	}
	return ready
}

func (e *Executor) executeParallel(
	ctx context.Context,
	stages []Stage,
	state *State,
	durations map[string]time.Duration,
) error {
	type timing struct {
		name     string
		duration time.Duration
	}

	var wg sync.WaitGroup
	errs := make([]error, len(stages))
	timings := make(chan timing, len(stages))

	for i, stage := range stages {
		wg.Add(1)
		go func(i int, s Stage) {
			defer wg.Done()
			state.SetStatus(s.Name(), StageStatusRunning)
			began := time.Now()
			errs[i] = e.executeStage(ctx, s, state)
			timings <- timing{s.Name(), time.Since(began)}
		}(i, stage)
	}

	wg.Wait()
	close(timings)
	for t := range timings {
		durations[t.name] = t.duration
	}

	// Stages are in name order, so the reported failure is deterministic.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) executeStage(ctx context.Context, stage Stage, state *State) error {
	name := stage.Name()
	ctx, span := tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("pipeline.stage", name),
			attribute.StringSlice("pipeline.dependencies", stage.Dependencies()),
			attribute.String("pipeline.session_id", state.SessionID),
		),
	)
	defer span.End()

	if e.activeStages != nil {
		e.activeStages.Add(ctx, 1)
		defer e.activeStages.Add(ctx, -1)
	}

	inputs := make(map[string]any)
	for _, dep := range stage.Dependencies() {
		out, _ := state.Output(dep)
		inputs[dep] = out
	}
	if len(stage.Dependencies()) == 0 {
		inputs[RootKey], _ = state.Output(RootKey)
	}

	stageCtx := ctx
	if timeout := stage.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := stage.Execute(stageCtx, inputs)
	duration := time.Since(start)

	attrs := metric.WithAttributes(attribute.String("stage", name))
	if e.stageLatency != nil {
		e.stageLatency.Record(ctx, duration.Seconds(), attrs)
	}

	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s: %w", ErrStageTimeout, name, err)
		}
		if e.stageFailures != nil {
			e.stageFailures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		state.SetFailed(name, err)

		e.logger.Warn("stage failed",
			slog.String("stage", name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return &StageError{Stage: name, Err: err}
	}

	if e.stageSuccesses != nil {
		e.stageSuccesses.Add(ctx, 1, attrs)
	}
	span.SetStatus(codes.Ok, "")
	state.SetCompleted(name, output)

	e.logger.Debug("stage completed",
		slog.String("stage", name),
		slog.Duration("duration", duration),
	)
	return nil
}

func (e *Executor) buildResult(
	state *State,
	start time.Time,
	durations map[string]time.Duration,
	err error,
) *Result {
	result := &Result{
		SessionID:      state.SessionID,
		Duration:       time.Since(start),
		StagesExecuted: state.CompletedCount(),
		StageDurations: durations,
		FailedStage:    state.FailedStage,
	}
	switch {
	case err != nil:
		result.Error = err.Error()
	case state.IsFailed():
		result.Error = state.Error
	default:
		result.Success = true
		if t := e.pipeline.Terminal(); t != "" {
			result.Output, _ = state.Output(t)
		}
	}
	return result
}
