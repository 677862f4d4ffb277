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
	"fmt"
	"sort"
	"time"
)

// BaseStage implements the bookkeeping parts of Stage.
//
// Embed it in concrete stages and provide Execute.
type BaseStage struct {
	StageName         string
	StageDependencies []string
	StageTimeout      time.Duration
}

// Name returns the stage name.
func (s *BaseStage) Name() string {
	return s.StageName
}

// Dependencies returns the names of stages that must complete first.
func (s *BaseStage) Dependencies() []string {
	if s.StageDependencies == nil {
		return []string{}
	}
	return s.StageDependencies
}

// Timeout returns the stage deadline. Zero means none.
func (s *BaseStage) Timeout() time.Duration {
	return s.StageTimeout
}

// Execute returns an error; concrete stages override it.
func (s *BaseStage) Execute(_ context.Context, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("%w: BaseStage.Execute must be overridden", ErrInvalidInput)
}

// FuncStage wraps a function as a Stage.
type FuncStage struct {
	BaseStage
	fn func(context.Context, map[string]any) (any, error)
}

// NewFuncStage creates a stage from a function.
//
// # Inputs
//
//   - name: Unique stage name.
//   - deps: Names of stages that must complete first.
//   - fn: The work. Receives dependency outputs keyed by stage name.
func NewFuncStage(
	name string,
	deps []string,
	fn func(context.Context, map[string]any) (any, error),
) *FuncStage {
	return &FuncStage{
		BaseStage: BaseStage{
			StageName:         name,
			StageDependencies: deps,
		},
		fn: fn,
	}
}

// WithTimeout sets the stage deadline.
func (s *FuncStage) WithTimeout(d time.Duration) *FuncStage {
	s.StageTimeout = d
	return s
}

// Execute runs the wrapped function.
func (s *FuncStage) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	if s.fn == nil {
		return nil, fmt.Errorf("%w: stage %s has no function", ErrInvalidInput, s.StageName)
	}
	return s.fn(ctx, inputs)
}

// Builder assembles a Pipeline.
//
// # Description
//
// Errors from AddStage are collected and the first one is returned by
// Build. Build rejects missing dependencies and cycles.
//
// # Thread Safety
//
// Builder is NOT safe for concurrent use.
type Builder struct {
	name   string
	stages map[string]Stage
	errors []error
}

// NewBuilder creates a builder for a pipeline with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		stages: make(map[string]Stage),
	}
}

// AddStage adds a stage.
func (b *Builder) AddStage(stage Stage) *Builder {
	if stage == nil {
		b.errors = append(b.errors, ErrNilStage)
		return b
	}
	name := stage.Name()
	if _, exists := b.stages[name]; exists {
		b.errors = append(b.errors, &StageError{Stage: name, Err: ErrDuplicateStage})
		return b
	}
	b.stages[name] = stage
	return b
}

// Build validates the stages and returns the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline %s has no stages", ErrInvalidInput, b.name)
	}

	names := sortedKeys(b.stages)
	deps := make(map[string][]string, len(b.stages))
	for _, name := range names {
		deps[name] = b.stages[name].Dependencies()
		for _, dep := range deps[name] {
			if _, exists := b.stages[dep]; !exists {
				return nil, &StageError{Stage: name, Err: fmt.Errorf("%w: %s", ErrStageNotFound, dep)}
			}
		}
	}

	if err := detectCycles(names, deps); err != nil {
		return nil, err
	}

	return &Pipeline{
		name:     b.name,
		stages:   b.stages,
		names:    names,
		deps:     deps,
		terminal: findTerminal(names, deps),
	}, nil
}

func detectCycles(names []string, deps map[string][]string) error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var dfs func(name string) error
	dfs = func(name string) error {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, dep := range deps[name] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		onStack[name] = false
		return nil
	}

	for _, name := range names {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// findTerminal returns the lexicographically first stage nobody depends on.
func findTerminal(names []string, deps map[string][]string) string {
	hasDependent := make(map[string]bool)
	for _, name := range names {
		for _, dep := range deps[name] {
			hasDependent[dep] = true
		}
	}
	var terminals []string
	for _, name := range names {
		if !hasDependent[name] {
			terminals = append(terminals, name)
		}
	}
	if len(terminals) == 0 {
		return ""
	}
	sort.Strings(terminals)
	return terminals[0]
}
