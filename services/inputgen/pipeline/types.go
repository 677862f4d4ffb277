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
	"sort"
	"sync"
	"time"
)

// Stage is one step of a pipeline.
//
// # Description
//
// Execute receives the outputs of the stages it depends on, keyed by
// stage name. Root stages receive the pipeline input under "root".
//
// # Thread Safety
//
// Execute may run concurrently with other stages of the same pipeline.
type Stage interface {
	// Name returns the unique stage name.
	Name() string

	// Dependencies returns the names of stages that must complete first.
	Dependencies() []string

	// Execute runs the stage.
	Execute(ctx context.Context, inputs map[string]any) (any, error)

	// Timeout bounds Execute. Zero means no deadline.
	Timeout() time.Duration
}

// StageStatus is the lifecycle state of a stage within one run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// Pipeline is a validated, acyclic set of stages.
type Pipeline struct {
	name     string
	stages   map[string]Stage
	names    []string
	deps     map[string][]string
	terminal string
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Stage returns the stage with the given name.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	s, ok := p.stages[name]
	return s, ok
}

// StageCount returns the number of stages.
func (p *Pipeline) StageCount() int {
	return len(p.stages)
}

// StageNames returns the stage names in sorted order.
func (p *Pipeline) StageNames() []string {
	return p.names
}

// Dependencies returns the dependencies of the named stage.
func (p *Pipeline) Dependencies(name string) []string {
	return p.deps[name]
}

// Terminal returns the stage whose output is the pipeline output.
func (p *Pipeline) Terminal() string {
	return p.terminal
}

// State tracks one run of a pipeline.
type State struct {
	mu sync.RWMutex

	SessionID   string                 `json:"session_id"`
	StartedAt   time.Time              `json:"started_at"`
	Completed   map[string]bool        `json:"completed"`
	Outputs     map[string]any         `json:"-"`
	Statuses    map[string]StageStatus `json:"statuses"`
	FailedStage string                 `json:"failed_stage,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// NewState creates an empty run state.
func NewState(sessionID string) *State {
	return &State{
		SessionID: sessionID,
		StartedAt: time.Now(),
		Completed: make(map[string]bool),
		Outputs:   make(map[string]any),
		Statuses:  make(map[string]StageStatus),
	}
}

// IsCompleted reports whether the stage finished successfully.
func (s *State) IsCompleted(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Completed[name]
}

// SetCompleted records a stage's output.
func (s *State) SetCompleted(name string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Completed[name] = true
	s.Outputs[name] = output
	s.Statuses[name] = StageStatusCompleted
}

// Output returns a stage's output.
func (s *State) Output(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.Outputs[name]
	return out, ok
}

// SetFailed records the first failing stage.
func (s *State) SetFailed(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailedStage == "" {
		s.FailedStage = name
		s.Error = err.Error()
	}
	s.Statuses[name] = StageStatusFailed
}

// IsFailed reports whether any stage failed.
func (s *State) IsFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FailedStage != ""
}

// SetStatus sets a stage's status.
func (s *State) SetStatus(name string, status StageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statuses[name] = status
}

// Status returns a stage's status, pending if unknown.
func (s *State) Status(name string) StageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.Statuses[name]
	if !ok {
		return StageStatusPending
	}
	return status
}

// IsComplete reports whether every stage of p completed.
func (s *State) IsComplete(p *Pipeline) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range p.StageNames() {
		if !s.Completed[name] {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of completed stages.
func (s *State) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Completed)
}

// Result summarizes a pipeline run.
type Result struct {
	Success        bool                     `json:"success"`
	SessionID      string                   `json:"session_id"`
	Duration       time.Duration            `json:"duration"`
	StagesExecuted int                      `json:"stages_executed"`
	Output         any                      `json:"output,omitempty"`
	Error          string                   `json:"error,omitempty"`
	FailedStage    string                   `json:"failed_stage,omitempty"`
	StageDurations map[string]time.Duration `json:"stage_durations,omitempty"`
}

func sortedKeys(m map[string]Stage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
