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
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilStage is returned when a nil stage is provided.
	ErrNilStage = errors.New("stage must not be nil")

	// ErrDuplicateStage is returned when adding a stage with an existing name.
	ErrDuplicateStage = errors.New("stage with this name already exists")

	// ErrStageNotFound is returned when a dependency names no stage.
	ErrStageNotFound = errors.New("stage not found")

	// ErrCycleDetected is returned when the stages form a cycle.
	ErrCycleDetected = errors.New("cycle detected in pipeline")

	// ErrNoProgress is returned when no stage can make progress.
	ErrNoProgress = errors.New("no progress possible: deadlock or missing dependency")

	// ErrStageTimeout is returned when a stage exceeds its timeout.
	ErrStageTimeout = errors.New("stage execution timed out")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// StageError wraps an error with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// CycleError lists the stages forming a cycle.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %v", e.Path)
}

// Is reports ErrCycleDetected as a match.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
