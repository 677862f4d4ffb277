// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for supervised launches.
var (
	// ErrNilContext is returned when a nil context is passed to Launch.
	ErrNilContext = errors.New("context must not be nil")

	// ErrEmptyCommand is returned when Command.Path is empty.
	ErrEmptyCommand = errors.New("command path is empty")

	// ErrLaunch indicates the process could not be started at all.
	ErrLaunch = errors.New("failed to launch process")

	// ErrTimedOut indicates the process exceeded its timeout and was
	// terminated.
	ErrTimedOut = errors.New("process timed out")
)

// LaunchError wraps a failure to start a process.
type LaunchError struct {
	// Path is the executable that could not be started.
	Path string

	// Err is the underlying error from the OS.
	Err error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is reports ErrLaunch as a match.
func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}

// TimeoutError reports a process that was terminated after exceeding its
// timeout.
type TimeoutError struct {
	// Path is the executable that timed out.
	Path string

	// Timeout is the deadline that was exceeded.
	Timeout time.Duration

	// Forced is true when the process group ignored SIGTERM and had to be
	// killed with SIGKILL.
	Forced bool
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	how := "terminated"
	if e.Forced {
		how = "killed"
	}
	return fmt.Sprintf("%s timed out after %s (%s)", e.Path, e.Timeout, how)
}

// Is reports ErrTimedOut as a match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}
