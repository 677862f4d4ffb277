// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/processor"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// Kind classifies the result of processing one module.
type Kind int

const (
	// KindOk means Stats are real.
	KindOk Kind = iota

	// KindRetryable means the worker failed in a way another attempt may
	// not repeat: a crash, a signal death, a missing manifest.
	KindRetryable

	// KindFatal means another attempt would fail the same way.
	KindFatal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Exit statuses of the module command, shared with the subprocess worker.
const (
	ExitOK        = 0
	ExitRetryable = 1
	ExitFatal     = 3
)

// ExitCode returns the module command status for k.
func (k Kind) ExitCode() int {
	switch k {
	case KindOk:
		return ExitOK
	case KindFatal:
		return ExitFatal
	default:
		return ExitRetryable
	}
}

// KindFromExitCode maps a module command status back to a Kind. Unknown
// statuses are retryable.
func KindFromExitCode(code int) Kind {
	switch code {
	case ExitOK:
		return KindOk
	case ExitFatal:
		return KindFatal
	default:
		return KindRetryable
	}
}

// Result is the typed outcome of one attempt at one module.
type Result struct {
	Kind  Kind
	Stats stats.Statistics
	Err   error
}

// Ok wraps statistics of a successful attempt.
func Ok(st stats.Statistics) Result {
	return Result{Kind: KindOk, Stats: st}
}

// Retryable wraps a failure that deserves another attempt.
func Retryable(err error) Result {
	return Result{Kind: KindRetryable, Err: err}
}

// Fatal wraps a failure that no attempt can fix.
func Fatal(err error) Result {
	return Result{Kind: KindFatal, Err: err}
}

// Classify maps a processing error onto a Kind.
//
// An unusable module, an output directory that belongs to something else
// and inconsistent statistics are fatal. Everything
// else, including manifest problems caused by conflicting instrumentation
// output, is retried.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOk
	case errors.Is(err, processor.ErrInvalidModule),
		errors.Is(err, layout.ErrForeignDirectory),
		errors.Is(err, stats.ErrBlockTotalMismatch):
		return KindFatal
	default:
		return KindRetryable
	}
}
