// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import "fmt"

// DefaultUnreachableExitStatus is the exit status generated executables use
// when the entry point cannot reach the target function.
const DefaultUnreachableExitStatus = 111

// Outcome classifies one generation or execution attempt.
type Outcome int

const (
	// OutcomeAbsent means the attempt failed or never happened.
	OutcomeAbsent Outcome = iota

	// OutcomeNormal means the process exited with status zero.
	OutcomeNormal

	// OutcomeUnreachableExit means the process exited with the unreachable
	// sentinel status. The attempt still counts as present.
	OutcomeUnreachableExit
)

// String returns the outcome name used in logs and reports.
func (o Outcome) String() string {
	switch o {
	case OutcomeAbsent:
		return "absent"
	case OutcomeNormal:
		return "normal"
	case OutcomeUnreachableExit:
		return "unreachable_exit"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Present reports whether the attempt produced something usable.
func (o Outcome) Present() bool {
	return o == OutcomeNormal || o == OutcomeUnreachableExit
}

// Classify maps an exit status to an Outcome. Any status other than zero
// or unreachable is a failure.
func Classify(code, unreachable int) Outcome {
	switch code {
	case 0:
		return OutcomeNormal
	case unreachable:
		return OutcomeUnreachableExit
	default:
		return OutcomeAbsent
	}
}
