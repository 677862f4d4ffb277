// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the functions discovered in one module and the
// per-round record of what happened to each of them.
//
// A Function moves from unattempted to instrumented (executables attached)
// and then accumulates one Round per generation round. Rounds are never
// dropped, so round i of every function lines up with seed index i of the
// cumulative statistics.
package registry

import (
	"slices"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
)

// Round is one generation round of one function together with the
// execution of its input.
type Round struct {
	// Seed is the last seed tried in this round.
	Seed int `json:"seed"`

	// Input is the generated artifact. Empty when generation failed.
	Input string `json:"input,omitempty"`

	// Generated classifies the generation attempt.
	Generated Outcome `json:"generated"`

	// Ran classifies the execution of Input.
	Ran Outcome `json:"ran"`

	// Elapsed is the wall-clock time of the execution. Nil unless Ran is
	// present.
	Elapsed *time.Duration `json:"elapsed,omitempty"`

	// Profile is the coverage profile written by the execution. Empty
	// when profiling was off or no profile was produced.
	Profile string `json:"profile,omitempty"`
}

// Function is one function discovered by instrumentation.
type Function struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// GeneratorPath and RunnerPath are set together by AttachExecutables.
	GeneratorPath string `json:"generator,omitempty"`
	RunnerPath    string `json:"runner,omitempty"`

	TriedSeeds     []int   `json:"tried_seeds,omitempty"`
	SucceededSeeds []int   `json:"succeeded_seeds,omitempty"`
	Rounds         []Round `json:"rounds,omitempty"`
}

// Instrumented reports whether both executables are attached.
func (f *Function) Instrumented() bool {
	return f.GeneratorPath != "" && f.RunnerPath != ""
}

// AttachExecutables records the module's generator and runner when both
// exist on disk. Returns false and leaves the function unattempted
// otherwise.
func (f *Function) AttachExecutables(l layout.Layout) bool {
	gen, run := l.Generator(), l.Runner()
	if !layout.Exists(gen) || !layout.Exists(run) {
		return false
	}
	f.GeneratorPath = gen
	f.RunnerPath = run
	return true
}

// NextSeed returns 0 for a fresh function, otherwise one past the highest
// seed tried so far.
func (f *Function) NextSeed() int {
	if len(f.TriedSeeds) == 0 {
		return 0
	}
	return slices.Max(f.TriedSeeds) + 1
}

// ClaimSeed picks the next seed and records it as tried.
func (f *Function) ClaimSeed() int {
	seed := f.NextSeed()
	f.TriedSeeds = append(f.TriedSeeds, seed)
	return seed
}

// HasInput reports whether any round generated an input.
func (f *Function) HasInput() bool {
	for _, r := range f.Rounds {
		if r.Generated.Present() {
			return true
		}
	}
	return false
}

// HasRun reports whether any round executed its input successfully.
func (f *Function) HasRun() bool {
	for _, r := range f.Rounds {
		if r.Ran.Present() {
			return true
		}
	}
	return false
}
