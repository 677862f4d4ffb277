// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
)

// Build computes the statistics of one module.
//
// # Description
//
// Scalars count functions by how far they got. Each per-seed series has
// one entry per round: the number of distinct functions that had a
// present outcome at any round up to and including that one. Functions
// with fewer rounds simply stop contributing new members.
//
// # Inputs
//
//   - funcs: The module's functions, instrumented or not.
//   - rounds: The configured number of generation rounds.
//
// # Outputs
//
//   - Statistics: Coverage fields are left nil; see Coverage.
func Build(funcs []*registry.Function, rounds int) Statistics {
	s := Statistics{NumFuncs: len(funcs)}
	for _, fn := range funcs {
		if fn.Instrumented() {
			s.NumInstrumentedFuncs++
		}
		if fn.HasInput() {
			s.NumInputGeneratedFuncs++
		}
		if fn.HasRun() {
			s.NumInputRanFuncs++
		}
	}

	if rounds <= 0 {
		return s
	}

	s.InputGenBySeed = make([]int, rounds)
	s.InputGenBySeedNonUnreachable = make([]int, rounds)
	s.InputRanBySeed = make([]int, rounds)
	s.InputRanBySeedNonUnreachable = make([]int, rounds)

	gen := map[string]struct{}{}
	genNU := map[string]struct{}{}
	ran := map[string]struct{}{}
	ranNU := map[string]struct{}{}

	for i := 0; i < rounds; i++ {
		for _, fn := range funcs {
			if i >= len(fn.Rounds) {
				continue
			}
			r := fn.Rounds[i]
			if r.Generated.Present() {
				gen[fn.ID] = struct{}{}
			}
			if r.Generated == registry.OutcomeNormal {
				genNU[fn.ID] = struct{}{}
			}
			if r.Ran.Present() {
				ran[fn.ID] = struct{}{}
			}
			if r.Ran == registry.OutcomeNormal {
				ranNU[fn.ID] = struct{}{}
			}
		}
		s.InputGenBySeed[i] = len(gen)
		s.InputGenBySeedNonUnreachable[i] = len(genNU)
		s.InputRanBySeed[i] = len(ran)
		s.InputRanBySeedNonUnreachable[i] = len(ranNU)
	}
	return s
}

// WithCoverage returns s with the coverage fields set from a collection.
func (s Statistics) WithCoverage(c CoverageResult) Statistics {
	if c.Total != nil {
		s.NumBBs = intPtr(*c.Total)
	}
	if n := len(c.ExecutedBySeed); n > 0 {
		s.NumBBsExecutedBySeed = append([]int(nil), c.ExecutedBySeed...)
		s.NumBBsExecuted = intPtr(c.ExecutedBySeed[n-1])
	}
	return s
}
