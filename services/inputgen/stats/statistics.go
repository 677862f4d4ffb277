// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats reduces function records into module statistics and
// combines statistics across modules.
//
// # Merge Algebra
//
// Merge is pure, associative and commutative:
//
//   - Scalar counters sum.
//   - Per-seed series sum element-wise; the shorter series is padded
//     with zeros, never truncated.
//   - The basic-block total must agree: equal, or absent on one side.
//     Anything else is ErrBlockTotalMismatch.
//
// The zero Statistics is the identity, which is what a crashed module
// contributes.
package stats

import (
	"errors"
	"fmt"
)

// ErrBlockTotalMismatch indicates two statistics disagree on the
// basic-block total.
var ErrBlockTotalMismatch = errors.New("basic-block totals disagree")

// Statistics describes one module or an aggregate of modules.
type Statistics struct {
	NumFuncs               int `json:"num_funcs"`
	NumInstrumentedFuncs   int `json:"num_instrumented_funcs"`
	NumInputGeneratedFuncs int `json:"num_input_generated_funcs"`
	NumInputRanFuncs       int `json:"num_input_ran_funcs"`

	// NumBBs is the basic-block total. Nil when coverage was not
	// collected.
	NumBBs *int `json:"num_bbs,omitempty"`

	// NumBBsExecuted is the number of executed blocks after the last
	// round. Nil when coverage was not collected.
	NumBBsExecuted *int `json:"num_bbs_executed,omitempty"`

	// Cumulative distinct-function counts per seed index.
	InputGenBySeed               []int `json:"input_gen_by_seed"`
	InputGenBySeedNonUnreachable []int `json:"input_gen_by_seed_non_unreachable"`
	InputRanBySeed               []int `json:"input_ran_by_seed"`
	InputRanBySeedNonUnreachable []int `json:"input_ran_by_seed_non_unreachable"`

	// NumBBsExecutedBySeed is the executed-block count after each round.
	NumBBsExecutedBySeed []int `json:"num_bbs_executed_by_seed,omitempty"`
}

// Merge combines a and b without modifying either.
func Merge(a, b Statistics) (Statistics, error) {
	bbs, err := mergeTotal(a.NumBBs, b.NumBBs)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		NumFuncs:                     a.NumFuncs + b.NumFuncs,
		NumInstrumentedFuncs:         a.NumInstrumentedFuncs + b.NumInstrumentedFuncs,
		NumInputGeneratedFuncs:       a.NumInputGeneratedFuncs + b.NumInputGeneratedFuncs,
		NumInputRanFuncs:             a.NumInputRanFuncs + b.NumInputRanFuncs,
		NumBBs:                       bbs,
		NumBBsExecuted:               sumOptional(a.NumBBsExecuted, b.NumBBsExecuted),
		InputGenBySeed:               addSeries(a.InputGenBySeed, b.InputGenBySeed),
		InputGenBySeedNonUnreachable: addSeries(a.InputGenBySeedNonUnreachable, b.InputGenBySeedNonUnreachable),
		InputRanBySeed:               addSeries(a.InputRanBySeed, b.InputRanBySeed),
		InputRanBySeedNonUnreachable: addSeries(a.InputRanBySeedNonUnreachable, b.InputRanBySeedNonUnreachable),
		NumBBsExecutedBySeed:         addSeries(a.NumBBsExecutedBySeed, b.NumBBsExecutedBySeed),
	}, nil
}

// Aggregate merges all of stats, starting from the zero Statistics.
func Aggregate(stats ...Statistics) (Statistics, error) {
	var acc Statistics
	for i, s := range stats {
		merged, err := Merge(acc, s)
		if err != nil {
			return Statistics{}, fmt.Errorf("aggregate item %d: %w", i, err)
		}
		acc = merged
	}
	return acc, nil
}

func mergeTotal(a, b *int) (*int, error) {
	switch {
	case a == nil && b == nil:
		return nil, nil
	case a == nil:
		return intPtr(*b), nil
	case b == nil:
		return intPtr(*a), nil
	case *a != *b:
		return nil, fmt.Errorf("%w: %d vs %d", ErrBlockTotalMismatch, *a, *b)
	default:
		return intPtr(*a), nil
	}
}

func sumOptional(a, b *int) *int {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return intPtr(*b)
	case b == nil:
		return intPtr(*a)
	default:
		return intPtr(*a + *b)
	}
}

// addSeries sums element-wise, padding the shorter series with zeros.
// Two empty series yield nil.
func addSeries(a, b []int) []int {
	n := max(len(a), len(b))
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	copy(out, a)
	for i, v := range b {
		out[i] += v
	}
	return out
}

func intPtr(v int) *int {
	return &v
}
