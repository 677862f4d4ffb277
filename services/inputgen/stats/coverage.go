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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/profile"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
)

// ProfileMerger folds a profile into an accumulated profile.
type ProfileMerger interface {
	Merge(ctx context.Context, accumulated, in string) error
}

// BlockQuerier reports block counts for a module under a profile.
type BlockQuerier interface {
	Query(ctx context.Context, module, profile string) (profile.BlockCounts, error)
}

// CoverageResult is the outcome of a coverage collection.
type CoverageResult struct {
	// Total is the module's basic-block total, nil if no query succeeded.
	Total *int

	// ExecutedBySeed has one entry per round.
	ExecutedBySeed []int
}

// Coverage collects per-round basic-block coverage.
type Coverage struct {
	Merger  ProfileMerger
	Querier BlockQuerier
	Layout  layout.Layout
	Logger  *slog.Logger
}

// Collect merges each round's profiles into a cumulative profile and
// queries it.
//
// # Description
//
// After round i's profiles are merged, the coverage tool is asked for
// block counts. A round whose merge or query fails repeats the previous
// round's executed count, since coverage never shrinks as inputs
// accumulate.
//
// # Outputs
//
//   - CoverageResult: Total and one executed count per round.
//   - error: ErrBlockTotalMismatch when two rounds report different
//     totals for the same module, or the context error.
func (c *Coverage) Collect(ctx context.Context, module string, funcs []*registry.Function, rounds int) (CoverageResult, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	acc := c.Layout.CoverageProfile()

	res := CoverageResult{ExecutedBySeed: make([]int, max(rounds, 0))}
	last := 0
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return CoverageResult{}, err
		}
		for _, fn := range funcs {
			if i >= len(fn.Rounds) || fn.Rounds[i].Profile == "" {
				continue
			}
			if err := c.Merger.Merge(ctx, acc, fn.Rounds[i].Profile); err != nil {
				logger.Warn("coverage merge failed",
					slog.String("func", fn.ID), slog.Int("round", i),
					slog.String("error", err.Error()))
			}
		}

		if layout.Exists(acc) {
			counts, err := c.Querier.Query(ctx, module, acc)
			switch {
			case err != nil:
				logger.Warn("coverage query failed",
					slog.Int("round", i), slog.String("error", err.Error()))
			case res.Total != nil && *res.Total != counts.Total:
				return CoverageResult{}, fmt.Errorf("%w: round %d reports %d blocks, earlier rounds %d",
					ErrBlockTotalMismatch, i, counts.Total, *res.Total)
			default:
				res.Total = intPtr(counts.Total)
				last = counts.Executed
			}
		}
		res.ExecutedBySeed[i] = last
	}
	return res, nil
}
