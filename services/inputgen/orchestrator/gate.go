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
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"
)

// DefaultMemoryPollInterval is how often a blocked gate rechecks memory.
const DefaultMemoryPollInterval = 2 * time.Second

// GateOptions configure admission of new module attempts.
type GateOptions struct {
	// Rate is the maximum number of attempts started per second. Zero
	// means unlimited.
	Rate float64

	// MinFreeMemory holds new attempts while available memory, in bytes,
	// is below it. Zero disables the check.
	MinFreeMemory uint64

	// PollInterval is the memory recheck interval. Zero means
	// DefaultMemoryPollInterval.
	PollInterval time.Duration
}

// Gate admits module attempts at a bounded rate and only while enough
// memory is available.
type Gate struct {
	limiter   *rate.Limiter
	minFree   uint64
	poll      time.Duration
	available func(ctx context.Context) (uint64, error)
	logger    *slog.Logger
}

// NewGate creates a Gate. A nil logger uses slog.Default().
func NewGate(opts GateOptions, logger *slog.Logger) *Gate {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultMemoryPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		limiter:   rate.NewLimiter(limit, 1),
		minFree:   opts.MinFreeMemory,
		poll:      opts.PollInterval,
		available: availableMemory,
		logger:    logger,
	}
}

func availableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Wait blocks until an attempt may start or ctx is done.
//
// An unreadable memory reading admits the attempt.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil {
		return ctx.Err()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if g.minFree == 0 {
		return nil
	}

	warned := false
	for {
		avail, err := g.available(ctx)
		if err != nil {
			g.logger.Debug("memory reading unavailable", slog.String("error", err.Error()))
			return nil
		}
		if avail >= g.minFree {
			return nil
		}
		if !warned {
			g.logger.Warn("holding module dispatch for memory",
				slog.Uint64("available", avail),
				slog.Uint64("required", g.minFree))
			warned = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.poll):
		}
	}
}
