// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// batchProgress redraws a one-line progress bar as modules finish.
//
// # Thread Safety
//
// Observe may be called from concurrent workers.
type batchProgress struct {
	mu     sync.Mutex
	w      io.Writer
	bar    progress.Model
	total  int
	done   int
	failed int
	drawn  bool
}

func newBatchProgress(w io.Writer) *batchProgress {
	return &batchProgress{
		w:   w,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// SetTotal sets the number of modules in the batch.
func (p *batchProgress) SetTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = n
}

// Observe records a finished module and redraws.
func (p *batchProgress) Observe(r stats.ModuleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if r.Status != stats.StatusOK {
		p.failed++
	}
	fmt.Fprintf(p.w, "\r%s %s", p.bar.ViewAs(p.fraction()), p.counts())
	p.drawn = true
}

// Finish ends the progress line.
func (p *batchProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func (p *batchProgress) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.done)/float64(p.total), 1)
}

func (p *batchProgress) counts() string {
	return fmt.Sprintf("%d/%d modules, %d failed", p.done, p.total, p.failed)
}
