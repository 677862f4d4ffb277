// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// DefaultQueryTool reports basic-block coverage for a profile.
const DefaultQueryTool = "mbb-pgo-info"

var (
	// ErrQueryFailed indicates the query tool failed.
	ErrQueryFailed = errors.New("coverage query failed")

	// ErrBadReport indicates the query output could not be parsed.
	ErrBadReport = errors.New("malformed coverage report")
)

// BlockCounts summarizes a coverage report.
type BlockCounts struct {
	// Total is the number of basic blocks in the module.
	Total int

	// Executed is the number of blocks with a non-zero count.
	Executed int
}

// QueryOptions configure the coverage query tool.
type QueryOptions struct {
	// Tool is the query executable. Empty means DefaultQueryTool.
	Tool string

	// Timeout bounds one query. Zero means no timeout.
	Timeout time.Duration
}

// Querier asks the coverage query tool for block counts.
type Querier struct {
	sup  supervisor.Supervisor
	opts QueryOptions
}

// NewQuerier creates a Querier.
func NewQuerier(sup supervisor.Supervisor, opts QueryOptions) *Querier {
	if opts.Tool == "" {
		opts.Tool = DefaultQueryTool
	}
	return &Querier{sup: sup, opts: opts}
}

// Query reports block counts of module under profile.
func (q *Querier) Query(ctx context.Context, module, profile string) (BlockCounts, error) {
	var stdout, stderr bytes.Buffer
	exit, err := q.sup.Launch(ctx, supervisor.Command{
		Path:    q.opts.Tool,
		Args:    []string{"--bc-path", module, "--profile-path", profile},
		Timeout: q.opts.Timeout,
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		return BlockCounts{}, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if !exit.Success() {
		return BlockCounts{}, fmt.Errorf("%w: %s exited %d: %s", ErrQueryFailed,
			q.opts.Tool, exit.Code, strings.TrimSpace(stderr.String()))
	}
	return ParseReport(stdout.Bytes())
}

type blockEntry struct {
	NumBlocks         *int `json:"NumBlocks"`
	NumBlocksExecuted *int `json:"NumBlocksExecuted"`
}

// ParseReport sums the per-function block counts of a query report.
//
// # Description
//
// The report is {"Functions": [...]} where each element is either a
// counts object or an object keyed by function name whose value is a
// counts object. Both shapes are accepted.
func ParseReport(data []byte) (BlockCounts, error) {
	var doc struct {
		Functions []map[string]json.RawMessage `json:"Functions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return BlockCounts{}, fmt.Errorf("%w: %w", ErrBadReport, err)
	}

	var counts BlockCounts
	for i, fn := range doc.Functions {
		if _, direct := fn["NumBlocks"]; direct {
			raw, _ := json.Marshal(fn)
			if err := addEntry(&counts, raw); err != nil {
				return BlockCounts{}, fmt.Errorf("%w: function %d: %w", ErrBadReport, i, err)
			}
			continue
		}
		for name, raw := range fn {
			if err := addEntry(&counts, raw); err != nil {
				return BlockCounts{}, fmt.Errorf("%w: function %q: %w", ErrBadReport, name, err)
			}
		}
	}
	return counts, nil
}

func addEntry(counts *BlockCounts, raw json.RawMessage) error {
	var e blockEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return err
	}
	if e.NumBlocks == nil || e.NumBlocksExecuted == nil {
		return errors.New("missing block counts")
	}
	counts.Total += *e.NumBlocks
	counts.Executed += *e.NumBlocksExecuted
	return nil
}
