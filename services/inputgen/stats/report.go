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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Status is the final state of one module in a batch.
type Status string

const (
	// StatusOK means the module was processed and its statistics are real.
	StatusOK Status = "ok"

	// StatusFailed means the module exhausted its retries or failed
	// fatally. Its statistics are zero.
	StatusFailed Status = "failed"
)

// ModuleResult is one module's entry in a batch.
type ModuleResult struct {
	Index    int        `json:"idx"`
	Name     string     `json:"module,omitempty"`
	Language string     `json:"language"`
	Status   Status     `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
	Duration string     `json:"duration,omitempty"`
	Stats    Statistics `json:"stats"`
}

// RunInfo describes the circumstances of a batch run.
type RunInfo struct {
	RunID       string            `json:"run_id"`
	StartedAt   time.Time         `json:"started_at"`
	ToolVersion string            `json:"tool_version,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Start       int               `json:"start"`
	End         int               `json:"end"`
	Config      json.RawMessage   `json:"config,omitempty"`
}

// Summary is a count of modules and their combined statistics.
type Summary struct {
	Num   int        `json:"num"`
	Stats Statistics `json:"stats"`
}

// BatchReport groups a batch's results module-wise, language-wise and
// overall.
type BatchReport struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Modules     []ModuleResult     `json:"Module-wise"`
	Languages   map[string]Summary `json:"Language-wise"`
	All         Summary            `json:"All"`
	Failed      int                `json:"failed"`
	Retries     int                `json:"retries"`
	RunInfo     *RunInfo           `json:"run_info,omitempty"`
}

// NewReport builds a BatchReport from module results.
//
// # Description
//
// Failed modules are counted in Num and contribute zero statistics. A
// group whose basic-block totals conflict keeps its summed counters and
// series with NumBBs unset, and the report is returned together with the
// joined errors.
func NewReport(runID string, results []ModuleResult) (*BatchReport, error) {
	modules := append([]ModuleResult(nil), results...)
	sort.Slice(modules, func(i, j int) bool { return modules[i].Index < modules[j].Index })

	report := &BatchReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Modules:     modules,
		Languages:   map[string]Summary{},
	}

	var errs []error
	byLang := map[string][]Statistics{}
	all := make([]Statistics, 0, len(modules))
	for _, m := range modules {
		if m.Status != StatusOK {
			report.Failed++
		}
		if m.Attempts > 1 {
			report.Retries += m.Attempts - 1
		}
		byLang[m.Language] = append(byLang[m.Language], m.Stats)
		all = append(all, m.Stats)
	}

	for lang, stats := range byLang {
		agg, err := summarize(stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("language %q: %w", lang, err))
		}
		report.Languages[lang] = Summary{Num: len(stats), Stats: agg}
	}

	agg, err := summarize(all)
	if err != nil {
		errs = append(errs, err)
	}
	report.All = Summary{Num: len(all), Stats: agg}

	return report, errors.Join(errs...)
}

// summarize aggregates stats. On conflicting block totals it aggregates
// again without them and returns the conflict alongside the result.
func summarize(stats []Statistics) (Statistics, error) {
	agg, err := Aggregate(stats...)
	if err == nil {
		return agg, nil
	}
	stripped := make([]Statistics, len(stats))
	for i, s := range stats {
		s.NumBBs = nil
		stripped[i] = s
	}
	agg, _ = Aggregate(stripped...)
	return agg, err
}

// LanguageNames returns the report's languages in sorted order.
func (r *BatchReport) LanguageNames() []string {
	names := make([]string, 0, len(r.Languages))
	for name := range r.Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
