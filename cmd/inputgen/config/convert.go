// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"path/filepath"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/execute"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/generate"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/instrument"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/orchestrator"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/processor"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/profile"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/sink"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
)

// StoreFile is the result database name under the output directory.
const StoreFile = "results.db"

// Profiles reports whether runners must write profiles.
func (c Config) Profiles() bool {
	return c.Generation.BranchHints || c.Coverage.Statistics
}

// InstrumentOptions converts the tool, runtime and instrumentation
// sections.
func (c Config) InstrumentOptions() instrument.Options {
	return instrument.Options{
		Tool:                   c.Tools.InputGen,
		GenerateRuntime:        c.Runtimes.Generate,
		RunRuntime:             c.Runtimes.Run,
		Debug:                  c.Instrumentation.Debug,
		Coverage:               c.Profiles(),
		ProfilingRuntime:       c.Runtimes.Profiling,
		DisablePointers:        c.Instrumentation.DisablePointers,
		BranchHints:            c.Generation.BranchHints,
		CoverageRepresentation: c.Instrumentation.CoverageRepresentation,
		Timeout:                c.Instrumentation.Timeout,
	}
}

// PrecompileOptions converts the runtime compilation settings.
func (c Config) PrecompileOptions() instrument.PrecompileOptions {
	return instrument.PrecompileOptions{
		Compiler: c.Tools.Compiler,
		Debug:    c.Instrumentation.Debug,
		Timeout:  c.Instrumentation.Timeout,
	}
}

// ProcessorOptions builds the options of one module's processing.
func (c Config) ProcessorOptions(outdir string, perModuleDir bool) processor.Options {
	return processor.Options{
		Outdir:             outdir,
		PerModuleDir:       perModuleDir,
		Rounds:             c.Generation.Rounds,
		SeedAttempts:       c.Generation.SeedAttempts,
		BranchHints:        c.Generation.BranchHints,
		CoverageStatistics: c.Coverage.Statistics,
		Cleanup:            c.Output.Cleanup,
		Instrument:         c.InstrumentOptions(),
		Generate: generate.Options{
			Timeout:               c.Generation.Timeout,
			UnreachableExitStatus: c.Generation.UnreachableExitStatus,
			DisablePtrCmpRetry:    c.Generation.DisablePtrCmpRetry,
		},
		Execute: execute.Options{
			Timeout:               c.Execution.Timeout,
			UnreachableExitStatus: c.Generation.UnreachableExitStatus,
			ProfileEnv:            c.Execution.ProfileEnv,
		},
		Merge: profile.MergeOptions{Tool: c.Tools.ProfileMerge, Timeout: c.Coverage.MergeTimeout},
		Query: profile.QueryOptions{Tool: c.Tools.CoverageQuery, Timeout: c.Coverage.QueryTimeout},
	}
}

// OrchestratorOptions converts the batch section.
func (c Config) OrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		Start:      c.Batch.Start,
		End:        c.Batch.End,
		Workers:    c.Batch.Workers,
		MaxRetries: c.Batch.MaxRetries,
		Resume:     c.Batch.Resume,
	}
}

// GateOptions converts the dispatch throttles.
func (c Config) GateOptions() orchestrator.GateOptions {
	return orchestrator.GateOptions{
		Rate:          c.Batch.Rate,
		MinFreeMemory: c.Batch.MinFreeMemoryMB << 20,
	}
}

// StorePath returns the result database location.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Output.Dir, StoreFile)
}

func (c Config) SourceGCSOptions() source.GCSOptions {
	return source.GCSOptions{
		Bucket:          c.Source.GCS.Bucket,
		Prefix:          c.Source.GCS.Prefix,
		CredentialsFile: c.Source.GCS.CredentialsFile,
		Extension:       c.Source.Extension,
	}
}

func (c Config) InfluxOptions(runID string) sink.InfluxOptions {
	return sink.InfluxOptions{
		URL:         c.Sinks.Influx.URL,
		Token:       c.Sinks.Influx.Token,
		Org:         c.Sinks.Influx.Org,
		Bucket:      c.Sinks.Influx.Bucket,
		Measurement: c.Sinks.Influx.Measurement,
		RunID:       runID,
	}
}

func (c Config) SinkGCSOptions(runID string) sink.GCSOptions {
	return sink.GCSOptions{
		Bucket:          c.Sinks.GCS.Bucket,
		Prefix:          c.Sinks.GCS.Prefix,
		CredentialsFile: c.Sinks.GCS.CredentialsFile,
		RunID:           runID,
	}
}
