// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the YAML configuration of the inputgen CLI.
package config

import (
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/telemetry"
)

// Source kinds.
const (
	SourceDirectory = "directory"
	SourceGCS       = "gcs"
)

// Config is the whole CLI configuration.
type Config struct {
	Log             LogConfig             `yaml:"log" json:"log"`
	Tools           ToolsConfig           `yaml:"tools" json:"tools"`
	Runtimes        RuntimesConfig        `yaml:"runtimes" json:"runtimes"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation" json:"instrumentation"`
	Generation      GenerationConfig      `yaml:"generation" json:"generation"`
	Execution       ExecutionConfig       `yaml:"execution" json:"execution"`
	Coverage        CoverageConfig        `yaml:"coverage" json:"coverage"`
	Supervisor      SupervisorConfig      `yaml:"supervisor" json:"supervisor"`
	Output          OutputConfig          `yaml:"output" json:"output"`
	Source          SourceConfig          `yaml:"source" json:"source"`
	Batch           BatchConfig           `yaml:"batch" json:"batch"`
	Store           StoreConfig           `yaml:"store" json:"store"`
	Sinks           SinksConfig           `yaml:"sinks" json:"sinks"`
	Telemetry       telemetry.Config      `yaml:"telemetry" json:"telemetry"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" json:"dir"`
	JSON  bool   `yaml:"json" json:"json"`
}

// ToolsConfig names the external executables. Bare names are looked up
// on PATH.
type ToolsConfig struct {
	InputGen      string `yaml:"input_gen" json:"input_gen" validate:"required"`
	ProfileMerge  string `yaml:"profile_merge" json:"profile_merge" validate:"required"`
	CoverageQuery string `yaml:"coverage_query" json:"coverage_query" validate:"required"`
	Compiler      string `yaml:"compiler" json:"compiler" validate:"required"`
}

// RuntimesConfig locates the runtimes linked into every module's
// executables.
type RuntimesConfig struct {
	Generate string `yaml:"generate" json:"generate" validate:"required"`
	Run      string `yaml:"run" json:"run" validate:"required"`

	// Profiling is linked into runners when profiles are collected.
	Profiling string `yaml:"profiling" json:"profiling"`

	// Precompile compiles C/C++ runtime sources once per batch.
	Precompile bool `yaml:"precompile" json:"precompile"`
}

type InstrumentationConfig struct {
	Debug                  bool          `yaml:"debug" json:"debug"`
	DisablePointers        bool          `yaml:"disable_pointers" json:"disable_pointers"`
	CoverageRepresentation bool          `yaml:"coverage_representation" json:"coverage_representation"`
	Timeout                time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

type GenerationConfig struct {
	Rounds       int `yaml:"rounds" json:"rounds" validate:"min=1,max=1000"`
	SeedAttempts int `yaml:"seed_attempts" json:"seed_attempts" validate:"min=1"`

	// BranchHints feeds each round's profiles back into instrumentation.
	BranchHints bool `yaml:"branch_hints" json:"branch_hints"`

	DisablePtrCmpRetry    bool          `yaml:"disable_ptr_cmp_retry" json:"disable_ptr_cmp_retry"`
	UnreachableExitStatus int           `yaml:"unreachable_exit_status" json:"unreachable_exit_status" validate:"min=1,max=255"`
	Timeout               time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

type ExecutionConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	// ProfileEnv names the variable that directs the runner's profile
	// output.
	ProfileEnv string `yaml:"profile_env" json:"profile_env" validate:"required"`
}

type CoverageConfig struct {
	// Statistics collects basic-block coverage per round.
	Statistics   bool          `yaml:"statistics" json:"statistics"`
	MergeTimeout time.Duration `yaml:"merge_timeout" json:"merge_timeout" validate:"gte=0"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout" validate:"gte=0"`
}

type SupervisorConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period" validate:"gte=0"`
}

type OutputConfig struct {
	Dir string `yaml:"dir" json:"dir" validate:"required"`

	// Cleanup deletes each module's output after its statistics are built.
	Cleanup bool `yaml:"cleanup" json:"cleanup"`
}

type SourceConfig struct {
	Kind      string          `yaml:"kind" json:"kind" validate:"oneof=directory gcs"`
	Dir       string          `yaml:"dir" json:"dir"`
	Extension string          `yaml:"extension" json:"extension"`
	GCS       GCSBucketConfig `yaml:"gcs" json:"gcs"`
}

type GCSBucketConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	CredentialsFile string `yaml:"credentials_file" json:"-"`
}

type BatchConfig struct {
	// Start and End select the half-open module range. End 0 means the
	// whole source.
	Start int `yaml:"start" json:"start" validate:"gte=0"`
	End   int `yaml:"end" json:"end" validate:"gte=0"`

	// Workers 0 means the number of CPUs.
	Workers    int  `yaml:"workers" json:"workers" validate:"gte=0"`
	MaxRetries int  `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	Resume     bool `yaml:"resume" json:"resume"`

	// Isolate runs each module in a child process.
	Isolate       bool          `yaml:"isolate" json:"isolate"`
	ModuleTimeout time.Duration `yaml:"module_timeout" json:"module_timeout" validate:"gte=0"`

	// Rate limits module attempts per second. 0 means unlimited.
	Rate float64 `yaml:"rate" json:"rate" validate:"gte=0"`

	// MinFreeMemoryMB holds dispatch while available memory is lower.
	MinFreeMemoryMB uint64 `yaml:"min_free_memory_mb" json:"min_free_memory_mb"`
}

type StoreConfig struct {
	// Path of the result database. Empty means <output.dir>/results.db.
	Path string `yaml:"path" json:"path"`

	// Disabled turns off persistence, and with it resume and the results
	// command.
	Disabled bool `yaml:"disabled" json:"disabled"`
}

type SinksConfig struct {
	Influx InfluxSinkConfig `yaml:"influx" json:"influx"`
	GCS    GCSSinkConfig    `yaml:"gcs" json:"gcs"`
}

type InfluxSinkConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	URL         string `yaml:"url" json:"url" validate:"required_if=Enabled true"`
	Token       string `yaml:"token" json:"-"`
	Org         string `yaml:"org" json:"org" validate:"required_if=Enabled true"`
	Bucket      string `yaml:"bucket" json:"bucket" validate:"required_if=Enabled true"`
	Measurement string `yaml:"measurement" json:"measurement"`
}

type GCSSinkConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Bucket          string `yaml:"bucket" json:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	CredentialsFile string `yaml:"credentials_file" json:"-"`
}

// DefaultConfig returns the configuration used for absent keys.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Tools: ToolsConfig{
			InputGen:      "input-gen",
			ProfileMerge:  "llvm-profdata",
			CoverageQuery: "mbb-pgo-info",
			Compiler:      "clang++",
		},
		Runtimes: RuntimesConfig{
			Generate:   "input-gen-runtimes/rt-input-gen.cpp",
			Run:        "input-gen-runtimes/rt-run.cpp",
			Precompile: true,
		},
		Instrumentation: InstrumentationConfig{Timeout: 10 * time.Minute},
		Generation: GenerationConfig{
			Rounds:                5,
			SeedAttempts:          1,
			UnreachableExitStatus: registry.DefaultUnreachableExitStatus,
			Timeout:               5 * time.Second,
		},
		Execution: ExecutionConfig{
			Timeout:    5 * time.Second,
			ProfileEnv: "LLVM_PROFILE_FILE",
		},
		Coverage: CoverageConfig{
			MergeTimeout: time.Minute,
			QueryTimeout: time.Minute,
		},
		Supervisor: SupervisorConfig{GracePeriod: time.Second},
		Output:     OutputConfig{Dir: "inputgen-out"},
		Source:     SourceConfig{Kind: SourceDirectory, Extension: ".bc"},
		Batch:      BatchConfig{MaxRetries: 2},
		Sinks: SinksConfig{
			Influx: InfluxSinkConfig{Measurement: "inputgen_module"},
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}
