// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInputGen/pkg/logging"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

func quietLogger() *slog.Logger {
	return logging.Nop().Slog()
}

func TestDriver_Args(t *testing.T) {
	base := Options{GenerateRuntime: "gen.o", RunRuntime: "run.o"}

	tests := []struct {
		name    string
		opts    func(o *Options)
		profile string
		want    []string
		absent  []string
	}{
		{
			name: "defaults",
			opts: func(o *Options) {},
			want: []string{
				"--input-gen-runtime", "gen.o",
				"--input-run-runtime", "run.o",
				"--output-dir", "/out",
				"m.bc",
				"--compile-input-gen-executables",
				"--input-gen-branch-hints=false",
			},
		},
		{
			name: "debug coverage and hints",
			opts: func(o *Options) {
				o.Debug = true
				o.Coverage = true
				o.ProfilingRuntime = "/rt/profile.a"
				o.BranchHints = true
				o.DisablePointers = true
			},
			profile: "/out/merged.profdata",
			want: []string{
				"-g",
				"--instrumented-module-for-coverage",
				"--profiling-runtime-path=/rt/profile.a",
				"--profile-path=/out/merged.profdata",
				"--input-gen-instrument-pointers=false",
				"--input-gen-branch-hints=true",
			},
		},
		{
			name:   "coverage representation replaces hint flag",
			opts:   func(o *Options) { o.CoverageRepresentation = true },
			want:   []string{"--input-gen-use-coverage-representation"},
			absent: []string{"--input-gen-branch-hints=false", "--input-gen-branch-hints=true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.opts(&opts)
			d := NewDriver(&supervisor.Mock{}, opts, quietLogger())

			args := d.Args(Request{Module: "m.bc", Outdir: "/out", Profile: tt.profile})
			for _, w := range tt.want {
				assert.Contains(t, args, w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, args, a)
			}
		})
	}
}

func TestDriver_Instrument_Success(t *testing.T) {
	mock := &supervisor.Mock{}
	d := NewDriver(mock, Options{Tool: "/opt/input-gen", GenerateRuntime: "g", RunRuntime: "r"}, quietLogger())
	outdir := filepath.Join(t.TempDir(), "nested", "out")

	res := d.Instrument(context.Background(), Request{Module: "m.bc", Outdir: outdir})

	assert.False(t, res.Failed)
	assert.NoError(t, res.Err)
	info, err := os.Stat(outdir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/opt/input-gen", calls[0].Path)
}

func TestDriver_Instrument_FailuresAreFlags(t *testing.T) {
	tests := []struct {
		name   string
		launch func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error)
		is     error
	}{
		{
			name: "non-zero exit",
			launch: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
				return supervisor.ExitCode(1), nil
			},
			is: ErrToolFailed,
		},
		{
			name: "timeout",
			launch: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
				return nil, &supervisor.TimeoutError{Path: c.Path}
			},
			is: supervisor.ErrTimedOut,
		},
		{
			name: "launch error",
			launch: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
				return nil, &supervisor.LaunchError{Path: c.Path, Err: errors.New("no such file")}
			},
			is: supervisor.ErrLaunch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDriver(&supervisor.Mock{LaunchFunc: tt.launch}, Options{}, quietLogger())
			res := d.Instrument(context.Background(), Request{Module: "m.bc", Outdir: t.TempDir()})
			assert.True(t, res.Failed)
			assert.ErrorIs(t, res.Err, tt.is)
		})
	}
}

func TestDriver_Instrument_UncreatableOutdir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	mock := &supervisor.Mock{}

	d := NewDriver(mock, Options{}, quietLogger())
	res := d.Instrument(context.Background(), Request{Module: "m.bc", Outdir: filepath.Join(blocker, "out")})

	assert.True(t, res.Failed)
	assert.Empty(t, mock.Calls())
}

func TestDriver_Version(t *testing.T) {
	mock := &supervisor.Mock{LaunchFunc: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
		_, _ = io.WriteString(c.Stdout, "input-gen 19.0.0git\n")
		return supervisor.ExitCode(0), nil
	}}
	d := NewDriver(mock, Options{}, quietLogger())

	v, err := d.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "input-gen 19.0.0git", v)
	assert.Equal(t, []string{"--version"}, mock.Calls()[0].Args)
}

func TestPrecompileRuntime(t *testing.T) {
	mock := &supervisor.Mock{}
	ctx := context.Background()

	obj, err := PrecompileRuntime(ctx, mock, PrecompileOptions{}, "rt/gen.cpp")
	require.NoError(t, err)
	assert.Equal(t, "rt/gen.cpp.o", obj)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultCompiler, calls[0].Path)
	assert.Equal(t,
		[]string{"-Wall", "-std=c++17", "-c", "rt/gen.cpp", "-o", "rt/gen.cpp.o", "-O3", "-DNDEBUG"},
		calls[0].Args)

	mock.Reset()
	_, err = PrecompileRuntime(ctx, mock, PrecompileOptions{Debug: true, Compiler: "clang++-19"}, "rt/run.c")
	require.NoError(t, err)
	assert.Equal(t, "clang++-19", mock.Calls()[0].Path)
	assert.Contains(t, mock.Calls()[0].Args, "-O0")
	assert.Contains(t, mock.Calls()[0].Args, "-g")
}

func TestPrecompileRuntime_PassThroughAndFailure(t *testing.T) {
	mock := &supervisor.Mock{LaunchFunc: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
		_, _ = io.WriteString(c.Stderr, "error: expected ';'")
		return supervisor.ExitCode(1), nil
	}}
	ctx := context.Background()

	obj, err := PrecompileRuntime(ctx, mock, PrecompileOptions{}, "rt/gen.o")
	require.NoError(t, err)
	assert.Equal(t, "rt/gen.o", obj)
	assert.Empty(t, mock.Calls())

	_, err = PrecompileRuntime(ctx, mock, PrecompileOptions{}, "rt/gen.cpp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected ';'")
}
