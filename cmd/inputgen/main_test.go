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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/orchestrator"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// testEnv is a workspace whose tools do not exist, so instrumentation
// fails and every module yields empty but valid statistics.
type testEnv struct {
	dir     string
	modules string
	config  string
}

func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:     dir,
		modules: filepath.Join(dir, "modules"),
		config:  filepath.Join(dir, "inputgen.yaml"),
	}
	for _, rel := range []string{"c/a.bc", "rust/b.bc"} {
		p := filepath.Join(env.modules, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
		require.NoError(t, os.WriteFile(p, []byte("BC"), 0600))
	}

	missing := filepath.Join(dir, "missing")
	body := fmt.Sprintf(`
tools:
  input_gen: %[1]s/input-gen
  profile_merge: %[1]s/llvm-profdata
  coverage_query: %[1]s/mbb-pgo-info
  compiler: %[1]s/clang++
runtimes:
  precompile: false
generation:
  rounds: 2
output:
  dir: %[2]s/out
source:
  dir: %[3]s
telemetry:
  trace_exporter: none
  metric_exporter: none
%[4]s`, missing, dir, env.modules, extra)
	require.NoError(t, os.WriteFile(env.config, []byte(body), 0600))
	return env
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestConfig_InitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputgen.yaml")

	code, out, _ := runCLI("config", "init", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, path)

	code, out, _ = runCLI("--config", path, "config", "show")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "rounds: 5")
	assert.Contains(t, out, "unreachable_exit_status: 111")
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, "batch:\n  max_retries: -1\n")
	code, _, stderr := runCLI("--config", env.config, "config", "show")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid configuration")
}

func TestUnknownLogLevel(t *testing.T) {
	env := newTestEnv(t, "")
	code, _, _ := runCLI("--config", env.config, "--log-level", "loud", "config", "show")
	assert.Equal(t, 1, code)
}

func TestModule_MissingInputIsFatal(t *testing.T) {
	env := newTestEnv(t, "")
	code, _, stderr := runCLI("--config", env.config, "module", "--input", filepath.Join(env.dir, "nope.bc"))
	assert.Equal(t, orchestrator.ExitFatal, code)
	assert.Contains(t, stderr, "invalid module")
}

func TestModule_FailedInstrumentationStillReports(t *testing.T) {
	env := newTestEnv(t, "")
	input := filepath.Join(env.modules, "c", "a.bc")

	code, out, stderr := runCLI("--config", env.config, "module", "--input", input)
	require.Equal(t, 0, code, stderr)

	var st stats.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Zero(t, st.NumFuncs)
	assert.Zero(t, st.NumInstrumentedFuncs)
}

func TestModule_StatsOut(t *testing.T) {
	env := newTestEnv(t, "")
	statsOut := filepath.Join(env.dir, "stats.json")

	code, out, stderr := runCLI("--config", env.config, "module",
		"--input", filepath.Join(env.modules, "rust", "b.bc"),
		"--outdir", filepath.Join(env.dir, "single"),
		"--language", "rust",
		"--stats-out", statsOut)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, out)

	data, err := os.ReadFile(statsOut)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"num_funcs":0`)
}

func TestBatch_ThenResults(t *testing.T) {
	env := newTestEnv(t, "")
	reportPath := filepath.Join(env.dir, "report.json")

	code, out, stderr := runCLI("--config", env.config, "batch", "--json", "--workers", "2", "--report", reportPath)
	require.Equal(t, 0, code, stderr)

	var report stats.BatchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.All.Num)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Languages["c"].Num)
	assert.Equal(t, 1, report.Languages["rust"].Num)
	require.NotNil(t, report.RunInfo)
	assert.Equal(t, 2, report.RunInfo.End)
	assert.FileExists(t, reportPath)

	code, out, stderr = runCLI("--config", env.config, "results", "--json")
	require.Equal(t, 0, code, stderr)
	var reloaded stats.BatchReport
	require.NoError(t, json.Unmarshal([]byte(out), &reloaded))
	assert.Len(t, reloaded.Modules, 2)
	assert.Equal(t, report.RunID, reloaded.RunID)
}

func TestModule_KeepsBatchOutput(t *testing.T) {
	env := newTestEnv(t, "")
	code, _, stderr := runCLI("--config", env.config, "batch", "--json")
	require.Equal(t, 0, code, stderr)

	out := filepath.Join(env.dir, "out")
	sibling := filepath.Join(out, "7", "keep")
	require.NoError(t, os.MkdirAll(filepath.Dir(sibling), 0750))
	require.NoError(t, os.WriteFile(sibling, nil, 0600))

	code, _, stderr = runCLI("--config", env.config, "module",
		"--input", filepath.Join(env.modules, "c", "a.bc"), "--index", "4")
	require.Equal(t, 0, code, stderr)
	assert.DirExists(t, filepath.Join(out, "4"))
	assert.FileExists(t, sibling)
	assert.DirExists(t, filepath.Join(out, "results.db"))

	code, outText, stderr := runCLI("--config", env.config, "results", "--json")
	require.Equal(t, 0, code, stderr)
	var reloaded stats.BatchReport
	require.NoError(t, json.Unmarshal([]byte(outText), &reloaded))
	assert.Len(t, reloaded.Modules, 2)
}

func TestModule_RefusesForeignOutdir(t *testing.T) {
	env := newTestEnv(t, "")
	keep := filepath.Join(env.dir, "shared", "keep")
	require.NoError(t, os.MkdirAll(filepath.Dir(keep), 0750))
	require.NoError(t, os.WriteFile(keep, nil, 0600))

	code, _, stderr := runCLI("--config", env.config, "module",
		"--input", filepath.Join(env.modules, "c", "a.bc"),
		"--outdir", filepath.Dir(keep))
	assert.Equal(t, orchestrator.ExitFatal, code)
	assert.Contains(t, stderr, "not owned")
	assert.FileExists(t, keep)
}

func TestBatch_EmptyRange(t *testing.T) {
	env := newTestEnv(t, "")
	code, _, stderr := runCLI("--config", env.config, "batch", "--start", "5")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "empty module range")
}

func TestResults_NothingStored(t *testing.T) {
	env := newTestEnv(t, "")
	code, _, stderr := runCLI("--config", env.config, "results")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no stored results")
}

func TestRenderReport_Plain(t *testing.T) {
	report, err := stats.NewReport("run-1", []stats.ModuleResult{
		{Index: 0, Name: "c/a.bc", Language: "c", Status: stats.StatusOK, Attempts: 1,
			Stats: stats.Statistics{NumFuncs: 4, InputGenBySeed: []int{2, 3}}},
		{Index: 1, Name: "c/b.bc", Language: "c", Status: stats.StatusFailed, Attempts: 3, Error: "worker killed"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	renderReport(&buf, report, false)
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "retries 2")
	assert.Contains(t, out, "[2 3]")
	assert.Contains(t, out, "Failed modules")
	assert.Contains(t, out, "worker killed")
	assert.False(t, styled(&buf))
}

func TestBatchProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newBatchProgress(&buf)
	p.SetTotal(2)
	p.Observe(stats.ModuleResult{Status: stats.StatusOK})
	p.Observe(stats.ModuleResult{Status: stats.StatusFailed})
	p.Finish()

	out := buf.String()
	assert.Contains(t, out, "1/2 modules, 0 failed")
	assert.Contains(t, out, "2/2 modules, 1 failed")
	assert.Contains(t, out, "100%")
}
