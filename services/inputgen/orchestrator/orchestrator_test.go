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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInputGen/pkg/logging"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

func quietLogger() *slog.Logger {
	return logging.Nop().Slog()
}

// memSource serves n modules; even indices are C, odd ones Rust.
type memSource struct {
	n        int
	fetchErr map[int]int
	mu       sync.Mutex
	released int
}

func (s *memSource) Len() int { return s.n }

func (s *memSource) Fetch(ctx context.Context, index int) (*source.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= s.n {
		return nil, source.ErrOutOfRange
	}
	if s.fetchErr[index] > 0 {
		s.fetchErr[index]--
		return nil, errors.New("transient download failure")
	}
	lang := "c"
	if index%2 == 1 {
		lang = "rust"
	}
	return &source.Module{Index: index, Name: fmt.Sprintf("m%d", index), Language: lang, Path: "/dev/null"}, nil
}

// scriptedWorker plays a queue of results per module; an exhausted queue
// is ok with NumFuncs = index + 1.
type scriptedWorker struct {
	mu      sync.Mutex
	script  map[int][]Result
	calls   map[int]int
	active  int32
	maxSeen int32
	delay   time.Duration
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{script: map[int][]Result{}, calls: map[int]int{}}
}

func (w *scriptedWorker) Process(ctx context.Context, m *source.Module) Result {
	n := atomic.AddInt32(&w.active, 1)
	defer atomic.AddInt32(&w.active, -1)
	for {
		seen := atomic.LoadInt32(&w.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&w.maxSeen, seen, n) {
			break
		}
	}
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[m.Index]++
	if q := w.script[m.Index]; len(q) > 0 {
		w.script[m.Index] = q[1:]
		return q[0]
	}
	return Ok(stats.Statistics{NumFuncs: m.Index + 1, InputGenBySeed: []int{m.Index}})
}

type memStore struct {
	mu      sync.Mutex
	results map[int]stats.ModuleResult
	info    *stats.RunInfo
}

func newMemStore() *memStore {
	return &memStore{results: map[int]stats.ModuleResult{}}
}

func (s *memStore) Put(_ context.Context, r stats.ModuleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Index] = r
	return nil
}

func (s *memStore) Get(_ context.Context, index int) (stats.ModuleResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[index]
	return r, ok, nil
}

func (s *memStore) PutRunInfo(_ context.Context, info stats.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = &info
	return nil
}

type countingSink struct {
	mu      sync.Mutex
	written []int
}

func (s *countingSink) Write(_ context.Context, r stats.ModuleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, r.Index)
	return errors.New("sink down")
}

func run(t *testing.T, deps Deps, opts Options) (*stats.BatchReport, error) {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	o, err := New(deps, opts)
	require.NoError(t, err)
	return o.Run(context.Background())
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_AllModulesOk(t *testing.T) {
	store, sink := newMemStore(), &countingSink{}
	info := stats.RunInfo{RunID: "run"}
	var notified atomic.Int32
	report, err := run(t,
		Deps{Source: &memSource{n: 4}, Worker: newScriptedWorker(), Store: store, Sink: sink,
			OnResult: func(stats.ModuleResult) { notified.Add(1) }},
		Options{Workers: 2, RunID: "run", RunInfo: &info},
	)
	require.NoError(t, err)

	assert.Equal(t, "run", report.RunID)
	require.Len(t, report.Modules, 4)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Retries)
	assert.Equal(t, 4, report.All.Num)
	assert.Equal(t, 1+2+3+4, report.All.Stats.NumFuncs)
	assert.Equal(t, 2, report.Languages["c"].Num)
	assert.Equal(t, 1+3, report.Languages["c"].Stats.NumFuncs)
	assert.Equal(t, 2+4, report.Languages["rust"].Stats.NumFuncs)
	assert.Same(t, &info, report.RunInfo)
	assert.Equal(t, int32(4), notified.Load())

	// Sink failures are logged, never fatal.
	assert.Len(t, sink.written, 4)
	assert.Len(t, store.results, 4)
	require.NotNil(t, store.info)
	assert.Equal(t, "run", store.info.RunID)
	assert.Equal(t, 4, store.info.End)
}

func TestRun_RetryableThenOk(t *testing.T) {
	w := newScriptedWorker()
	w.script[1] = []Result{Retryable(errors.New("oom")), Retryable(errors.New("oom"))}

	report, err := run(t, Deps{Source: &memSource{n: 2}, Worker: w}, Options{MaxRetries: 2})
	require.NoError(t, err)

	m := report.Modules[1]
	assert.Equal(t, stats.StatusOK, m.Status)
	assert.Equal(t, 3, m.Attempts)
	assert.Empty(t, m.Error)
	assert.Equal(t, 2, m.Stats.NumFuncs)
	assert.Equal(t, 2, report.Retries)
}

func TestRun_RetriesExhaustedGiveZeroStatistics(t *testing.T) {
	w := newScriptedWorker()
	w.script[0] = []Result{Retryable(errors.New("a")), Retryable(errors.New("b")), Retryable(errors.New("c"))}

	report, err := run(t, Deps{Source: &memSource{n: 2}, Worker: w}, Options{MaxRetries: 1})
	require.NoError(t, err)

	m := report.Modules[0]
	assert.Equal(t, stats.StatusFailed, m.Status)
	assert.Equal(t, 2, m.Attempts)
	assert.Equal(t, "b", m.Error)
	assert.Equal(t, stats.Statistics{}, m.Stats)
	assert.Equal(t, 1, report.Failed)

	// The failed module counts but adds nothing.
	assert.Equal(t, 2, report.All.Num)
	assert.Equal(t, 2, report.All.Stats.NumFuncs)
}

func TestRun_FatalIsNotRetried(t *testing.T) {
	w := newScriptedWorker()
	w.script[0] = []Result{Fatal(errors.New("bad module"))}

	report, err := run(t, Deps{Source: &memSource{n: 1}, Worker: w}, Options{MaxRetries: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, w.calls[0])
	assert.Equal(t, 1, report.Modules[0].Attempts)
	assert.Equal(t, stats.StatusFailed, report.Modules[0].Status)
}

func TestRun_FetchFailureIsRetried(t *testing.T) {
	src := &memSource{n: 1, fetchErr: map[int]int{0: 1}}
	report, err := run(t, Deps{Source: src, Worker: newScriptedWorker()}, Options{MaxRetries: 1})
	require.NoError(t, err)
	assert.Equal(t, stats.StatusOK, report.Modules[0].Status)
	assert.Equal(t, 2, report.Modules[0].Attempts)
	assert.Equal(t, "c", report.Modules[0].Language)
}

func TestRun_ResumeSkipsStoredOk(t *testing.T) {
	store := newMemStore()
	store.results[0] = stats.ModuleResult{Index: 0, Language: "c", Status: stats.StatusOK, Attempts: 1,
		Stats: stats.Statistics{NumFuncs: 100}}
	store.results[1] = stats.ModuleResult{Index: 1, Language: "rust", Status: stats.StatusFailed, Attempts: 3}

	w := newScriptedWorker()
	report, err := run(t, Deps{Source: &memSource{n: 2}, Worker: w, Store: store}, Options{Resume: true})
	require.NoError(t, err)

	assert.Zero(t, w.calls[0])
	assert.Equal(t, 1, w.calls[1])
	assert.Equal(t, 100+2, report.All.Stats.NumFuncs)
	assert.Equal(t, stats.StatusOK, store.results[1].Status)
}

func TestRun_RangeAndWorkers(t *testing.T) {
	w := newScriptedWorker()
	w.delay = 10 * time.Millisecond
	report, err := run(t, Deps{Source: &memSource{n: 10}, Worker: w}, Options{Start: 2, End: 50, Workers: 3})
	require.NoError(t, err)

	require.Len(t, report.Modules, 8)
	assert.Equal(t, 2, report.Modules[0].Index)
	assert.Equal(t, 9, report.Modules[7].Index)
	assert.LessOrEqual(t, atomic.LoadInt32(&w.maxSeen), int32(3))
}

func TestRun_EmptyRange(t *testing.T) {
	_, err := run(t, Deps{Source: &memSource{n: 3}, Worker: newScriptedWorker()}, Options{Start: 3})
	assert.ErrorIs(t, err, ErrEmptyRange)
}

func TestRun_InconsistentStatisticsStillReport(t *testing.T) {
	w := newScriptedWorker()
	five, six := 5, 6
	w.script[0] = []Result{Ok(stats.Statistics{NumFuncs: 1, NumBBs: &five})}
	w.script[2] = []Result{Ok(stats.Statistics{NumFuncs: 1, NumBBs: &six})}

	report, err := run(t, Deps{Source: &memSource{n: 3}, Worker: w}, Options{})
	assert.ErrorIs(t, err, stats.ErrBlockTotalMismatch)
	require.NotNil(t, report)
	assert.Len(t, report.Modules, 3)
}

func TestRun_CancelledBatch(t *testing.T) {
	w := newScriptedWorker()
	o, err := New(Deps{Source: &memSource{n: 5}, Worker: w, Logger: quietLogger()}, Options{Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Modules)
}

func TestNew_RequiresSourceAndWorker(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

// =============================================================================
// Result Tests
// =============================================================================

func TestKind_ExitCodes(t *testing.T) {
	for _, k := range []Kind{KindOk, KindRetryable, KindFatal} {
		assert.Equal(t, k, KindFromExitCode(k.ExitCode()))
	}
	assert.Equal(t, KindRetryable, KindFromExitCode(137))
	assert.Equal(t, "fatal", KindFatal.String())
}

// =============================================================================
// Gate Tests
// =============================================================================

func TestGate_WaitsForMemory(t *testing.T) {
	g := NewGate(GateOptions{MinFreeMemory: 100, PollInterval: time.Millisecond}, quietLogger())
	var readings int32
	g.available = func(context.Context) (uint64, error) {
		if atomic.AddInt32(&readings, 1) < 3 {
			return 10, nil
		}
		return 200, nil
	}

	require.NoError(t, g.Wait(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&readings))
}

func TestGate_CancelWhileHeld(t *testing.T) {
	g := NewGate(GateOptions{MinFreeMemory: 100, PollInterval: time.Millisecond}, quietLogger())
	g.available = func(context.Context) (uint64, error) { return 0, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
}

func TestGate_UnreadableMemoryAdmits(t *testing.T) {
	g := NewGate(GateOptions{MinFreeMemory: 100}, quietLogger())
	g.available = func(context.Context) (uint64, error) { return 0, errors.New("no /proc") }
	assert.NoError(t, g.Wait(context.Background()))
}

func TestGate_NilAdmits(t *testing.T) {
	var g *Gate
	assert.NoError(t, g.Wait(context.Background()))
}

// =============================================================================
// RunInfo Tests
// =============================================================================

type fixedVersion struct {
	v   string
	err error
}

func (f fixedVersion) Version(context.Context) (string, error) { return f.v, f.err }

func TestNoteRunInfo(t *testing.T) {
	t.Setenv("INPUT_GEN_DISABLE_PTR_CMP_RETRY", "1")

	info := NoteRunInfo(context.Background(), "id", fixedVersion{v: "input-gen 19"},
		map[string]int{"rounds": 5}, quietLogger())

	assert.Equal(t, "id", info.RunID)
	assert.Equal(t, "input-gen 19", info.ToolVersion)
	assert.Equal(t, "1", info.Environment["INPUT_GEN_DISABLE_PTR_CMP_RETRY"])
	assert.JSONEq(t, `{"rounds":5}`, string(info.Config))

	info = NoteRunInfo(context.Background(), "id", fixedVersion{err: errors.New("missing")}, nil, quietLogger())
	assert.Empty(t, info.ToolVersion)
	assert.Nil(t, info.Config)
}

func TestNewRunID(t *testing.T) {
	assert.NotEqual(t, NewRunID(), NewRunID())
}
