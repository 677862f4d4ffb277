// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// fakeGenerator returns a LaunchFunc that exits with exitFor(seed) and
// writes the input artifact when write(seed) is true.
func fakeGenerator(l layout.Layout, exitFor func(seed int) int, write func(seed int) bool) func(context.Context, supervisor.Command) (*supervisor.Exit, error) {
	return func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
		seed, err := strconv.Atoi(c.Args[1])
		if err != nil {
			return nil, err
		}
		id := c.Args[len(c.Args)-1]
		if write(seed) {
			if err := os.WriteFile(l.Input(id, seed), []byte("input"), 0600); err != nil {
				return nil, err
			}
		}
		return supervisor.ExitCode(exitFor(seed)), nil
	}
}

func instrumentedFunction(t *testing.T, l layout.Layout, id string) *registry.Function {
	t.Helper()
	require.NoError(t, os.WriteFile(l.Generator(), nil, 0700))
	require.NoError(t, os.WriteFile(l.Runner(), nil, 0700))
	fn := &registry.Function{ID: id, Name: "f" + id}
	require.True(t, fn.AttachExecutables(l))
	return fn
}

func newGenerator(sup supervisor.Supervisor, l layout.Layout, opts Options) *Generator {
	return New(sup, l, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRound_SuccessRecordsInputAndSeed(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "3")
	mock := &supervisor.Mock{LaunchFunc: fakeGenerator(l,
		func(int) int { return 0 },
		func(int) bool { return true })}
	g := newGenerator(mock, l, Options{})

	outcome, err := g.Round(context.Background(), fn, RoundOptions{})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeNormal, outcome)

	require.Len(t, fn.Rounds, 1)
	assert.Equal(t, l.Input("3", 0), fn.Rounds[0].Input)
	assert.Equal(t, []int{0}, fn.TriedSeeds)
	assert.Equal(t, []int{0}, fn.SucceededSeeds)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{l.InputsDir("3"), "0", "1", "--file", l.Manifest(), "3"}, calls[0].Args)
	v, ok := calls[0].EnvValue(EnvDisableBranchHints)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestRound_SeedsAdvanceAcrossRounds(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "0")
	mock := &supervisor.Mock{LaunchFunc: fakeGenerator(l,
		func(int) int { return 0 },
		func(int) bool { return true })}
	g := newGenerator(mock, l, Options{})

	for i := 0; i < 3; i++ {
		_, err := g.Round(context.Background(), fn, RoundOptions{Hints: true})
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2}, fn.TriedSeeds)
	for i, r := range fn.Rounds {
		assert.Equal(t, i, r.Seed)
	}
	for _, c := range mock.Calls() {
		_, ok := c.EnvValue(EnvDisableBranchHints)
		assert.False(t, ok, "hint rounds keep hints enabled")
	}
}

func TestRound_UnreachableExitCountsAsGenerated(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "0")
	mock := &supervisor.Mock{LaunchFunc: fakeGenerator(l,
		func(int) int { return 111 },
		func(int) bool { return true })}
	g := newGenerator(mock, l, Options{})

	outcome, err := g.Round(context.Background(), fn, RoundOptions{})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeUnreachableExit, outcome)
	assert.Equal(t, []int{0}, fn.SucceededSeeds)
}

func TestRound_MissingArtifactDowngradesToFailure(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "0")
	mock := &supervisor.Mock{LaunchFunc: fakeGenerator(l,
		func(int) int { return 0 },
		func(int) bool { return false })}
	g := newGenerator(mock, l, Options{})

	outcome, err := g.Round(context.Background(), fn, RoundOptions{})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeAbsent, outcome)
	require.Len(t, fn.Rounds, 1)
	assert.Empty(t, fn.Rounds[0].Input)
	assert.Empty(t, fn.SucceededSeeds)
	assert.Equal(t, []int{0}, fn.TriedSeeds)
}

func TestRound_SeedAttemptsRetryWithFreshSeeds(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "0")
	mock := &supervisor.Mock{LaunchFunc: fakeGenerator(l,
		func(seed int) int {
			if seed < 2 {
				return 1
			}
			return 0
		},
		func(seed int) bool { return seed >= 2 })}
	g := newGenerator(mock, l, Options{})

	outcome, err := g.Round(context.Background(), fn, RoundOptions{SeedAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeNormal, outcome)
	assert.Equal(t, []int{0, 1, 2}, fn.TriedSeeds)
	assert.Equal(t, []int{2}, fn.SucceededSeeds)
	require.Len(t, fn.Rounds, 1)
	assert.Equal(t, 2, fn.Rounds[0].Seed)
}

func TestRound_AllAttemptsFailStillAppendsOneRound(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "0")
	mock := &supervisor.Mock{LaunchFunc: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
		return nil, &supervisor.TimeoutError{Path: c.Path, Forced: true}
	}}
	g := newGenerator(mock, l, Options{DisablePtrCmpRetry: true})

	for i := 0; i < 2; i++ {
		outcome, err := g.Round(context.Background(), fn, RoundOptions{SeedAttempts: 3})
		require.NoError(t, err)
		assert.Equal(t, registry.OutcomeAbsent, outcome)
	}

	assert.Len(t, fn.Rounds, 2)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, fn.TriedSeeds)
	assert.Empty(t, fn.SucceededSeeds)
	v, ok := mock.Calls()[0].EnvValue(EnvDisablePtrCmpRetry)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestRound_SignaledIsFailure(t *testing.T) {
	l := layout.New(t.TempDir())
	fn := instrumentedFunction(t, l, "0")
	mock := &supervisor.Mock{LaunchFunc: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
		return &supervisor.Exit{Code: -1, Signaled: true, Signal: 11}, nil
	}}
	g := newGenerator(mock, l, Options{})

	outcome, err := g.Round(context.Background(), fn, RoundOptions{})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeAbsent, outcome)
}

func TestRound_NotInstrumented(t *testing.T) {
	l := layout.New(t.TempDir())
	mock := &supervisor.Mock{}
	g := newGenerator(mock, l, Options{})

	fn := &registry.Function{ID: "0"}
	_, err := g.Round(context.Background(), fn, RoundOptions{})
	assert.ErrorIs(t, err, ErrNotInstrumented)
	assert.Empty(t, fn.Rounds)
	assert.Empty(t, mock.Calls())
}
