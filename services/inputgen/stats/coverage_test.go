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
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/profile"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/registry"
)

type fileMerger struct {
	calls int
	fail  map[string]bool
}

func (m *fileMerger) Merge(ctx context.Context, acc, in string) error {
	m.calls++
	if m.fail[in] {
		return errors.New("merge crashed")
	}
	return os.WriteFile(acc, []byte("acc"), 0600)
}

// scriptedQuerier returns one scripted answer per call.
type scriptedQuerier struct {
	answers []answer
	calls   int
}

type answer struct {
	counts profile.BlockCounts
	err    error
}

func (q *scriptedQuerier) Query(ctx context.Context, module, prof string) (profile.BlockCounts, error) {
	a := q.answers[q.calls]
	q.calls++
	return a.counts, a.err
}

func withProfiles(id string, profiles ...string) *registry.Function {
	fn := &registry.Function{ID: id}
	for _, p := range profiles {
		fn.Rounds = append(fn.Rounds, registry.Round{Profile: p})
	}
	return fn
}

func newCoverage(t *testing.T, m ProfileMerger, q BlockQuerier) *Coverage {
	return &Coverage{
		Merger:  m,
		Querier: q,
		Layout:  layout.New(t.TempDir()),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCoverage_CumulativePerRound(t *testing.T) {
	merger := &fileMerger{}
	querier := &scriptedQuerier{answers: []answer{
		{counts: profile.BlockCounts{Total: 50, Executed: 10}},
		{counts: profile.BlockCounts{Total: 50, Executed: 18}},
	}}
	c := newCoverage(t, merger, querier)
	funcs := []*registry.Function{
		withProfiles("a", "a0", "a1"),
		withProfiles("b", "b0", ""),
	}

	res, err := c.Collect(context.Background(), "m.bc", funcs, 2)
	require.NoError(t, err)
	require.NotNil(t, res.Total)
	assert.Equal(t, 50, *res.Total)
	assert.Equal(t, []int{10, 18}, res.ExecutedBySeed)
	assert.Equal(t, 3, merger.calls)

	s := Build(nil, 2).WithCoverage(res)
	assert.Equal(t, 50, *s.NumBBs)
	assert.Equal(t, 18, *s.NumBBsExecuted)
	assert.Equal(t, []int{10, 18}, s.NumBBsExecutedBySeed)
}

func TestCoverage_FailedQueryCarriesForward(t *testing.T) {
	querier := &scriptedQuerier{answers: []answer{
		{counts: profile.BlockCounts{Total: 20, Executed: 7}},
		{err: errors.New("tool crashed")},
		{counts: profile.BlockCounts{Total: 20, Executed: 9}},
	}}
	c := newCoverage(t, &fileMerger{}, querier)
	funcs := []*registry.Function{withProfiles("a", "a0", "a1", "a2")}

	res, err := c.Collect(context.Background(), "m.bc", funcs, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 7, 9}, res.ExecutedBySeed)
}

func TestCoverage_NoProfilesYet(t *testing.T) {
	querier := &scriptedQuerier{answers: []answer{
		{counts: profile.BlockCounts{Total: 20, Executed: 4}},
	}}
	c := newCoverage(t, &fileMerger{}, querier)
	funcs := []*registry.Function{withProfiles("a", "", "a1")}

	res, err := c.Collect(context.Background(), "m.bc", funcs, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, res.ExecutedBySeed)
	assert.Equal(t, 1, querier.calls)
}

func TestCoverage_NothingCollected(t *testing.T) {
	c := newCoverage(t, &fileMerger{}, &scriptedQuerier{})

	res, err := c.Collect(context.Background(), "m.bc", []*registry.Function{{ID: "a"}}, 2)
	require.NoError(t, err)
	assert.Nil(t, res.Total)
	assert.Equal(t, []int{0, 0}, res.ExecutedBySeed)
}

func TestCoverage_TotalMismatch(t *testing.T) {
	querier := &scriptedQuerier{answers: []answer{
		{counts: profile.BlockCounts{Total: 20, Executed: 4}},
		{counts: profile.BlockCounts{Total: 21, Executed: 5}},
	}}
	c := newCoverage(t, &fileMerger{}, querier)

	_, err := c.Collect(context.Background(), "m.bc", []*registry.Function{withProfiles("a", "a0", "a1")}, 2)
	assert.ErrorIs(t, err, ErrBlockTotalMismatch)
}
