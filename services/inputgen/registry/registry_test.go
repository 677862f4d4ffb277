// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/layout"
)

// =============================================================================
// Manifest Tests
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    [][2]string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single with trailing nul", "0\x00main\x00", [][2]string{{"0", "main"}}, false},
		{"single without trailing nul", "0\x00main", [][2]string{{"0", "main"}}, false},
		{"file order kept", "2\x00_Z1fv\x001\x00g\x00", [][2]string{{"2", "_Z1fv"}, {"1", "g"}}, false},
		{"id without name", "0\x00main\x001\x00", nil, true},
		{"empty name", "0\x00\x00", nil, true},
		{"empty id", "\x00main\x00", nil, true},
		{"double trailing nul", "0\x00main\x00\x00", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			funcs, err := Parse(strings.NewReader(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrManifestMalformed)
				var me *ManifestError
				assert.True(t, errors.As(err, &me))
				return
			}
			require.NoError(t, err)
			require.Len(t, funcs, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w[0], funcs[i].ID)
				assert.Equal(t, w[1], funcs[i].Name)
				assert.False(t, funcs[i].Instrumented())
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "available_functions"))
	assert.ErrorIs(t, err, ErrManifestMissing)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "available_functions")
	require.NoError(t, os.WriteFile(path, []byte("0\x00"), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrManifestMalformed)
	assert.Contains(t, err.Error(), path)
}

// =============================================================================
// Function Tests
// =============================================================================

func TestFunction_Seeds(t *testing.T) {
	f := &Function{ID: "0"}
	assert.Equal(t, 0, f.NextSeed())

	assert.Equal(t, 0, f.ClaimSeed())
	assert.Equal(t, 1, f.ClaimSeed())
	f.TriedSeeds = append(f.TriedSeeds, 7)
	assert.Equal(t, 8, f.ClaimSeed())
	assert.Equal(t, []int{0, 1, 7, 8}, f.TriedSeeds)
}

func TestFunction_AttachExecutables(t *testing.T) {
	l := layout.New(t.TempDir())
	f := &Function{ID: "0", Name: "main"}

	assert.False(t, f.AttachExecutables(l), "nothing on disk")

	require.NoError(t, os.WriteFile(l.Generator(), []byte{}, 0700))
	assert.False(t, f.AttachExecutables(l), "runner missing")
	assert.False(t, f.Instrumented())

	require.NoError(t, os.WriteFile(l.Runner(), []byte{}, 0700))
	assert.True(t, f.AttachExecutables(l))
	assert.True(t, f.Instrumented())
	assert.Equal(t, l.Generator(), f.GeneratorPath)
	assert.Equal(t, l.Runner(), f.RunnerPath)
}

func TestFunction_HasInputHasRun(t *testing.T) {
	f := &Function{Rounds: []Round{
		{Generated: OutcomeAbsent},
		{Generated: OutcomeUnreachableExit, Ran: OutcomeAbsent},
	}}
	assert.True(t, f.HasInput())
	assert.False(t, f.HasRun())

	f.Rounds = append(f.Rounds, Round{Generated: OutcomeNormal, Ran: OutcomeUnreachableExit})
	assert.True(t, f.HasRun())
}

// =============================================================================
// Outcome Tests
// =============================================================================

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeNormal, Classify(0, DefaultUnreachableExitStatus))
	assert.Equal(t, OutcomeUnreachableExit, Classify(111, DefaultUnreachableExitStatus))
	assert.Equal(t, OutcomeAbsent, Classify(1, DefaultUnreachableExitStatus))
	assert.Equal(t, OutcomeAbsent, Classify(-1, DefaultUnreachableExitStatus))
	assert.Equal(t, OutcomeUnreachableExit, Classify(42, 42))
	assert.Equal(t, OutcomeAbsent, Classify(111, 42))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "normal", OutcomeNormal.String())
	assert.Equal(t, "unreachable_exit", OutcomeUnreachableExit.String())
	assert.Equal(t, "absent", OutcomeAbsent.String())
	assert.True(t, OutcomeUnreachableExit.Present())
	assert.False(t, OutcomeAbsent.Present())
}
