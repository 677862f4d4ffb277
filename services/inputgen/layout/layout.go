// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout names the files inside a module's output directory.
//
// The instrumentation tool and the generated executables agree on these
// names, so they are an external contract:
//
//	<dir>/available_functions
//	<dir>/input-gen.module.generate.a.out
//	<dir>/input-gen.module.run.a.out
//	<dir>/input-gen.<id>.inputs/<generator>.input.<id>.<seed>.bin
//	<dir>/input-gen.<id>.inputs/<generator>.input.<id>.<seed>.bin.profdata
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrForeignDirectory is returned by Reset for a non-empty directory that
// was not created by Reset.
var ErrForeignDirectory = errors.New("output directory not owned by a module")

const (
	// ManifestName is the available-functions manifest.
	ManifestName = "available_functions"

	// GeneratorName is the per-module input generator executable.
	GeneratorName = "input-gen.module.generate.a.out"

	// RunnerName is the per-module input runner executable.
	RunnerName = "input-gen.module.run.a.out"

	// ProfileSuffix is appended to an input path to name its profile.
	ProfileSuffix = ".profdata"

	// OwnerName marks a directory created by Reset.
	OwnerName = ".input-gen.module"

	mergedProfileName   = "input-gen.branch-hints.profdata"
	coverageProfileName = "input-gen.coverage.profdata"
)

// Layout resolves paths under one module output directory.
type Layout struct {
	Dir string
}

// New returns the layout rooted at dir.
func New(dir string) Layout {
	return Layout{Dir: dir}
}

// Manifest returns the manifest path.
func (l Layout) Manifest() string {
	return filepath.Join(l.Dir, ManifestName)
}

// Generator returns the generator executable path.
func (l Layout) Generator() string {
	return filepath.Join(l.Dir, GeneratorName)
}

// Runner returns the runner executable path.
func (l Layout) Runner() string {
	return filepath.Join(l.Dir, RunnerName)
}

// InputsDir returns the directory holding inputs for function id.
func (l Layout) InputsDir(id string) string {
	return filepath.Join(l.Dir, "input-gen."+id+".inputs")
}

// Input returns the artifact the generator writes for id and seed.
func (l Layout) Input(id string, seed int) string {
	name := fmt.Sprintf("%s.input.%s.%d.bin", GeneratorName, id, seed)
	return filepath.Join(l.InputsDir(id), name)
}

// Profile returns the coverage profile written when running input.
func (l Layout) Profile(input string) string {
	return input + ProfileSuffix
}

// MergedProfile returns the accumulated branch-hint profile.
func (l Layout) MergedProfile() string {
	return filepath.Join(l.Dir, mergedProfileName)
}

// CoverageProfile returns the accumulated coverage-statistics profile.
func (l Layout) CoverageProfile() string {
	return filepath.Join(l.Dir, coverageProfileName)
}

// Reset removes and recreates the output directory.
//
// Only a missing or empty directory, or one carrying the OwnerName marker
// of an earlier Reset, is cleared. Anything else fails with
// ErrForeignDirectory and is left untouched.
func (l Layout) Reset() error {
	entries, err := os.ReadDir(l.Dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("inspect output directory: %w", err)
	case len(entries) > 0 && !Exists(l.owner()):
		return fmt.Errorf("%w: %s", ErrForeignDirectory, l.Dir)
	}

	if err := os.RemoveAll(l.Dir); err != nil {
		return fmt.Errorf("clear output directory: %w", err)
	}
	if err := os.MkdirAll(l.Dir, 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(l.owner(), nil, 0600); err != nil {
		return fmt.Errorf("mark output directory: %w", err)
	}
	return nil
}

func (l Layout) owner() string {
	return filepath.Join(l.Dir, OwnerName)
}

// Remove deletes the output directory and everything in it.
func (l Layout) Remove() error {
	return os.RemoveAll(l.Dir)
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
