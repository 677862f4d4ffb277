// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source enumerates the modules of a batch.
//
// A Source is an indexed, immutable list of modules. Fetch materializes one
// module as a local bitcode file; Release frees whatever Fetch created.
package source

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// DefaultExtension selects bitcode files.
const DefaultExtension = ".bc"

// UnknownLanguage is reported for modules outside a language directory.
const UnknownLanguage = "unknown"

var (
	// ErrOutOfRange is returned by Fetch for an index outside [0, Len()).
	ErrOutOfRange = errors.New("module index out of range")

	// ErrEmptySource is returned when a source holds no modules.
	ErrEmptySource = errors.New("source contains no modules")
)

// Module is one unit of batch work.
type Module struct {
	// Index is the module's position in its source.
	Index int

	// Name identifies the module in reports.
	Name string

	// Language is the source language the module was compiled from.
	Language string

	// Path is a local bitcode file valid until Release.
	Path string

	release func() error
}

// Release frees the local copy of the module, if one was made.
func (m *Module) Release() error {
	if m == nil || m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	return err
}

// Source is an indexed list of modules.
type Source interface {
	// Len returns the number of modules.
	Len() int

	// Fetch materializes the module at index.
	Fetch(ctx context.Context, index int) (*Module, error)
}

// languageOf returns the first path segment of a slash-separated relative
// name, or UnknownLanguage for top-level entries.
func languageOf(rel string) string {
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	return UnknownLanguage
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, n)
	}
	return nil
}
