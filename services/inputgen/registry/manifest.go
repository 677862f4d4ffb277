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
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

var (
	// ErrManifestMissing indicates the manifest file does not exist.
	ErrManifestMissing = errors.New("function manifest missing")

	// ErrManifestMalformed indicates a record that is not exactly one
	// non-empty id and one non-empty name.
	ErrManifestMalformed = errors.New("function manifest malformed")
)

// ManifestError locates a malformed manifest record.
type ManifestError struct {
	// Record is the zero-based record index.
	Record int

	// Reason describes what is wrong with the record.
	Reason string
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest record %d: %s", e.Record, e.Reason)
}

// Is reports ErrManifestMalformed as a match.
func (e *ManifestError) Is(target error) bool {
	return target == ErrManifestMalformed
}

// Parse reads NUL-delimited id/name pairs.
//
// # Description
//
// The stream is id NUL name NUL, repeated. A single trailing empty segment
// after the final NUL is ignored. Any other empty field, or an id without
// a name, fails the whole parse.
//
// # Outputs
//
//   - []*Function: One unattempted Function per record, in file order.
//   - error: *ManifestError for malformed input, or the read error.
func Parse(r io.Reader) ([]*Function, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	fields := bytes.Split(data, []byte{0})
	if len(fields[len(fields)-1]) == 0 {
		fields = fields[:len(fields)-1]
	}
	if len(fields)%2 != 0 {
		return nil, &ManifestError{Record: len(fields) / 2, Reason: "id without name"}
	}

	funcs := make([]*Function, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		id, name := fields[i], fields[i+1]
		switch {
		case len(id) == 0:
			return nil, &ManifestError{Record: i / 2, Reason: "empty id"}
		case len(name) == 0:
			return nil, &ManifestError{Record: i / 2, Reason: "empty name"}
		}
		funcs = append(funcs, &Function{ID: string(id), Name: string(name)})
	}
	return funcs, nil
}

// Load parses the manifest at path.
func Load(path string) ([]*Function, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	funcs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return funcs, nil
}
