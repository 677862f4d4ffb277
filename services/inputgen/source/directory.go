// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Directory serves modules from a local directory tree.
//
// # Description
//
// Every file under Root with the configured extension is a module, in
// lexical order of its relative path. A module's language is the name of
// the top-level directory containing it, so a tree laid out as
// root/<language>/... is grouped per language in the batch report.
type Directory struct {
	root  string
	names []string
}

// NewDirectory scans root. An empty ext means DefaultExtension.
func NewDirectory(root, ext string) (*Directory, error) {
	if ext == "" {
		ext = DefaultExtension
	}
	var names []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, root)
	}
	sort.Strings(names)
	return &Directory{root: root, names: names}, nil
}

// Len returns the number of modules.
func (d *Directory) Len() int {
	return len(d.names)
}

// Fetch returns the module at index. The file is used in place.
func (d *Directory) Fetch(ctx context.Context, index int) (*Module, error) {
	if err := checkIndex(index, len(d.names)); err != nil {
		return nil, err
	}
	name := d.names[index]
	return &Module{
		Index:    index,
		Name:     name,
		Language: languageOf(name),
		Path:     filepath.Join(d.root, filepath.FromSlash(name)),
	}, nil
}
