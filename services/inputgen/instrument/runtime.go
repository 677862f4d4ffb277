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
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// DefaultCompiler compiles runtime sources.
const DefaultCompiler = "clang++"

// PrecompileOptions configure runtime precompilation.
type PrecompileOptions struct {
	// Compiler is the C++ compiler. Empty means DefaultCompiler.
	Compiler string

	// Debug compiles with -O0 -g instead of -O3 -DNDEBUG.
	Debug bool

	// Timeout bounds one compilation. Zero means no timeout.
	Timeout time.Duration
}

var sourceExtensions = map[string]bool{
	".c":   true,
	".cc":  true,
	".cpp": true,
	".cxx": true,
}

// PrecompileRuntime compiles a runtime source to an object file next to it.
//
// # Description
//
// Paths that are not C or C++ sources are returned unchanged. Sources are
// compiled once per batch so that each module's instrumentation links an
// object instead of recompiling the runtime.
//
// # Outputs
//
//   - string: The object path ("<src>.o") or the unchanged input.
//   - error: Non-nil when the compiler could not be run or failed.
func PrecompileRuntime(ctx context.Context, sup supervisor.Supervisor, opts PrecompileOptions, src string) (string, error) {
	if !sourceExtensions[strings.ToLower(filepath.Ext(src))] {
		return src, nil
	}
	if opts.Compiler == "" {
		opts.Compiler = DefaultCompiler
	}

	obj := src + ".o"
	args := []string{"-Wall", "-std=c++17", "-c", src, "-o", obj}
	if opts.Debug {
		args = append(args, "-O0", "-g")
	} else {
		args = append(args, "-O3", "-DNDEBUG")
	}

	var stderr bytes.Buffer
	exit, err := sup.Launch(ctx, supervisor.Command{
		Path:    opts.Compiler,
		Args:    args,
		Timeout: opts.Timeout,
		Stderr:  &stderr,
	})
	if err != nil {
		return "", fmt.Errorf("compile runtime %s: %w", src, err)
	}
	if !exit.Success() {
		return "", fmt.Errorf("compile runtime %s: exit status %d: %s",
			src, exit.Code, strings.TrimSpace(stderr.String()))
	}
	return obj, nil
}
