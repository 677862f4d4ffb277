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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/orchestrator"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/processor"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

type moduleFlags struct {
	input    string
	outdir   string
	language string
	index    int
	statsOut string

	generateRuntime string
	runRuntime      string
}

func newModuleCmd(a *app) *cobra.Command {
	var f moduleFlags
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Process a single module",
		Long: `Process one module: instrument it, generate and run inputs for every
function, and print its statistics as JSON.

The exit status tells a batch how to treat the attempt:
  0  statistics are valid
  1  retry the module
  3  the module cannot be processed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runModule(cmd, f, a.supervisor())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.input, "input", "", "module bitcode file")
	flags.StringVar(&f.outdir, "outdir", "", "output directory (default: <output.dir>/<index>)")
	flags.StringVar(&f.language, "language", source.UnknownLanguage, "language the module was compiled from")
	flags.IntVar(&f.index, "index", 0, "module index within its batch")
	flags.StringVar(&f.statsOut, "stats-out", "", "write statistics to this file instead of stdout")
	flags.StringVar(&f.generateRuntime, "generate-runtime", "", "override runtimes.generate")
	flags.StringVar(&f.runRuntime, "run-runtime", "", "override runtimes.run")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// runModule processes one module and maps the result kind onto the exit
// status.
func (a *app) runModule(cmd *cobra.Command, f moduleFlags, sup supervisor.Supervisor) error {
	// A batch stops an isolated worker with SIGTERM. Cancelling ctx lets
	// the supervisor take the worker's tools down before it exits.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := a.logger.Slog()

	cfg := a.cfg
	if f.generateRuntime != "" {
		cfg.Runtimes.Generate = f.generateRuntime
	}
	if f.runRuntime != "" {
		cfg.Runtimes.Run = f.runRuntime
	}
	if err := precompileRuntimes(ctx, sup, &cfg, logger); err != nil {
		return &ExitError{Code: orchestrator.ExitFatal, Err: err}
	}

	// Without --outdir the module gets <output.dir>/<index>, never the
	// batch root that holds the result store and sibling modules.
	opts := cfg.ProcessorOptions(f.outdir, false)
	if f.outdir == "" {
		opts = cfg.ProcessorOptions(cfg.Output.Dir, true)
	}
	proc := processor.New(sup, opts, logger)
	m := &source.Module{
		Index:    f.index,
		Name:     filepath.Base(f.input),
		Language: f.language,
		Path:     f.input,
	}

	res := orchestrator.InProcess{Processor: proc}.Process(ctx, m)
	if res.Kind != orchestrator.KindOk {
		return &ExitError{Code: res.Kind.ExitCode(), Err: res.Err}
	}

	if f.statsOut != "" {
		if err := orchestrator.WriteStats(f.statsOut, res.Stats); err != nil {
			return &ExitError{Code: orchestrator.ExitRetryable, Err: err}
		}
		return nil
	}
	return writeJSON(a.stdout, res.Stats)
}
