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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInputGen/cmd/inputgen/config"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/instrument"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/orchestrator"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/processor"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/telemetry"
)

type batchFlags struct {
	metricsAddr string
	reportPath  string
	json        bool

	start   int
	end     int
	workers int
	resume  bool
	isolate bool
}

func newBatchCmd(a *app) *cobra.Command {
	var f batchFlags
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process a range of modules from the configured source",
		Long: `Process modules batch.start..batch.end of the configured source with a
pool of workers. Failed attempts are retried up to batch.max_retries; a
module that never succeeds is reported with zero statistics. Results are
stored as they finish, so an interrupted batch can be resumed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&f.reportPath, "report", "", "also write the JSON report to this file")
	flags.BoolVar(&f.json, "json", false, "print the report as JSON")
	flags.IntVar(&f.start, "start", 0, "first module index (overrides batch.start)")
	flags.IntVar(&f.end, "end", 0, "module index to stop before (overrides batch.end)")
	flags.IntVar(&f.workers, "workers", 0, "concurrent modules (overrides batch.workers)")
	flags.BoolVar(&f.resume, "resume", false, "skip modules with a stored ok result")
	flags.BoolVar(&f.isolate, "isolate", false, "run each module in its own process")
	return cmd
}

// applyBatchFlags copies explicitly set flags over the loaded config.
func applyBatchFlags(cmd *cobra.Command, f batchFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		cfg.Batch.Start = f.start
	}
	if flags.Changed("end") {
		cfg.Batch.End = f.end
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers = f.workers
	}
	if flags.Changed("resume") {
		cfg.Batch.Resume = f.resume
	}
	if flags.Changed("isolate") {
		cfg.Batch.Isolate = f.isolate
	}
}

func (a *app) runBatch(cmd *cobra.Command, f batchFlags) error {
	cfg := a.cfg
	applyBatchFlags(cmd, f, &cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := a.logger.Slog()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()
	if f.metricsAddr != "" {
		if _, err := telemetry.ServeMetrics(ctx, f.metricsAddr, logger); err != nil {
			return err
		}
	}

	sup := a.supervisor()
	if err := precompileRuntimes(ctx, sup, &cfg, logger); err != nil {
		return err
	}

	src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	runID := orchestrator.NewRunID()
	driver := instrument.NewDriver(sup, cfg.InstrumentOptions(), logger)
	info := orchestrator.NoteRunInfo(ctx, runID, driver, cfg, logger)

	deps := orchestrator.Deps{
		Source: src,
		Gate:   orchestrator.NewGate(cfg.GateOptions(), logger),
		Logger: logger,
	}
	var bar *batchProgress
	if styled(a.stderr) {
		bar = newBatchProgress(a.stderr)
		deps.OnResult = bar.Observe
	}

	store, db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer db.Close()
		deps.Store = store
	}

	sinks, err := openSinks(ctx, cfg, runID)
	if err != nil {
		return err
	}
	if len(sinks) > 0 {
		defer sinks.Close()
		deps.Sink = sinks
	}

	deps.Worker, err = a.worker(cfg, sup, logger)
	if err != nil {
		return err
	}

	opts := cfg.OrchestratorOptions()
	opts.RunID = runID
	opts.RunInfo = &info
	o, err := orchestrator.New(deps, opts)
	if err != nil {
		return err
	}

	if bar != nil {
		start, end := o.Range()
		bar.SetTotal(end - start)
	}
	report, runErr := o.Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if report != nil {
		if err := a.emitReport(report, f.json, f.reportPath); err != nil {
			return err
		}
	}
	return runErr
}

// worker picks the in-process or the isolated worker.
func (a *app) worker(cfg config.Config, sup supervisor.Supervisor, logger *slog.Logger) (orchestrator.Worker, error) {
	if !cfg.Batch.Isolate {
		proc := processor.New(sup, cfg.ProcessorOptions(cfg.Output.Dir, true), logger)
		return orchestrator.InProcess{Processor: proc}, nil
	}

	args := append(a.childArgs(), "module",
		"--generate-runtime", cfg.Runtimes.Generate,
		"--run-runtime", cfg.Runtimes.Run,
	)
	return orchestrator.NewSubprocess(a.workerSupervisor(), orchestrator.SubprocessOptions{
		Args:    args,
		Outdir:  cfg.Output.Dir,
		Timeout: cfg.Batch.ModuleTimeout,
		Verbose: a.verbose,
	}, logger)
}

func (a *app) emitReport(report *stats.BatchReport, asJSON bool, path string) error {
	if path != "" {
		if err := writeJSONFile(path, report); err != nil {
			return err
		}
	}
	if asJSON {
		return writeJSON(a.stdout, report)
	}
	renderReport(a.stdout, report, styled(a.stdout))
	return nil
}
