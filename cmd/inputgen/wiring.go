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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianInputGen/cmd/inputgen/config"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/instrument"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/sink"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/source"
	badgerstore "github.com/AleutianAI/AleutianInputGen/services/inputgen/storage/badger"
	"github.com/AleutianAI/AleutianInputGen/services/inputgen/supervisor"
)

// supervisor builds the process supervisor every component launches
// through.
func (a *app) supervisor() *supervisor.Default {
	return supervisor.New(supervisor.Options{
		GracePeriod: a.cfg.Supervisor.GracePeriod,
		Verbose:     a.verbose,
		Logger:      a.logger.Slog(),
	})
}

// workerSupervisor supervises isolated module workers. Its grace period
// covers the worker's own escalation against its tools.
func (a *app) workerSupervisor() *supervisor.Default {
	grace := a.cfg.Supervisor.GracePeriod
	if grace <= 0 {
		grace = supervisor.DefaultGracePeriod
	}
	return supervisor.New(supervisor.Options{
		GracePeriod: 2*grace + time.Second,
		Verbose:     a.verbose,
		Logger:      a.logger.Slog(),
	})
}

// precompileRuntimes replaces C/C++ runtime sources in cfg with objects
// compiled once for the whole batch.
func precompileRuntimes(ctx context.Context, sup supervisor.Supervisor, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Runtimes.Precompile {
		return nil
	}
	for _, rt := range []*string{&cfg.Runtimes.Generate, &cfg.Runtimes.Run} {
		obj, err := instrument.PrecompileRuntime(ctx, sup, cfg.PrecompileOptions(), *rt)
		if err != nil {
			return err
		}
		if obj != *rt {
			logger.Info("precompiled runtime", slog.String("source", *rt), slog.String("object", obj))
		}
		*rt = obj
	}
	return nil
}

// openSource opens the configured module corpus. The returned close
// function is never nil.
func openSource(ctx context.Context, cfg config.Config) (source.Source, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Source.Kind {
	case config.SourceGCS:
		src, err := source.NewGCS(ctx, cfg.SourceGCSOptions())
		if err != nil {
			return nil, noop, err
		}
		return src, src.Close, nil
	default:
		if cfg.Source.Dir == "" {
			return nil, noop, errors.New("source.dir is required for a directory source")
		}
		src, err := source.NewDirectory(cfg.Source.Dir, cfg.Source.Extension)
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil
	}
}

// openStore opens the result database unless persistence is disabled, in
// which case both returns are nil.
func openStore(cfg config.Config, logger *slog.Logger) (*badgerstore.ResultStore, *badgerstore.DB, error) {
	if cfg.Store.Disabled {
		return nil, nil, nil
	}
	dbCfg := badgerstore.DefaultConfig(cfg.StorePath())
	dbCfg.Logger = logger
	db, err := badgerstore.Open(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open result store: %w", err)
	}
	return badgerstore.NewResultStore(db, logger), db, nil
}

// openSinks connects every enabled sink.
func openSinks(ctx context.Context, cfg config.Config, runID string) (sink.Multi, error) {
	var sinks sink.Multi
	if cfg.Sinks.Influx.Enabled {
		sinks = append(sinks, sink.NewInflux(cfg.InfluxOptions(runID)))
	}
	if cfg.Sinks.GCS.Enabled {
		s, err := sink.NewGCS(ctx, cfg.SinkGCSOptions(runID))
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("open gcs sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
