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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
	badgerstore "github.com/AleutianAI/AleutianInputGen/services/inputgen/storage/badger"
)

func newResultsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Re-aggregate the stored results of previous batches",
		Long: `Load every readable module result from the result store and print the
module-wise, language-wise and overall statistics without re-running
anything. Unreadable records are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Store.Disabled {
				return errors.New("the result store is disabled (store.disabled)")
			}
			store, db, err := openStore(a.cfg, a.logger.Slog())
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := loadReport(cmd, store, a.logger.Slog())
			if report == nil {
				return err
			}
			if asJSON {
				if werr := writeJSON(a.stdout, report); werr != nil {
					return werr
				}
			} else {
				renderReport(a.stdout, report, styled(a.stdout))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// loadReport rebuilds a batch report from stored results.
func loadReport(cmd *cobra.Command, store *badgerstore.ResultStore, logger *slog.Logger) (*stats.BatchReport, error) {
	ctx := cmd.Context()
	results, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored results: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("no stored results")
	}

	var runID string
	info, infoErr := store.RunInfo(ctx)
	switch {
	case infoErr == nil:
		runID = info.RunID
	case errors.Is(infoErr, badgerstore.ErrNoRunInfo):
	default:
		logger.Warn("cannot read run info", slog.String("error", infoErr.Error()))
	}

	report, err := stats.NewReport(runID, results)
	if infoErr == nil {
		report.RunInfo = &info
	}
	return report, err
}
