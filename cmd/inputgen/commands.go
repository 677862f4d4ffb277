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
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInputGen/cmd/inputgen/config"
	"github.com/AleutianAI/AleutianInputGen/pkg/logging"
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

// app is the state shared by every command of one invocation.
type app struct {
	// Persistent flags.
	configPath string
	verbose    bool
	logLevel   string
	logJSON    bool

	cfg    config.Config
	logger *logging.Logger

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "inputgen",
		Short: "Generate and run inputs for the functions of compiled modules",
		Long: `inputgen instruments modules with the input-gen tool, generates inputs
for every function over several seeded rounds, runs them, and aggregates
how many functions could be driven per module, per language and overall.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "echo every subprocess and forward its output")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newModuleCmd(a),
		newBatchCmd(a),
		newResultsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		a.logger = logging.New(logging.Config{Level: logging.LevelInfo, Service: "inputgen", Output: a.stderr})
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	name := cfg.Log.Level
	if a.logLevel != "" {
		name = a.logLevel
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return err
	}
	if a.verbose {
		level = logging.LevelDebug
	}

	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "inputgen",
		JSON:    a.logJSON || cfg.Log.JSON,
		Output:  a.stderr,
	})
	slog.SetDefault(a.logger.Slog())
	return nil
}

// childArgs returns the persistent flags a module worker process needs to
// see the same configuration.
func (a *app) childArgs() []string {
	var args []string
	if a.configPath != "" {
		args = append(args, "--config", a.configPath)
	}
	if a.logLevel != "" {
		args = append(args, "--log-level", a.logLevel)
	}
	if a.logJSON {
		args = append(args, "--log-json")
	}
	if a.verbose {
		args = append(args, "--verbose")
	}
	return args
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeYAML(a.stdout, a.cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "init <path>",
		Short:       "Write the default configuration",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}
