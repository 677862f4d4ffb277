// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline provides a staged execution framework for processing a
// single module.
//
// A pipeline is a directed acyclic graph of stages:
//   - Stages declare the stages they depend on
//   - Independent stages run in parallel
//   - Every run gets a session id, a root span and one span per stage
//   - Stage latency and failures are recorded as OpenTelemetry metrics
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	instrument := pipeline.NewFuncStage("INSTRUMENT", nil, instrumentFn)
//	load := pipeline.NewFuncStage("LOAD_FUNCTIONS", []string{"INSTRUMENT"}, loadFn)
//	rounds := pipeline.NewFuncStage("ROUNDS", []string{"LOAD_FUNCTIONS"}, roundsFn)
//
//	p, err := pipeline.NewBuilder("module").
//	    AddStage(instrument).
//	    AddStage(load).
//	    AddStage(rounds).
//	    Build()
//
//	executor, err := pipeline.NewExecutor(p, logger)
//	result, err := executor.Run(ctx, module)
package pipeline
