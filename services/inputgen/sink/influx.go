// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// DefaultMeasurement is the InfluxDB measurement for module results.
const DefaultMeasurement = "inputgen_module"

// InfluxOptions locate the InfluxDB bucket.
type InfluxOptions struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Measurement defaults to DefaultMeasurement.
	Measurement string

	// RunID tags every point.
	RunID string
}

// Influx writes one point per module.
type Influx struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	runID       string
	now         func() time.Time
}

// NewInflux connects to InfluxDB.
func NewInflux(opts InfluxOptions) *Influx {
	client := influxdb2.NewClient(opts.URL, opts.Token)
	s := newInflux(client.WriteAPIBlocking(opts.Org, opts.Bucket), opts)
	s.client = client
	return s
}

func newInflux(w api.WriteAPIBlocking, opts InfluxOptions) *Influx {
	if opts.Measurement == "" {
		opts.Measurement = DefaultMeasurement
	}
	return &Influx{
		writeAPI:    w,
		measurement: opts.Measurement,
		runID:       opts.RunID,
		now:         time.Now,
	}
}

// Write sends r as a point.
func (s *Influx) Write(ctx context.Context, r stats.ModuleResult) error {
	if err := s.writeAPI.WritePoint(ctx, ModulePoint(s.measurement, s.runID, r, s.now())); err != nil {
		return fmt.Errorf("influx write for module %d: %w", r.Index, err)
	}
	return nil
}

// Close releases the client.
func (s *Influx) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// ModulePoint converts a module result into a point.
//
// Tags are the run id, module index, language and status. Fields are the
// scalar statistics plus the final value of every per-round series.
func ModulePoint(measurement, runID string, r stats.ModuleResult, ts time.Time) *write.Point {
	st := r.Stats
	fields := map[string]interface{}{
		"attempts":                  r.Attempts,
		"num_funcs":                 st.NumFuncs,
		"num_instrumented_funcs":    st.NumInstrumentedFuncs,
		"num_input_generated_funcs": st.NumInputGeneratedFuncs,
		"num_input_ran_funcs":       st.NumInputRanFuncs,
		"rounds":                    len(st.InputGenBySeed),
		"input_gen_final":           last(st.InputGenBySeed),
		"input_ran_final":           last(st.InputRanBySeed),
		"input_ran_non_unreachable": last(st.InputRanBySeedNonUnreachable),
	}
	if st.NumBBs != nil {
		fields["num_bbs"] = *st.NumBBs
	}
	if st.NumBBsExecuted != nil {
		fields["num_bbs_executed"] = *st.NumBBsExecuted
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"run_id":   runID,
			"module":   strconv.Itoa(r.Index),
			"language": r.Language,
			"status":   string(r.Status),
		},
		fields,
		ts,
	)
}

func last(series []int) int {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
