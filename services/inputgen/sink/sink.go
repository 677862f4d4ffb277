// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink forwards finished module results to external systems.
package sink

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// Sink receives every finished module result.
type Sink interface {
	Write(ctx context.Context, r stats.ModuleResult) error
	Close() error
}

// Multi fans a result out to several sinks.
type Multi []Sink

// Write writes r to every sink and joins their errors.
func (m Multi) Write(ctx context.Context, r stats.ModuleResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
