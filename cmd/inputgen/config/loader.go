// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterStructValidation(crossFieldRules, Config{})
}

// Load reads the YAML file at path over DefaultConfig and validates the
// result.
//
// # Description
//
// Keys absent from the file keep their defaults. Unknown keys are
// rejected so that a misspelled option does not silently do nothing. An
// empty path validates and returns the defaults.
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Read or parse failure, or ErrInvalidConfig with the failing
//     fields.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML data onto cfg.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field tags and the cross-field rules.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(msgs...))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func crossFieldRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.Generation.BranchHints && cfg.Instrumentation.CoverageRepresentation {
		sl.ReportError(cfg.Instrumentation.CoverageRepresentation,
			"Instrumentation.CoverageRepresentation", "CoverageRepresentation", "excluded_with_branch_hints", "")
	}
	if (cfg.Generation.BranchHints || cfg.Coverage.Statistics) && cfg.Runtimes.Profiling == "" {
		sl.ReportError(cfg.Runtimes.Profiling, "Runtimes.Profiling", "Profiling", "required_for_profiles", "")
	}
	if cfg.Batch.End != 0 && cfg.Batch.End <= cfg.Batch.Start {
		sl.ReportError(cfg.Batch.End, "Batch.End", "End", "gtfield_start", "")
	}
	if cfg.Source.Kind == SourceGCS && cfg.Source.GCS.Bucket == "" {
		sl.ReportError(cfg.Source.GCS.Bucket, "Source.GCS.Bucket", "Bucket", "required_for_gcs", "")
	}
}
