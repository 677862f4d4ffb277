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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

// GCSOptions locate the result bucket.
type GCSOptions struct {
	Bucket string

	// Prefix is prepended to every object name.
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string

	// RunID groups the objects of one batch.
	RunID string
}

// objectWriter opens a writer for an object. The GCS client satisfies it
// through bucketWriter; tests substitute an in-memory one.
type objectWriter func(ctx context.Context, name string) io.WriteCloser

// GCS uploads each module result as a JSON object named
// <prefix>/<run id>/<index>.json.
type GCS struct {
	client *storage.Client
	open   objectWriter
	prefix string
	runID  string
}

// NewGCS connects to Cloud Storage.
func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs sink: bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		if _, err := os.Stat(opts.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", opts.CredentialsFile, err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	bucket := client.Bucket(opts.Bucket)
	open := func(ctx context.Context, name string) io.WriteCloser {
		w := bucket.Object(name).NewWriter(ctx)
		w.ContentType = "application/json"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}
	s := newGCS(open, opts)
	s.client = client
	return s, nil
}

func newGCS(open objectWriter, opts GCSOptions) *GCS {
	return &GCS{open: open, prefix: opts.Prefix, runID: opts.RunID}
}

// ObjectName returns the object that holds the result for index.
func (s *GCS) ObjectName(index int) string {
	return path.Join(s.prefix, s.runID, fmt.Sprintf("%d.json", index))
}

// Write uploads r.
func (s *GCS) Write(ctx context.Context, r stats.ModuleResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result %d: %w", r.Index, err)
	}
	name := s.ObjectName(r.Index)
	w := s.open(ctx, name)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Close releases the storage client.
func (s *GCS) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
