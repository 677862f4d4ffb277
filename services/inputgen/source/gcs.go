// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSOptions locate a module corpus in a Cloud Storage bucket.
type GCSOptions struct {
	Bucket string

	// Prefix restricts the listing. Object names relative to it determine
	// module names and languages.
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string

	// Extension selects module objects. Empty means DefaultExtension.
	Extension string

	// TempDir receives downloaded modules. Empty means os.TempDir().
	TempDir string
}

// GCS serves modules from a Cloud Storage bucket.
//
// Objects are listed once at construction. Fetch downloads one object to a
// temporary file that Module.Release removes.
type GCS struct {
	client *storage.Client
	opts   GCSOptions
	names  []string
}

// NewGCS connects to the bucket and lists its modules.
func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs source: bucket is required")
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
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

	g := &GCS{client: client, opts: opts}
	if err := g.list(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return g, nil
}

func (g *GCS) list(ctx context.Context) error {
	it := g.client.Bucket(g.opts.Bucket).Objects(ctx, &storage.Query{Prefix: g.opts.Prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("listing gs://%s/%s: %w", g.opts.Bucket, g.opts.Prefix, err)
		}
		if strings.HasSuffix(attrs.Name, g.opts.Extension) {
			g.names = append(g.names, attrs.Name)
		}
	}
	if len(g.names) == 0 {
		return fmt.Errorf("%w: gs://%s/%s", ErrEmptySource, g.opts.Bucket, g.opts.Prefix)
	}
	sort.Strings(g.names)
	return nil
}

// Len returns the number of modules.
func (g *GCS) Len() int {
	return len(g.names)
}

// Fetch downloads the module at index.
func (g *GCS) Fetch(ctx context.Context, index int) (*Module, error) {
	if err := checkIndex(index, len(g.names)); err != nil {
		return nil, err
	}
	object := g.names[index]

	r, err := g.client.Bucket(g.opts.Bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening gs://%s/%s: %w", g.opts.Bucket, object, err)
	}
	defer r.Close()

	f, err := os.CreateTemp(g.opts.TempDir, "inputgen-module-*"+g.opts.Extension)
	if err != nil {
		return nil, fmt.Errorf("creating local copy of %s: %w", object, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("downloading gs://%s/%s: %w", g.opts.Bucket, object, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("closing local copy of %s: %w", object, err)
	}

	rel := strings.TrimPrefix(object, g.opts.Prefix)
	local := f.Name()
	return &Module{
		Index:    index,
		Name:     object,
		Language: languageOf(rel),
		Path:     local,
		release:  func() error { return os.Remove(local) },
	}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
