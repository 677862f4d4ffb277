// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

const (
	modulePrefix = "module/"
	runInfoKey   = "run/latest"
)

// ErrNoRunInfo is returned by RunInfo when no batch has been noted yet.
var ErrNoRunInfo = errors.New("no run info stored")

// ResultStore keeps one ModuleResult per module index.
type ResultStore struct {
	db     *DB
	logger *slog.Logger
}

// NewResultStore wraps db. A nil logger uses slog.Default().
func NewResultStore(db *DB, logger *slog.Logger) *ResultStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultStore{db: db, logger: logger}
}

func moduleKey(index int) []byte {
	// Zero padding keeps iteration in index order.
	return []byte(fmt.Sprintf("%s%010d", modulePrefix, index))
}

// Put stores r, replacing any earlier result for the same index.
func (s *ResultStore) Put(ctx context.Context, r stats.ModuleResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result %d: %w", r.Index, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(moduleKey(r.Index), data)
	})
}

// Get returns the result stored for index.
func (s *ResultStore) Get(ctx context.Context, index int) (stats.ModuleResult, bool, error) {
	var (
		r     stats.ModuleResult
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(moduleKey(index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return stats.ModuleResult{}, false, fmt.Errorf("load result %d: %w", index, err)
	}
	return r, found, nil
}

// List returns every decodable result in index order. Undecodable records
// are logged and skipped.
func (s *ResultStore) List(ctx context.Context) ([]stats.ModuleResult, error) {
	var results []stats.ModuleResult
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(modulePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var r stats.ModuleResult
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				s.logger.Warn("skipping unreadable result",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()))
				continue
			}
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// PutRunInfo records info as the latest run.
func (s *ResultStore) PutRunInfo(ctx context.Context, info stats.RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode run info: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(runInfoKey), data)
	})
}

// RunInfo returns the latest run info, or ErrNoRunInfo.
func (s *ResultStore) RunInfo(ctx context.Context) (stats.RunInfo, error) {
	var info stats.RunInfo
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runInfoKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoRunInfo
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	return info, err
}
