// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StoreConfig holds configuration for the local checkpoint store.
type StoreConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory keeps checkpoints in RAM only. Used by tests and dry runs.
	InMemory bool

	// SyncWrites fsyncs every checkpoint.
	SyncWrites bool

	// Keep is the number of checkpoints retained per run; 0 keeps all.
	Keep int

	// GCInterval is how often value log GC runs; 0 disables.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites.
	GCDiscardRatio float64

	Logger *slog.Logger
}

// DefaultStoreConfig returns durable defaults.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		SyncWrites:     true,
		Keep:           10,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryStoreConfig returns a configuration for tests.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store keeps checkpoints in BadgerDB.
//
// Keys are laid out as
//
//	ckpt/<run>/<step, zero padded>  -> encoded Checkpoint
//	latest/<run>                    -> key of the newest checkpoint
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	db     *badger.DB
	keep   int
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// OpenStore opens or creates a checkpoint store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("checkpoint store: path is required")
	}
	if cfg.Keep < 0 {
		return nil, fmt.Errorf("checkpoint store: keep must be >= 0, got %d", cfg.Keep)
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	s := &Store{db: db, keep: cfg.Keep, logger: logger.With("component", "checkpoint_store")}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

func checkpointKey(runID string, step int) []byte {
	return []byte(fmt.Sprintf("ckpt/%s/%012d", runID, step))
}

func runPrefix(runID string) []byte {
	return []byte("ckpt/" + runID + "/")
}

func latestKey(runID string) []byte {
	return []byte("latest/" + runID)
}

// Save writes a checkpoint and prunes old ones beyond Keep.
func (s *Store) Save(ctx context.Context, c Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.RunID == "" || strings.Contains(c.RunID, "/") {
		return fmt.Errorf("checkpoint store: invalid run id %q", c.RunID)
	}
	data, err := Encode(c)
	if err != nil {
		return err
	}
	key := checkpointKey(c.RunID, c.Step)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(latestKey(c.RunID), key)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	s.logger.Debug("checkpoint saved", "run_id", c.RunID, "step", c.Step, "bytes", len(data))
	if s.keep > 0 {
		return s.prune(c.RunID)
	}
	return nil
}

func (s *Store) prune(runID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := runPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) <= s.keep {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys[:len(keys)-s.keep] {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) get(txn *badger.Txn, key []byte) (Checkpoint, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var c Checkpoint
	err = item.Value(func(val []byte) error {
		var derr error
		c, derr = Decode(val)
		return derr
	})
	return c, err
}

// Load returns the checkpoint of runID at step.
func (s *Store) Load(runID string, step int) (Checkpoint, error) {
	var c Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = s.get(txn, checkpointKey(runID, step))
		return err
	})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load %s step %d: %w", runID, step, err)
	}
	return c, nil
}

// Latest returns the newest checkpoint of runID.
func (s *Store) Latest(runID string) (Checkpoint, error) {
	var c Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		c, err = s.get(txn, key)
		return err
	})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("latest %s: %w", runID, err)
	}
	return c, nil
}

// List returns checkpoint metadata, ordered by run then step. An empty
// runID lists every run.
func (s *Store) List(runID string) ([]Meta, error) {
	prefix := []byte("ckpt/")
	if runID != "" {
		prefix = runPrefix(runID)
	}
	var out []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				c, err := Decode(val)
				if err != nil {
					s.logger.Warn("skipping unreadable checkpoint",
						"key", string(it.Item().Key()),
						"error", err,
					)
					return nil
				}
				out = append(out, c.Meta())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Step < out[j].Step
	})
	return out, nil
}
