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
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

// PolicyHandler receives a reloaded policy.
type PolicyHandler func(optimize.Policy) error

// PolicyWatcher reloads the policy section when the config file changes.
//
// Description:
//
//	The parent directory is watched so that editors which replace the
//	file by rename are seen. Bursts of events are debounced. A file that
//	fails to parse or validate is logged and ignored; the running policy
//	stays in place. Only the policy section is forwarded: structural
//	fields such as the geometry or walker count need a restart.
//
// Thread Safety:
//
//	Start and Stop may be called from any goroutine.
type PolicyWatcher struct {
	path     string
	handler  PolicyHandler
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPolicyWatcher prepares a watcher for path.
func NewPolicyWatcher(path string, handler PolicyHandler, logger *slog.Logger) (*PolicyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyWatcher{
		path:     abs,
		handler:  handler,
		debounce: 200 * time.Millisecond,
		logger:   logger.With("component", "policy_watcher", "path", abs),
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching until ctx ends or Stop is called.
func (w *PolicyWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *PolicyWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *PolicyWatcher) loop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *PolicyWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", "error", err)
		return
	}
	if err := w.handler(cfg.DriverPolicy()); err != nil {
		w.logger.Warn("policy rejected", "error", err)
		return
	}
	w.logger.Info("policy reloaded",
		"target_low", cfg.Policy.TargetLow,
		"target_high", cfg.Policy.TargetHigh,
		"ess_threshold", cfg.Policy.ESSThreshold,
	)
}
