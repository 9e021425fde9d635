// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report delivers per-step optimisation records to logs, an
// in-memory history and InfluxDB.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

// LogReporter writes one structured log line per step.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements optimize.Reporter.
func (r LogReporter) Report(ctx context.Context, rec optimize.StepRecord) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.Int("step", rec.Step),
		slog.Float64("energy", rec.Energy),
		slog.Float64("stderr", rec.StdErr),
		slog.Float64("variance", rec.Variance),
		slog.Float64("acceptance", rec.Acceptance),
		slog.Float64("ess", rec.ESS),
		slog.Int("invalid", rec.Invalid),
		slog.Duration("duration", rec.Duration),
	}
	if rec.Reused {
		attrs = append(attrs, slog.Bool("reused", true))
	}
	if rec.Resampled {
		attrs = append(attrs, slog.Bool("resampled", true))
	}
	if rec.Divergence != "" {
		attrs = append(attrs, slog.String("divergence", rec.Divergence))
	}
	logger.InfoContext(ctx, "optimisation step", attrs...)
	return nil
}

// History keeps the most recent records in a ring buffer.
//
// Thread Safety:
//
//	Safe for concurrent use; the status server reads while the driver
//	writes.
type History struct {
	mu    sync.RWMutex
	buf   []optimize.StepRecord
	next  int
	count int
}

// NewHistory returns a ring holding up to capacity records.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]optimize.StepRecord, capacity)}
}

// Report implements optimize.Reporter.
func (h *History) Report(_ context.Context, rec optimize.StepRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = rec
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	return nil
}

// Records returns the held records, oldest first.
func (h *History) Records() []optimize.StepRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]optimize.StepRecord, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % len(h.buf)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Last returns the newest record.
func (h *History) Last() (optimize.StepRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return optimize.StepRecord{}, false
	}
	return h.buf[(h.next-1+len(h.buf))%len(h.buf)], true
}

// Multi fans a record out to several reporters. Every reporter sees
// every record; errors are joined.
type Multi []optimize.Reporter

// Report implements optimize.Reporter.
func (m Multi) Report(ctx context.Context, rec optimize.StepRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
