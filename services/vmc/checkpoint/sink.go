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
	"log/slog"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

// Sink saves driver state to a Store and optionally mirrors it to an
// Exporter. It implements optimize.Checkpointer.
type Sink struct {
	Store    *Store
	Exporter *Exporter
	Logger   *slog.Logger
}

// Checkpoint implements optimize.Checkpointer. Export failures are
// logged; the local save decides the result.
func (s *Sink) Checkpoint(ctx context.Context, st optimize.State) error {
	c := FromState(st)
	if err := s.Store.Save(ctx, c); err != nil {
		return err
	}
	if s.Exporter == nil {
		return nil
	}
	if err := s.Exporter.Export(ctx, c); err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("checkpoint export failed",
			"run_id", c.RunID,
			"step", c.Step,
			"uri", s.Exporter.URI(c.RunID, c.Step),
			"error", err,
		)
	}
	return nil
}
