// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampler

import (
	"fmt"
	"math/rand/v2"
)

// Snapshot is the resumable state of a sampler: walker positions, the
// adapted step size and every walker's random stream.
type Snapshot struct {
	NWalkers  int       `json:"nwalkers"`
	Dim       int       `json:"dim"`
	Positions []float64 `json:"positions"`
	StepSize  float64   `json:"step_size"`
	RNG       [][]byte  `json:"rng,omitempty"`
}

// Snapshot captures the current state. Cached amplitudes are not
// included; they are recomputed on the next pass.
func (s *Sampler) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		NWalkers:  s.pop.Len(),
		Dim:       s.pop.Dim(),
		Positions: s.pop.Positions(),
		StepSize:  s.stepSize,
		RNG:       make([][]byte, len(s.pcgs)),
	}
	if s.pop.Len() > 0 && s.pop.State(0) == Uninitialized {
		snap.Positions = nil
	}
	for i, pcg := range s.pcgs {
		b, err := pcg.MarshalBinary()
		if err != nil {
			return Snapshot{}, fmt.Errorf("sampler: snapshot rng %d: %w", i, err)
		}
		snap.RNG[i] = b
	}
	return snap, nil
}

// Restore replaces the population with snap. The walker count follows
// the snapshot; the configuration dimension must match.
func (s *Sampler) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Dim != s.pop.Dim() {
		return fmt.Errorf("sampler: snapshot dim %d, system dim %d", snap.Dim, s.pop.Dim())
	}
	if snap.NWalkers <= 0 {
		return fmt.Errorf("sampler: snapshot has %d walkers", snap.NWalkers)
	}
	if snap.RNG != nil && len(snap.RNG) != snap.NWalkers {
		return fmt.Errorf("sampler: snapshot has %d rng states for %d walkers", len(snap.RNG), snap.NWalkers)
	}

	s.cfg.NWalkers = snap.NWalkers
	s.pop.Resize(snap.NWalkers)
	s.seed()
	if snap.Positions != nil {
		if err := s.pop.load(snap.Positions); err != nil {
			return err
		}
	}
	for i, state := range snap.RNG {
		pcg := &rand.PCG{}
		if err := pcg.UnmarshalBinary(state); err != nil {
			return fmt.Errorf("sampler: restore rng %d: %w", i, err)
		}
		s.pcgs[i] = pcg
		s.rngs[i] = rand.New(pcg)
	}
	if snap.StepSize > 0 {
		s.stepSize = min(max(snap.StepSize, s.cfg.MinStep), s.cfg.MaxStep)
	}
	s.fresh = true
	return nil
}
