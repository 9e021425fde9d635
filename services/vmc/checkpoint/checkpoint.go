// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists optimisation runs.
//
// A checkpoint holds everything needed to resume a run bit-for-bit:
// the parameter snapshot with its version, the walker population with
// every walker's RNG state, the sampler step size, the optimizer moments
// and the last step record. Checkpoints are stored locally in BadgerDB and can be
// exported to Google Cloud Storage.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
	"github.com/AleutianAI/AleutianVMC/services/vmc/sampler"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// FormatVersion is bumped on incompatible layout changes.
const FormatVersion = 1

var (
	// ErrNotFound is returned when no checkpoint matches.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt is returned when a checkpoint fails its checksum or
	// cannot be decoded.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// Checkpoint is the serialised state of a run at a step boundary.
type Checkpoint struct {
	Format        int                      `json:"format"`
	RunID         string                   `json:"run_id"`
	Step          int                      `json:"step"`
	ParamsVersion uint64                   `json:"params_version"`
	Blocks        []wavefunction.Block     `json:"blocks"`
	Params        []float64                `json:"params"`
	Sampler       sampler.Snapshot         `json:"sampler"`
	Record        optimize.StepRecord      `json:"record"`
	Optimizer     *optimize.OptimizerState `json:"optimizer,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	Checksum      string                   `json:"checksum,omitempty"`
}

// Meta is the listing view of a checkpoint.
type Meta struct {
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Energy    float64   `json:"energy"`
	StdErr    float64   `json:"stderr"`
	Walkers   int       `json:"walkers"`
	CreatedAt time.Time `json:"created_at"`
}

// FromState converts driver state into a checkpoint.
func FromState(st optimize.State) Checkpoint {
	return Checkpoint{
		Format:        FormatVersion,
		RunID:         st.RunID,
		Step:          st.Step,
		ParamsVersion: st.Params.Version(),
		Blocks:        st.Params.Blocks(),
		Params:        st.Params.Values(),
		Sampler:       st.Sampler,
		Record:        st.Record,
		Optimizer:     st.Optimizer,
		CreatedAt:     time.Now().UTC(),
	}
}

// State converts the checkpoint back into driver state.
func (c Checkpoint) State() (optimize.State, error) {
	p, err := wavefunction.NewParams(c.Blocks, c.Params)
	if err != nil {
		return optimize.State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return optimize.State{
		RunID:     c.RunID,
		Step:      c.Step,
		Params:    p.WithVersion(c.ParamsVersion),
		Sampler:   c.Sampler,
		Record:    c.Record,
		Optimizer: c.Optimizer,
	}, nil
}

// Meta returns the listing view.
func (c Checkpoint) Meta() Meta {
	return Meta{
		RunID:     c.RunID,
		Step:      c.Step,
		Energy:    c.Record.Energy,
		StdErr:    c.Record.StdErr,
		Walkers:   c.Sampler.NWalkers,
		CreatedAt: c.CreatedAt,
	}
}

// Encode serialises the checkpoint with a content checksum.
func Encode(c Checkpoint) ([]byte, error) {
	c.Checksum = ""
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	sum := sha256.Sum256(body)
	c.Checksum = hex.EncodeToString(sum[:])
	return json.Marshal(c)
}

// Decode parses and verifies a checkpoint.
func Decode(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c.Format != FormatVersion {
		return Checkpoint{}, fmt.Errorf("%w: format %d, want %d", ErrCorrupt, c.Format, FormatVersion)
	}
	want := c.Checksum
	c.Checksum = ""
	body, err := json.Marshal(c)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); got != want {
		return Checkpoint{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	c.Checksum = want
	return c, nil
}
