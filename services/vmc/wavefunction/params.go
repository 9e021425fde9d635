// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wavefunction

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
)

// Block names a contiguous range of the parameter vector owned by one
// ansatz term.
type Block struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Len    int    `json:"len"`
}

// Params is an immutable, versioned snapshot of the ansatz parameters.
//
// Description:
//
//	Params is passed by value into every sampler and estimator call. The
//	backing slice is never written after construction, so a sampling
//	pass and its local-energy batch always observe one snapshot. Update
//	produces a new snapshot with a bumped version.
//
// Thread Safety:
//
//	Safe for concurrent reads.
type Params struct {
	version uint64
	blocks  []Block
	values  []float64
}

// NewParams builds version 0 of a parameter snapshot.
func NewParams(blocks []Block, values []float64) (Params, error) {
	total := 0
	for _, b := range blocks {
		if b.Offset != total || b.Len < 0 {
			return Params{}, fmt.Errorf("parameter block %q is not contiguous", b.Name)
		}
		total += b.Len
	}
	if total != len(values) {
		return Params{}, fmt.Errorf("parameter blocks cover %d values, got %d", total, len(values))
	}
	return Params{
		blocks: append([]Block(nil), blocks...),
		values: append([]float64(nil), values...),
	}, nil
}

// Version returns the snapshot version.
func (p Params) Version() uint64 { return p.version }

// Len returns the number of parameters.
func (p Params) Len() int { return len(p.values) }

// At returns parameter i.
func (p Params) At(i int) float64 { return p.values[i] }

// Values returns a copy of the parameter vector.
func (p Params) Values() []float64 {
	return append([]float64(nil), p.values...)
}

// Blocks returns the block layout.
func (p Params) Blocks() []Block {
	return append([]Block(nil), p.blocks...)
}

// Block returns the named block.
func (p Params) Block(name string) (Block, bool) {
	for _, b := range p.blocks {
		if b.Name == name {
			return b, true
		}
	}
	return Block{}, false
}

// Update returns a new snapshot holding values.
func (p Params) Update(values []float64) (Params, error) {
	if len(values) != len(p.values) {
		return Params{}, fmt.Errorf("update has %d values, snapshot has %d", len(values), len(p.values))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Params{}, fmt.Errorf("update value %d is not finite", i)
		}
	}
	return Params{
		version: p.version + 1,
		blocks:  p.blocks,
		values:  append([]float64(nil), values...),
	}, nil
}

// WithVersion returns p relabelled with version v. Used when restoring a
// snapshot from a checkpoint.
func (p Params) WithVersion(v uint64) Params {
	p.version = v
	return p
}

// Dual returns the parameters as unseeded hyper-dual constants in a
// fresh slice the caller may seed.
func (p Params) Dual() []dual.Number {
	return constants(p.values)
}
