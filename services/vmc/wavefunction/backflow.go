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
	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
)

// InverseBackflow displaces every electron by its neighbours:
//
//	q_i = r_i + Σ_{j≠i} η(r_ij) (r_i - r_j),  η(r) = w / r
//
// w = 0 is the identity map.
type InverseBackflow struct {
	nelec int
	w0    float64
}

// NewInverseBackflow returns the transform for nelec electrons with
// initial weight w0.
func NewInverseBackflow(nelec int, w0 float64) *InverseBackflow {
	return &InverseBackflow{nelec: nelec, w0: w0}
}

// Name implements Term.
func (b *InverseBackflow) Name() string { return "backflow" }

// NumParams implements Term.
func (b *InverseBackflow) NumParams() int { return 1 }

// InitialParams implements Term.
func (b *InverseBackflow) InitialParams() []float64 { return []float64{b.w0} }

// Transform implements CoordinateTransform.
func (b *InverseBackflow) Transform(pos, theta []dual.Number) []dual.Number {
	out := append([]dual.Number(nil), pos...)
	w := theta[0]
	if w == (dual.Number{}) {
		return out
	}
	for i := 0; i < b.nelec; i++ {
		for j := 0; j < b.nelec; j++ {
			if i == j {
				continue
			}
			eta := dual.Div(w, pairDistance(pos, i, j))
			for c := 0; c < 3; c++ {
				d := dual.Sub(pos[3*i+c], pos[3*j+c])
				out[3*i+c] = dual.Add(out[3*i+c], dual.Mul(eta, d))
			}
		}
	}
	return out
}
