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
	"errors"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
)

// ErrDegenerateAnsatz indicates an ansatz whose determinant part cannot
// be non-zero, e.g. from a rank-deficient orbital set. It is fatal at
// initialisation.
var ErrDegenerateAnsatz = errors.New("degenerate ansatz")

// Term is a parameterised component of the ansatz.
type Term interface {
	// Name identifies the term's parameter block.
	Name() string

	// NumParams returns the number of free parameters.
	NumParams() int

	// InitialParams returns starting values, len == NumParams().
	InitialParams() []float64
}

// AmplitudeTerm contributes a multiplicative factor to Ψ.
type AmplitudeTerm interface {
	Term

	// LogAbs returns log|factor| and its sign. pos holds 3N coordinates and
	// theta the term's own parameter block. Both may carry derivative
	// seeds. Implementations must not fail on coincident electrons; a
	// vanishing factor is reported as -Inf with sign 0.
	LogAbs(pos, theta []dual.Number) (dual.Number, float64)
}

// CoordinateTransform maps electron coordinates to quasi-particle
// coordinates before the determinant term is evaluated.
type CoordinateTransform interface {
	Term

	// Transform returns the 3N transformed coordinates.
	Transform(pos, theta []dual.Number) []dual.Number
}

// pairDistance returns |r_i - r_j| for electrons i and j of pos.
func pairDistance(pos []dual.Number, i, j int) dual.Number {
	dx := dual.Sub(pos[3*i], pos[3*j])
	dy := dual.Sub(pos[3*i+1], pos[3*j+1])
	dz := dual.Sub(pos[3*i+2], pos[3*j+2])
	return dual.Sqrt(dual.Add(dual.Add(dual.Mul(dx, dx), dual.Mul(dy, dy)), dual.Mul(dz, dz)))
}

// nucleusDistance returns |r_i - R| for electron i of pos.
func nucleusDistance(pos []dual.Number, i int, at [3]float64) dual.Number {
	dx := dual.AddConst(pos[3*i], -at[0])
	dy := dual.AddConst(pos[3*i+1], -at[1])
	dz := dual.AddConst(pos[3*i+2], -at[2])
	return dual.Sqrt(dual.Add(dual.Add(dual.Mul(dx, dx), dual.Mul(dy, dy)), dual.Mul(dz, dz)))
}
