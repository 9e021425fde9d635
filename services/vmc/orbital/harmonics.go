// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orbital

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
)

// Harmonics selects the angular part of a shell.
type Harmonics string

const (
	// Cartesian expands a shell into x^kx y^ky z^kz components.
	Cartesian Harmonics = "cart"
	// Spherical expands a shell into 2l+1 real solid harmonics.
	Spherical Harmonics = "sph"
)

// MaxSphericalL is the highest angular momentum with spherical support.
const MaxSphericalL = 2

// sphericalOrder lists m values in basis order. p shells follow x, y, z
// so they line up with the cartesian expansion.
func sphericalOrder(l int) []int {
	switch l {
	case 0:
		return []int{0}
	case 1:
		return []int{1, -1, 0}
	case 2:
		return []int{-2, -1, 0, 1, 2}
	}
	return nil
}

// solidHarmonic returns r^l Y_lm for the real harmonic Y_lm normalised
// to one over the unit sphere.
func solidHarmonic(l, m int, x, y, z dual.Number) dual.Number {
	switch l {
	case 0:
		return dual.Const(0.5 / math.Sqrt(math.Pi))
	case 1:
		c := math.Sqrt(3 / (4 * math.Pi))
		switch m {
		case 1:
			return dual.Scale(c, x)
		case -1:
			return dual.Scale(c, y)
		default:
			return dual.Scale(c, z)
		}
	}
	c := 0.5 * math.Sqrt(15/math.Pi)
	switch m {
	case -2:
		return dual.Scale(c, dual.Mul(x, y))
	case -1:
		return dual.Scale(c, dual.Mul(y, z))
	case 1:
		return dual.Scale(c, dual.Mul(x, z))
	case 2:
		return dual.Scale(0.5*c, dual.Sub(dual.Mul(x, x), dual.Mul(y, y)))
	}
	x2, y2, z2 := dual.Mul(x, x), dual.Mul(y, y), dual.Mul(z, z)
	return dual.Scale(0.25*math.Sqrt(5/math.Pi), dual.Sub(dual.Scale(2, z2), dual.Add(x2, y2)))
}

// checkSpherical validates l and m for a spherical orbital.
func checkSpherical(l, m int) error {
	if l < 0 || l > MaxSphericalL {
		return fmt.Errorf("%w: spherical harmonics support l <= %d, got %d", ErrInvalidBasis, MaxSphericalL, l)
	}
	if m < -l || m > l {
		return fmt.Errorf("%w: m = %d outside [-%d, %d]", ErrInvalidBasis, m, l, l)
	}
	return nil
}

// NormSlaterRadial returns the normalisation of r^(l+kr) exp(-ζ r) over
// r² dr, the radial factor of a spherical Slater orbital.
func NormSlaterRadial(l, kr int, zeta float64) float64 {
	n := l + kr + 1
	return math.Sqrt(math.Pow(2*zeta, float64(2*n+1)) / factorial(2*n))
}

// NormGaussianRadial returns the normalisation of r^l exp(-α r²) over
// r² dr, the radial factor of a spherical Gaussian orbital.
func NormGaussianRadial(l int, alpha float64) float64 {
	beta := 2 * alpha
	k := l + 1
	integral := doubleFactorial(2*k-1) / (math.Pow(2, float64(k+1)) * math.Pow(beta, float64(k))) * math.Sqrt(math.Pi/beta)
	return 1 / math.Sqrt(integral)
}
