// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orbital evaluates atom-centred basis functions and the
// molecular orbitals built from them.
//
// Atomic orbitals use cartesian harmonics:
//
//	χ(r) = x^kx y^ky z^kz · Σ_p c_p R_p(r)
//
// or, for shells up to d, real solid harmonics r^l Y_lm in place of the
// monomial. Radial parts are Slater, R = r^kr exp(-α r), or Gaussian,
// R = exp(-α r²), measured from the orbital centre. Values are computed
// on hyper-dual coordinates so callers receive exact coordinate
// derivatives for free.
package orbital

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
)

// ErrInvalidBasis indicates a malformed basis definition.
var ErrInvalidBasis = errors.New("invalid basis")

// RadialKind selects the radial function family.
type RadialKind string

const (
	// Slater selects r^kr exp(-α r).
	Slater RadialKind = "sto"
	// Gaussian selects exp(-α r²).
	Gaussian RadialKind = "gto"
)

// AtomicOrbital is one contracted, normalised basis function.
type AtomicOrbital struct {
	Atom      int        `json:"atom" yaml:"atom"`
	Center    [3]float64 `json:"center" yaml:"-"`
	Kind      RadialKind `json:"kind" yaml:"kind"`
	Kx        int        `json:"kx" yaml:"kx"`
	Ky        int        `json:"ky" yaml:"ky"`
	Kz        int        `json:"kz" yaml:"kz"`
	Kr        int        `json:"kr" yaml:"kr"`
	Exponents []float64  `json:"exponents" yaml:"exponents"`
	Coeffs    []float64  `json:"coeffs" yaml:"coeffs"`
	Harmonics Harmonics  `json:"harmonics,omitempty" yaml:"harmonics,omitempty"`
	L         int        `json:"l,omitempty" yaml:"l,omitempty"`
	M         int        `json:"m,omitempty" yaml:"m,omitempty"`

	// norm holds Coeffs[p] multiplied by the primitive normalisation.
	norm []float64
}

// Normalize validates the orbital and precomputes normalised
// contraction coefficients. It must be called before Eval.
func (ao *AtomicOrbital) Normalize() error {
	if ao.Kind != Slater && ao.Kind != Gaussian {
		return fmt.Errorf("%w: radial kind %q", ErrInvalidBasis, ao.Kind)
	}
	if len(ao.Exponents) == 0 {
		return fmt.Errorf("%w: orbital without exponents", ErrInvalidBasis)
	}
	if len(ao.Coeffs) == 0 {
		ao.Coeffs = make([]float64, len(ao.Exponents))
		for i := range ao.Coeffs {
			ao.Coeffs[i] = 1
		}
	}
	if len(ao.Coeffs) != len(ao.Exponents) {
		return fmt.Errorf("%w: %d coefficients for %d exponents", ErrInvalidBasis, len(ao.Coeffs), len(ao.Exponents))
	}
	if ao.Kx < 0 || ao.Ky < 0 || ao.Kz < 0 || ao.Kr < 0 {
		return fmt.Errorf("%w: negative angular power", ErrInvalidBasis)
	}
	if ao.Harmonics == Spherical {
		if err := checkSpherical(ao.L, ao.M); err != nil {
			return err
		}
	}
	if ao.Kind == Gaussian && ao.Kr != 0 {
		return fmt.Errorf("%w: gaussian orbitals do not take an r power", ErrInvalidBasis)
	}
	ao.norm = make([]float64, len(ao.Exponents))
	for p, alpha := range ao.Exponents {
		if alpha <= 0 {
			return fmt.Errorf("%w: exponent %v must be positive", ErrInvalidBasis, alpha)
		}
		switch {
		case ao.Harmonics == Spherical && ao.Kind == Slater:
			ao.norm[p] = ao.Coeffs[p] * NormSlaterRadial(ao.L, ao.Kr, alpha)
		case ao.Harmonics == Spherical:
			ao.norm[p] = ao.Coeffs[p] * NormGaussianRadial(ao.L, alpha)
		case ao.Kind == Slater:
			ao.norm[p] = ao.Coeffs[p] * NormSlaterCartesian(ao.Kx, ao.Ky, ao.Kz, ao.Kr, alpha)
		default:
			ao.norm[p] = ao.Coeffs[p] * NormGaussianCartesian(ao.Kx, ao.Ky, ao.Kz, alpha)
		}
	}
	return nil
}

// Eval returns χ at the electron position r.
func (ao *AtomicOrbital) Eval(r [3]dual.Number) dual.Number {
	dx := dual.AddConst(r[0], -ao.Center[0])
	dy := dual.AddConst(r[1], -ao.Center[1])
	dz := dual.AddConst(r[2], -ao.Center[2])
	r2 := dual.Add(dual.Add(dual.Mul(dx, dx), dual.Mul(dy, dy)), dual.Mul(dz, dz))

	var radial dual.Number
	switch ao.Kind {
	case Gaussian:
		for p, alpha := range ao.Exponents {
			radial = dual.Add(radial, dual.Scale(ao.norm[p], dual.Exp(dual.Scale(-alpha, r2))))
		}
	default:
		rr := dual.Sqrt(r2)
		pre := dual.PowInt(rr, ao.Kr)
		for p, alpha := range ao.Exponents {
			radial = dual.Add(radial, dual.Scale(ao.norm[p], dual.Exp(dual.Scale(-alpha, rr))))
		}
		radial = dual.Mul(pre, radial)
	}

	if ao.Harmonics == Spherical {
		return dual.Mul(radial, solidHarmonic(ao.L, ao.M, dx, dy, dz))
	}
	if ao.Kx != 0 {
		radial = dual.Mul(radial, dual.PowInt(dx, ao.Kx))
	}
	if ao.Ky != 0 {
		radial = dual.Mul(radial, dual.PowInt(dy, ao.Ky))
	}
	if ao.Kz != 0 {
		radial = dual.Mul(radial, dual.PowInt(dz, ao.Kz))
	}
	return radial
}

// NormSlaterCartesian returns the normalisation of
// x^a y^b z^c r^n exp(-ζ r).
func NormSlaterCartesian(a, b, c, n int, zeta float64) float64 {
	l := a + b + c + n + 1
	prefact := 4 * math.Pi * factorial(2*l) / math.Pow(2*zeta, float64(2*l+1))
	num := doubleFactorial(2*a-1) * doubleFactorial(2*b-1) * doubleFactorial(2*c-1)
	denom := doubleFactorial(2*a + 2*b + 2*c + 1)
	return math.Sqrt(1 / (prefact * num / denom))
}

// NormGaussianCartesian returns the normalisation of
// x^a y^b z^c exp(-α r²).
func NormGaussianCartesian(a, b, c int, alpha float64) float64 {
	pref := math.Pow(2*alpha/math.Pi, 0.75)
	f := func(k int) float64 {
		return math.Pow(4*alpha, float64(k)/2) / math.Sqrt(doubleFactorial(2*k-1))
	}
	return pref * f(a) * f(b) * f(c)
}

func factorial(n int) float64 {
	out := 1.0
	for k := 2; k <= n; k++ {
		out *= float64(k)
	}
	return out
}

// doubleFactorial returns n!! with (-1)!! = 1.
func doubleFactorial(n int) float64 {
	out := 1.0
	for k := n; k > 1; k -= 2 {
		out *= float64(k)
	}
	return out
}
