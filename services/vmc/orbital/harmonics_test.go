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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
)

// sphere integrates f over the unit sphere.
func sphere(f func(x, y, z float64) float64) float64 {
	return quad.Fixed(func(theta float64) float64 {
		st, ct := math.Sin(theta), math.Cos(theta)
		inner := quad.Fixed(func(phi float64) float64 {
			return f(st*math.Cos(phi), st*math.Sin(phi), ct)
		}, 0, 2*math.Pi, 32, quad.Legendre{}, 0)
		return st * inner
	}, 0, math.Pi, 24, quad.Legendre{}, 0)
}

func TestSolidHarmonics_Orthonormal(t *testing.T) {
	for l := 0; l <= MaxSphericalL; l++ {
		for _, m1 := range sphericalOrder(l) {
			for _, m2 := range sphericalOrder(l) {
				got := sphere(func(x, y, z float64) float64 {
					a := solidHarmonic(l, m1, dual.Const(x), dual.Const(y), dual.Const(z))
					b := solidHarmonic(l, m2, dual.Const(x), dual.Const(y), dual.Const(z))
					return a.V * b.V
				})
				want := 0.0
				if m1 == m2 {
					want = 1
				}
				assert.InDelta(t, want, got, 1e-9, "l=%d m=%d m'=%d", l, m1, m2)
			}
		}
	}
}

func TestSphericalShell_MatchesCartesianP(t *testing.T) {
	mol, err := system.ParseMolecule("H 0 0 0", "bohr", 0, 1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		shell Shell
	}{
		{"slater 2p", Shell{Kind: Slater, L: 1, Exponents: []float64{0.9}}},
		{"slater 3p", Shell{Kind: Slater, L: 1, Kr: 1, Exponents: []float64{0.7}}},
		{"gaussian p", Shell{Kind: Gaussian, L: 1, Exponents: []float64{1.3, 0.4}, Coeffs: []float64{0.6, 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart, err := NewBasis("cart", Library{"H": {tt.shell}}, mol)
			require.NoError(t, err)
			sph := tt.shell
			sph.Harmonics = Spherical
			spher, err := NewBasis("sph", Library{"H": {sph}}, mol)
			require.NoError(t, err)
			require.Equal(t, 3, spher.Size())

			r := [3]dual.Number{dual.Var(0.4), dual.Const(-0.3), dual.Const(0.8)}
			a := make([]dual.Number, 3)
			b := make([]dual.Number, 3)
			cart.Eval(r, a)
			spher.Eval(r, b)
			for k := range a {
				assert.InDelta(t, a[k].V, b[k].V, 1e-12, "value %d", k)
				assert.InDelta(t, a[k].D1, b[k].D1, 1e-12, "gradient %d", k)
				assert.InDelta(t, a[k].D12, b[k].D12, 1e-12, "second derivative %d", k)
			}
		})
	}
}

func TestSphericalOrbital_Normalised(t *testing.T) {
	tests := []struct {
		name string
		ao   AtomicOrbital
		rmax float64
	}{
		{"slater 3d", AtomicOrbital{Kind: Slater, Harmonics: Spherical, L: 2, M: 0, Exponents: []float64{1.1}}, 40},
		{"slater 4d", AtomicOrbital{Kind: Slater, Harmonics: Spherical, L: 2, M: -2, Kr: 1, Exponents: []float64{1.5}}, 40},
		{"gaussian d", AtomicOrbital{Kind: Gaussian, Harmonics: Spherical, L: 2, M: 2, Exponents: []float64{0.8}}, 12},
		{"gaussian s", AtomicOrbital{Kind: Gaussian, Harmonics: Spherical, Exponents: []float64{0.5}}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.ao.Normalize())
			got := quad.Fixed(func(r float64) float64 {
				return r * r * sphere(func(x, y, z float64) float64 {
					v := tt.ao.Eval([3]dual.Number{dual.Const(r * x), dual.Const(r * y), dual.Const(r * z)})
					return v.V * v.V
				})
			}, 0, tt.rmax, 80, quad.Legendre{}, 0)
			assert.InDelta(t, 1, got, 1e-7)
		})
	}
}

func TestSphericalShell_Rejects(t *testing.T) {
	mol, err := system.ParseMolecule("H 0 0 0", "bohr", 0, 1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		shell Shell
	}{
		{"f shell", Shell{Kind: Slater, L: 3, Harmonics: Spherical, Exponents: []float64{1}}},
		{"unknown harmonics", Shell{Kind: Slater, Harmonics: "polar", Exponents: []float64{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBasis("bad", Library{"H": {tt.shell}}, mol)
			assert.ErrorIs(t, err, ErrInvalidBasis)
		})
	}

	bad := AtomicOrbital{Kind: Slater, Harmonics: Spherical, L: 1, M: 2, Exponents: []float64{1}}
	assert.ErrorIs(t, bad.Normalize(), ErrInvalidBasis)
}
