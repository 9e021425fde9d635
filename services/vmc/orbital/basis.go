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

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
)

// Shell is an element-level basis entry expanded into one orbital per
// cartesian component, or 2l+1 orbitals when Harmonics is Spherical.
type Shell struct {
	Kind      RadialKind `yaml:"kind" json:"kind"`
	L         int        `yaml:"l" json:"l"`
	Kr        int        `yaml:"kr" json:"kr"`
	Exponents []float64  `yaml:"exponents" json:"exponents"`
	Coeffs    []float64  `yaml:"coeffs,omitempty" json:"coeffs,omitempty"`
	Harmonics Harmonics  `yaml:"harmonics,omitempty" json:"harmonics,omitempty"`
}

// expand returns the orbitals of sh centred on atom a.
func (sh Shell) expand(a int, center [3]float64) ([]AtomicOrbital, error) {
	base := AtomicOrbital{
		Atom:   a,
		Center: center,
		Kind:   sh.Kind,
		Kr:     sh.Kr,
	}
	var out []AtomicOrbital
	switch sh.Harmonics {
	case "", Cartesian:
		for _, pw := range cartesianPowers(sh.L) {
			ao := base
			ao.Kx, ao.Ky, ao.Kz = pw[0], pw[1], pw[2]
			out = append(out, ao)
		}
	case Spherical:
		if err := checkSpherical(sh.L, 0); err != nil {
			return nil, err
		}
		for _, m := range sphericalOrder(sh.L) {
			ao := base
			ao.Harmonics, ao.L, ao.M = Spherical, sh.L, m
			out = append(out, ao)
		}
	default:
		return nil, fmt.Errorf("%w: harmonics %q", ErrInvalidBasis, sh.Harmonics)
	}
	for k := range out {
		out[k].Exponents = append([]float64(nil), sh.Exponents...)
		out[k].Coeffs = append([]float64(nil), sh.Coeffs...)
		if err := out[k].Normalize(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// single-zeta Slater exponents (Clementi-Raimondi).
var singleZeta = map[string][]Shell{
	"H":  {sto(0, 0, 1.0)},
	"He": {sto(0, 0, 1.6875)},
	"Li": {sto(0, 0, 2.6906), sto(0, 1, 0.6396)},
	"Be": {sto(0, 0, 3.6848), sto(0, 1, 0.9560)},
	"B":  {sto(0, 0, 4.6795), sto(0, 1, 1.2881), sto(1, 0, 1.2107)},
	"C":  {sto(0, 0, 5.6727), sto(0, 1, 1.6083), sto(1, 0, 1.5679)},
	"N":  {sto(0, 0, 6.6651), sto(0, 1, 1.9237), sto(1, 0, 1.9170)},
	"O":  {sto(0, 0, 7.6579), sto(0, 1, 2.2458), sto(1, 0, 2.2266)},
	"F":  {sto(0, 0, 8.6501), sto(0, 1, 2.5638), sto(1, 0, 2.5500)},
	"Ne": {sto(0, 0, 9.6421), sto(0, 1, 2.8792), sto(1, 0, 2.8792)},
}

var sto3gCoeffs = []float64{0.15432897, 0.53532814, 0.44463454}

var sto3g = map[string][]Shell{
	"H":  {{Kind: Gaussian, Exponents: []float64{3.42525091, 0.62391373, 0.16885540}, Coeffs: sto3gCoeffs}},
	"He": {{Kind: Gaussian, Exponents: []float64{6.36242139, 1.15892300, 0.31364979}, Coeffs: sto3gCoeffs}},
}

func sto(l, kr int, zeta float64) Shell {
	return Shell{Kind: Slater, L: l, Kr: kr, Exponents: []float64{zeta}}
}

// Library maps a basis name to per-element shells.
type Library map[string][]Shell

// Builtin returns a named built-in basis library ("sz" or "sto-3g").
func Builtin(name string) (Library, bool) {
	switch name {
	case "sz", "single-zeta":
		return singleZeta, true
	case "sto-3g", "sto3g":
		return sto3g, true
	}
	return nil, false
}

// Basis is the ordered list of atomic orbitals for a molecule.
type Basis struct {
	Name string
	AOs  []AtomicOrbital
}

// NewBasis expands lib over the atoms of mol.
func NewBasis(name string, lib Library, mol *system.Molecule) (*Basis, error) {
	b := &Basis{Name: name}
	for a, atom := range mol.Atoms {
		shells, ok := lib[atom.Symbol]
		if !ok {
			return nil, fmt.Errorf("%w: basis %q has no entry for %s", ErrInvalidBasis, name, atom.Symbol)
		}
		for _, sh := range shells {
			aos, err := sh.expand(a, atom.Pos)
			if err != nil {
				return nil, fmt.Errorf("basis %q atom %d: %w", name, a, err)
			}
			b.AOs = append(b.AOs, aos...)
		}
	}
	if len(b.AOs) == 0 {
		return nil, fmt.Errorf("%w: basis %q is empty", ErrInvalidBasis, name)
	}
	return b, nil
}

// Size returns the number of atomic orbitals.
func (b *Basis) Size() int {
	return len(b.AOs)
}

// Eval writes every atomic orbital value at r into out.
func (b *Basis) Eval(r [3]dual.Number, out []dual.Number) {
	for k := range b.AOs {
		out[k] = b.AOs[k].Eval(r)
	}
}

// cartesianPowers lists (kx, ky, kz) with kx+ky+kz = l in the usual
// x-major order.
func cartesianPowers(l int) [][3]int {
	var out [][3]int
	for kx := l; kx >= 0; kx-- {
		for ky := l - kx; ky >= 0; ky-- {
			out = append(out, [3]int{kx, ky, l - kx - ky})
		}
	}
	return out
}
