// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package system holds the static description of a molecular system:
// nuclei, electron count and spin partition. A Molecule is immutable once
// built and is shared read-only by every component of a run.
//
// Electron configurations are flat []float64 slices of length 3N laid
// out as x0 y0 z0 x1 y1 z1 ... with the first NUp electrons spin up.
package system

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BohrPerAngstrom converts Angstrom to atomic units of length.
const BohrPerAngstrom = 1.8897259886

// ErrInvalidMolecule indicates an unusable system description.
var ErrInvalidMolecule = errors.New("invalid molecule")

// elements maps symbols to nuclear charge.
var elements = map[string]int{
	"H": 1, "He": 2, "Li": 3, "Be": 4, "B": 5,
	"C": 6, "N": 7, "O": 8, "F": 9, "Ne": 10,
}

// AtomicNumber returns the nuclear charge for an element symbol.
func AtomicNumber(symbol string) (int, bool) {
	z, ok := elements[symbol]
	return z, ok
}

// Atom is a nucleus at a fixed position in bohr.
type Atom struct {
	Symbol string     `json:"symbol" yaml:"symbol"`
	Charge float64    `json:"charge" yaml:"charge"`
	Pos    [3]float64 `json:"pos" yaml:"pos"`
}

// Molecule is the immutable system description for a run.
type Molecule struct {
	Atoms []Atom `json:"atoms"`
	NUp   int    `json:"n_up"`
	NDown int    `json:"n_down"`
}

// ParseMolecule builds a Molecule from a geometry string.
//
// Description:
//
//	The geometry is a list of "Symbol x y z" entries separated by
//	semicolons or newlines, e.g. "Li 0 0 0; H 0 0 3.015". Coordinates are in unit
//	("bohr" or "angs"). The electron count is the total nuclear charge
//	minus charge; spin is NUp - NDown.
//
// Outputs:
//
//	*Molecule - The parsed system.
//	error - Wraps ErrInvalidMolecule on malformed input.
func ParseMolecule(geometry, unit string, charge, spin int) (*Molecule, error) {
	scale := 1.0
	switch strings.ToLower(unit) {
	case "", "bohr", "au":
	case "angs", "angstrom":
		scale = BohrPerAngstrom
	default:
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidMolecule, unit)
	}

	var atoms []Atom
	entries := strings.FieldsFunc(geometry, func(r rune) bool { return r == ';' || r == '\n' })
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: entry %q needs symbol and 3 coordinates", ErrInvalidMolecule, strings.TrimSpace(entry))
		}
		z, ok := elements[fields[0]]
		if !ok {
			return nil, fmt.Errorf("%w: unknown element %q", ErrInvalidMolecule, fields[0])
		}
		var pos [3]float64
		for d := 0; d < 3; d++ {
			v, err := strconv.ParseFloat(fields[d+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: coordinate %q: %v", ErrInvalidMolecule, fields[d+1], err)
			}
			pos[d] = v * scale
		}
		atoms = append(atoms, Atom{Symbol: fields[0], Charge: float64(z), Pos: pos})
	}
	return NewMolecule(atoms, charge, spin)
}

// NewMolecule builds a Molecule from explicit atoms.
func NewMolecule(atoms []Atom, charge, spin int) (*Molecule, error) {
	if len(atoms) == 0 {
		return nil, fmt.Errorf("%w: no atoms", ErrInvalidMolecule)
	}
	total := 0
	for _, a := range atoms {
		total += int(math.Round(a.Charge))
	}
	nelec := total - charge
	if nelec <= 0 {
		return nil, fmt.Errorf("%w: %d electrons", ErrInvalidMolecule, nelec)
	}
	if (nelec+spin)%2 != 0 || spin < 0 || spin > nelec {
		return nil, fmt.Errorf("%w: spin %d incompatible with %d electrons", ErrInvalidMolecule, spin, nelec)
	}
	m := &Molecule{
		Atoms: append([]Atom(nil), atoms...),
		NUp:   (nelec + spin) / 2,
		NDown: (nelec - spin) / 2,
	}
	return m, m.Validate()
}

// Validate checks the invariants of the description.
func (m *Molecule) Validate() error {
	if len(m.Atoms) == 0 {
		return fmt.Errorf("%w: no atoms", ErrInvalidMolecule)
	}
	if m.NUp < 0 || m.NDown < 0 || m.NUp+m.NDown == 0 {
		return fmt.Errorf("%w: spin partition %d/%d", ErrInvalidMolecule, m.NUp, m.NDown)
	}
	for i, a := range m.Atoms {
		if a.Charge <= 0 {
			return fmt.Errorf("%w: atom %d has charge %v", ErrInvalidMolecule, i, a.Charge)
		}
		for _, x := range a.Pos {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: atom %d has non-finite position", ErrInvalidMolecule, i)
			}
		}
		for j := 0; j < i; j++ {
			if distance(a.Pos, m.Atoms[j].Pos) == 0 {
				return fmt.Errorf("%w: atoms %d and %d coincide", ErrInvalidMolecule, j, i)
			}
		}
	}
	return nil
}

// NumElectrons returns N.
func (m *Molecule) NumElectrons() int {
	return m.NUp + m.NDown
}

// Dim returns the length of a configuration vector (3N).
func (m *Molecule) Dim() int {
	return 3 * m.NumElectrons()
}

// SpinUp reports whether electron i belongs to the up partition.
func (m *Molecule) SpinUp(i int) bool {
	return i < m.NUp
}

// NuclearRepulsion returns Σ_{a<b} Z_a Z_b / R_ab.
func (m *Molecule) NuclearRepulsion() float64 {
	var e float64
	for a := range m.Atoms {
		for b := 0; b < a; b++ {
			e += m.Atoms[a].Charge * m.Atoms[b].Charge / distance(m.Atoms[a].Pos, m.Atoms[b].Pos)
		}
	}
	return e
}

// Center returns the charge-weighted centre of the nuclei.
func (m *Molecule) Center() [3]float64 {
	var c [3]float64
	var w float64
	for _, a := range m.Atoms {
		for d := 0; d < 3; d++ {
			c[d] += a.Charge * a.Pos[d]
		}
		w += a.Charge
	}
	for d := 0; d < 3; d++ {
		c[d] /= w
	}
	return c
}

// Electron returns the position of electron i within a configuration.
func Electron(pos []float64, i int) []float64 {
	return pos[3*i : 3*i+3]
}

func distance(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
