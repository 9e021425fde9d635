// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package system

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMolecule(t *testing.T) {
	tests := []struct {
		name      string
		geometry  string
		unit      string
		charge    int
		spin      int
		wantUp    int
		wantDown  int
		wantError bool
	}{
		{name: "H2 bohr", geometry: "H 0 0 0; H 0 0 1.4", unit: "bohr", wantUp: 1, wantDown: 1},
		{name: "LiH", geometry: "Li 0 0 0; H 0 0 3.015", unit: "bohr", wantUp: 2, wantDown: 2},
		{name: "H atom doublet", geometry: "H 0 0 0", spin: 1, wantUp: 1, wantDown: 0},
		{name: "H anion", geometry: "H 0 0 0", charge: -1, wantUp: 1, wantDown: 1},
		{name: "angstrom", geometry: "H 0 0 0; H 0 0 0.74", unit: "angs", wantUp: 1, wantDown: 1},
		{name: "newline separated", geometry: "Li 0 0 0\nH 0 0 3.015\n", unit: "bohr", wantUp: 2, wantDown: 2},
		{name: "mixed separators", geometry: "H 0 0 0;\r\n  H 0 0 1.4", unit: "au", wantUp: 1, wantDown: 1},
		{name: "bad parity", geometry: "H 0 0 0", spin: 0, wantError: true},
		{name: "unknown element", geometry: "Xx 0 0 0", wantError: true},
		{name: "missing coordinate", geometry: "H 0 0", wantError: true},
		{name: "bad unit", geometry: "H 0 0 0", unit: "furlong", spin: 1, wantError: true},
		{name: "coincident nuclei", geometry: "H 0 0 0; H 0 0 0", wantError: true},
		{name: "no electrons", geometry: "H 0 0 0", charge: 1, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mol, err := ParseMolecule(tt.geometry, tt.unit, tt.charge, tt.spin)
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMolecule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUp, mol.NUp)
			assert.Equal(t, tt.wantDown, mol.NDown)
			assert.Equal(t, 3*(tt.wantUp+tt.wantDown), mol.Dim())
		})
	}
}

func TestParseMolecule_AngstromConversion(t *testing.T) {
	mol, err := ParseMolecule("H 0 0 0; H 0 0 1", "angs", 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, BohrPerAngstrom, mol.Atoms[1].Pos[2], 1e-12)
}

func TestNuclearRepulsion(t *testing.T) {
	mol, err := ParseMolecule("Li 0 0 0; H 0 0 3.015", "bohr", 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/3.015, mol.NuclearRepulsion(), 1e-12)

	single, err := ParseMolecule("He 0 0 0", "bohr", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, single.NuclearRepulsion())
}

func TestCenter_ChargeWeighted(t *testing.T) {
	mol, err := ParseMolecule("Li 0 0 0; H 0 0 4", "bohr", 0, 0)
	require.NoError(t, err)
	c := mol.Center()
	assert.InDelta(t, 1.0, c[2], 1e-12)
}

func TestDomain_Place(t *testing.T) {
	mol, err := ParseMolecule("Li 0 0 0; H 0 0 3.015", "bohr", 0, 0)
	require.NoError(t, err)

	methods := []InitMethod{InitCenter, InitUniform, InitNormal, InitAtomic}
	for _, method := range methods {
		t.Run(string(method), func(t *testing.T) {
			d := mol.DefaultDomain(method)
			require.NoError(t, d.Validate())

			dst := make([]float64, mol.Dim())
			d.Place(mol, rand.NewPCG(1, 2), dst)
			for _, x := range dst {
				assert.False(t, math.IsNaN(x))
			}
			if method == InitUniform {
				for _, x := range dst {
					assert.GreaterOrEqual(t, x, d.Min)
					assert.Less(t, x, d.Max)
				}
			}
		})
	}
}

func TestDomain_PlaceIsSeeded(t *testing.T) {
	mol, err := ParseMolecule("H 0 0 0; H 0 0 1.4", "bohr", 0, 0)
	require.NoError(t, err)
	d := mol.DefaultDomain(InitAtomic)

	a := make([]float64, mol.Dim())
	b := make([]float64, mol.Dim())
	d.Place(mol, rand.NewPCG(7, 7), a)
	d.Place(mol, rand.NewPCG(7, 7), b)
	assert.Equal(t, a, b)
}

func TestDomain_Validate(t *testing.T) {
	assert.Error(t, Domain{Method: InitCenter}.Validate())
	assert.Error(t, Domain{Method: InitUniform, Min: 1, Max: 1}.Validate())
	assert.Error(t, Domain{Method: "spiral", Sigma: 1}.Validate())
	assert.NoError(t, Domain{Method: InitUniform, Min: -1, Max: 1}.Validate())
}

func TestAtomicOwners_SpreadsSpins(t *testing.T) {
	mol, err := ParseMolecule("H 0 0 0; H 0 0 1.4", "bohr", 0, 0)
	require.NoError(t, err)
	owners := atomicOwners(mol)
	assert.Equal(t, []int{0, 1}, owners)
}

func TestAtomicOwners_FractionalCharges(t *testing.T) {
	mol, err := NewMolecule([]Atom{
		{Symbol: "X", Charge: 0.4, Pos: [3]float64{0, 0, 0}},
		{Symbol: "X", Charge: 0.4, Pos: [3]float64{0, 0, 2}},
	}, -2, 0)
	require.NoError(t, err)
	require.Equal(t, 2, mol.NumElectrons())

	var owners []int
	require.NotPanics(t, func() { owners = atomicOwners(mol) })
	assert.Equal(t, []int{0, 1}, owners)

	dst := make([]float64, mol.Dim())
	mol.DefaultDomain(InitAtomic).Place(mol, rand.NewPCG(3, 4), dst)
	for _, x := range dst {
		assert.False(t, math.IsNaN(x))
	}
}
