// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package derivative

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
	"github.com/AleutianAI/AleutianVMC/services/vmc/orbital"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// gaussian is log|Ψ| = -θ Σ x².
type gaussian struct{ n int }

func (g gaussian) NumElectrons() int { return g.n }
func (g gaussian) NumParams() int    { return 1 }
func (g gaussian) EvaluateDual(pos, theta []dual.Number) (dual.Number, float64) {
	var s dual.Number
	for _, x := range pos {
		s = dual.Add(s, dual.Mul(x, x))
	}
	return dual.Neg(dual.Mul(theta[0], s)), 1
}

func gaussianParams(t *testing.T, alpha float64) wavefunction.Params {
	t.Helper()
	p, err := wavefunction.NewParams([]wavefunction.Block{{Name: "alpha", Len: 1}}, []float64{alpha})
	require.NoError(t, err)
	return p
}

func TestGradLaplacian_Gaussian(t *testing.T) {
	e := New(gaussian{n: 2})
	p := gaussianParams(t, 0.7)
	pos := []float64{0.1, -0.2, 0.3, 1.0, 0.5, -0.4}

	res := e.GradLaplacian(pos, p)
	require.True(t, res.Valid)
	for k, x := range pos {
		assert.InDelta(t, -1.4*x, res.Grad[k], 1e-12)
	}
	assert.InDelta(t, -1.4*6, res.Laplacian, 1e-12)

	grad, _, _, ok := e.Gradient(pos, p)
	require.True(t, ok)
	assert.InDeltaSlice(t, res.Grad, grad, 1e-12)

	pg, ok := e.ParameterGradient(pos, p)
	require.True(t, ok)
	var r2 float64
	for _, x := range pos {
		r2 += x * x
	}
	assert.InDelta(t, -r2, pg[0], 1e-12)
}

func buildH2(t *testing.T) (*wavefunction.Ansatz, wavefunction.Params) {
	t.Helper()
	mol, err := system.ParseMolecule("H 0 0 0; H 0 0 1.4", "bohr", 0, 0)
	require.NoError(t, err)
	lib, _ := orbital.Builtin("sz")
	basis, err := orbital.NewBasis("sz", lib, mol)
	require.NoError(t, err)
	coeffs, err := orbital.Coefficients(2, [][]float64{{1, 1}, {1, -1}})
	require.NoError(t, err)
	dets, err := wavefunction.Configurations("single_double(2,2)", mol, 2)
	require.NoError(t, err)
	det, err := wavefunction.NewSlater(mol, basis, coeffs, wavefunction.SlaterOptions{Determinants: dets, OptimizeOrbitals: true})
	require.NoError(t, err)
	a, err := wavefunction.New(mol, det,
		wavefunction.WithCorrelation(wavefunction.NewPadeJastrow(mol, 0)),
		wavefunction.WithCorrelation(wavefunction.NewElectronNucleusJastrow(mol, 0.3)),
		wavefunction.WithBackflow(wavefunction.NewInverseBackflow(2, 0)),
	)
	require.NoError(t, err)
	p, err := a.InitialParams()
	require.NoError(t, err)
	values := p.Values()
	values[1], values[2] = 0.1, -0.05
	values[len(values)-1] = 0.08
	en, ok := p.Block("jastrow_en")
	require.True(t, ok)
	values[en.Offset+1] = -0.2
	p, err = p.Update(values)
	require.NoError(t, err)
	return a, p
}

func TestGradLaplacian_MatchesFiniteDifferences(t *testing.T) {
	a, p := buildH2(t)
	e := New(a)
	pos := []float64{0.3, -0.2, 0.1, -0.4, 0.5, 1.3}

	res := e.GradLaplacian(pos, p)
	require.True(t, res.Valid)

	const h = 1e-4
	var lap float64
	for k := range pos {
		plus := append([]float64(nil), pos...)
		minus := append([]float64(nil), pos...)
		plus[k] += h
		minus[k] -= h
		fp, _ := e.LogAmplitude(plus, p)
		fm, _ := e.LogAmplitude(minus, p)
		f0, _ := e.LogAmplitude(pos, p)
		assert.InDelta(t, (fp-fm)/(2*h), res.Grad[k], 1e-6, "grad %d", k)
		lap += (fp - 2*f0 + fm) / (h * h)
	}
	assert.InDelta(t, lap, res.Laplacian, 1e-4)
}

func TestParameterGradient_MatchesFiniteDifferences(t *testing.T) {
	a, p := buildH2(t)
	e := New(a)
	pos := []float64{0.3, -0.2, 0.1, -0.4, 0.5, 1.3}

	grad, ok := e.ParameterGradient(pos, p)
	require.True(t, ok)
	require.Len(t, grad, p.Len())

	const h = 1e-6
	for k := 0; k < p.Len(); k++ {
		plusV := p.Values()
		minusV := p.Values()
		plusV[k] += h
		minusV[k] -= h
		pp, err := p.Update(plusV)
		require.NoError(t, err)
		pm, err := p.Update(minusV)
		require.NoError(t, err)
		fp, _ := e.LogAmplitude(pos, pp)
		fm, _ := e.LogAmplitude(pos, pm)
		assert.InDelta(t, (fp-fm)/(2*h), grad[k], 1e-5, "param %d", k)
	}
}

func TestEvaluate_FlagsElectronOnNucleus(t *testing.T) {
	mol, err := system.ParseMolecule("H 0 0 0", "bohr", 0, 1)
	require.NoError(t, err)
	lib, _ := orbital.Builtin("sz")
	basis, err := orbital.NewBasis("sz", lib, mol)
	require.NoError(t, err)
	coeffs, err := orbital.Coefficients(1, nil)
	require.NoError(t, err)
	det, err := wavefunction.NewSlater(mol, basis, coeffs, wavefunction.SlaterOptions{})
	require.NoError(t, err)
	a, err := wavefunction.New(mol, det)
	require.NoError(t, err)
	p, err := a.InitialParams()
	require.NoError(t, err)

	res := New(a).Evaluate([]float64{0, 0, 0}, p, true)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonSingular, res.Reason)

	res = New(a).Evaluate([]float64{0, 0, 1}, p, true)
	assert.True(t, res.Valid)
	assert.Empty(t, res.ParamGrad)
}

func TestEvaluate_FlagsNode(t *testing.T) {
	e := New(nodal{})
	p, err := wavefunction.NewParams(nil, nil)
	require.NoError(t, err)
	res := e.Evaluate([]float64{0, 0, 0}, p, false)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNode, res.Reason)
}

type nodal struct{}

func (nodal) NumElectrons() int { return 1 }
func (nodal) NumParams() int    { return 0 }
func (nodal) EvaluateDual(pos, theta []dual.Number) (dual.Number, float64) {
	return dual.Number{V: math.Inf(-1)}, 0
}
