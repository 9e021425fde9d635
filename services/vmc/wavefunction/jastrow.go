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
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
)

// PadeJastrow is the electron-electron correlation factor
//
//	J = exp( Σ_{i<j} a_ij r_ij / (1 + b_ij r_ij) )
//
// with cusp values a = 1/4 for like spins and 1/2 for unlike spins.
// b is parameterised as exp(θ) per spin channel so it stays positive
// and the kernel has no pole on r ≥ 0.
type PadeJastrow struct {
	nup, nelec int
	init       [2]float64
}

// NewPadeJastrow returns the factor with b_same = b_opp = exp(logB).
func NewPadeJastrow(mol *system.Molecule, logB float64) *PadeJastrow {
	return &PadeJastrow{nup: mol.NUp, nelec: mol.NumElectrons(), init: [2]float64{logB, logB}}
}

// Name implements Term.
func (j *PadeJastrow) Name() string { return "jastrow" }

// NumParams implements Term: θ_same, θ_opp.
func (j *PadeJastrow) NumParams() int { return 2 }

// InitialParams implements Term.
func (j *PadeJastrow) InitialParams() []float64 { return []float64{j.init[0], j.init[1]} }

// LogAbs implements AmplitudeTerm. The factor is positive so the sign is
// always 1.
func (j *PadeJastrow) LogAbs(pos, theta []dual.Number) (dual.Number, float64) {
	bSame := dual.Exp(theta[0])
	bOpp := dual.Exp(theta[1])
	var total dual.Number
	for a := 0; a < j.nelec; a++ {
		for b := a + 1; b < j.nelec; b++ {
			r := pairDistance(pos, a, b)
			cusp, w := 0.5, bOpp
			if (a < j.nup) == (b < j.nup) {
				cusp, w = 0.25, bSame
			}
			num := dual.Scale(cusp, r)
			den := dual.AddConst(dual.Mul(w, r), 1)
			total = dual.Add(total, dual.Div(num, den))
		}
	}
	return total, 1
}

// ElectronNucleusJastrow is the electron-nucleus correlation factor
//
//	J = exp( Σ_i Σ_A -Z_A r_iA / (1 + b_A r_iA) )
//
// with one b_A = exp(θ_A) per nucleus.
type ElectronNucleusJastrow struct {
	atoms []system.Atom
	nelec int
	logB  float64
}

// NewElectronNucleusJastrow returns the factor with every b_A = exp(logB).
func NewElectronNucleusJastrow(mol *system.Molecule, logB float64) *ElectronNucleusJastrow {
	return &ElectronNucleusJastrow{atoms: mol.Atoms, nelec: mol.NumElectrons(), logB: logB}
}

// Name implements Term.
func (j *ElectronNucleusJastrow) Name() string { return "jastrow_en" }

// NumParams implements Term: one θ per nucleus.
func (j *ElectronNucleusJastrow) NumParams() int { return len(j.atoms) }

// InitialParams implements Term.
func (j *ElectronNucleusJastrow) InitialParams() []float64 {
	out := make([]float64, len(j.atoms))
	for i := range out {
		out[i] = j.logB
	}
	return out
}

// LogAbs implements AmplitudeTerm.
func (j *ElectronNucleusJastrow) LogAbs(pos, theta []dual.Number) (dual.Number, float64) {
	var total dual.Number
	for a, atom := range j.atoms {
		b := dual.Exp(theta[a])
		for i := 0; i < j.nelec; i++ {
			r := nucleusDistance(pos, i, atom.Pos)
			num := dual.Scale(-atom.Charge, r)
			den := dual.AddConst(dual.Mul(b, r), 1)
			total = dual.Add(total, dual.Div(num, den))
		}
	}
	return total, 1
}
