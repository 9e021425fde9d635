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
	"fmt"
	"regexp"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
	"github.com/AleutianAI/AleutianVMC/services/vmc/orbital"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
)

// rankTolerance is the relative singular value cutoff used when checking
// the occupied orbital space.
const rankTolerance = 1e-10

// Determinant lists the occupied molecular orbitals per spin channel.
type Determinant struct {
	Up   []int `json:"up" yaml:"up"`
	Down []int `json:"down" yaml:"down"`
}

// SlaterOptions configures the determinant term.
type SlaterOptions struct {
	// Determinants is the configuration list; the first entry is the
	// reference determinant.
	Determinants []Determinant

	// OptimizeOrbitals exposes the MO coefficient matrix as parameters.
	OptimizeOrbitals bool
}

// Slater is a (multi-)determinant term built from molecular orbitals.
//
// Description:
//
//	Ψ_D = Σ_k c_k det(Φ↑_k) det(Φ↓_k)
//
//	where Φ_k[i][j] = φ_{occ_k[j]}(q_i). CI weights c_k are parameters
//	only when more than one determinant is present. The combination is
//	done in log space to avoid overflow.
type Slater struct {
	nup, ndown int
	basis      *orbital.Basis
	coeffs     *mat.Dense
	nao, nmo   int
	dets       []Determinant
	optimizeMO bool

	// used lists MO columns referenced by any determinant.
	used []int
}

// NewSlater builds the determinant term.
func NewSlater(mol *system.Molecule, basis *orbital.Basis, coeffs *mat.Dense, opts SlaterOptions) (*Slater, error) {
	nao, nmo := coeffs.Dims()
	if nao != basis.Size() {
		return nil, fmt.Errorf("slater: coefficient matrix has %d rows for %d atomic orbitals", nao, basis.Size())
	}
	dets := opts.Determinants
	if len(dets) == 0 {
		dets = []Determinant{GroundState(mol)}
	}
	seen := make(map[int]bool)
	for k, d := range dets {
		if len(d.Up) != mol.NUp || len(d.Down) != mol.NDown {
			return nil, fmt.Errorf("slater: determinant %d occupies %d/%d orbitals for %d/%d electrons",
				k, len(d.Up), len(d.Down), mol.NUp, mol.NDown)
		}
		for _, occ := range [][]int{d.Up, d.Down} {
			for _, j := range occ {
				if j < 0 || j >= nmo {
					return nil, fmt.Errorf("slater: determinant %d references orbital %d of %d", k, j, nmo)
				}
				seen[j] = true
			}
		}
	}
	s := &Slater{
		nup:        mol.NUp,
		ndown:      mol.NDown,
		basis:      basis,
		coeffs:     mat.DenseCopyOf(coeffs),
		nao:        nao,
		nmo:        nmo,
		dets:       dets,
		optimizeMO: opts.OptimizeOrbitals,
	}
	for j := 0; j < nmo; j++ {
		if seen[j] {
			s.used = append(s.used, j)
		}
	}
	return s, nil
}

// CheckRank reports ErrDegenerateAnsatz when no determinant has a full
// rank occupied orbital space.
func (s *Slater) CheckRank() error {
	for _, d := range s.dets {
		if orbital.Rank(s.coeffs, d.Up, rankTolerance) == len(d.Up) &&
			orbital.Rank(s.coeffs, d.Down, rankTolerance) == len(d.Down) {
			return nil
		}
	}
	return fmt.Errorf("%w: every determinant has a rank-deficient occupied orbital set", ErrDegenerateAnsatz)
}

// Name implements Term.
func (s *Slater) Name() string { return "slater" }

// NumDeterminants returns the number of configurations.
func (s *Slater) NumDeterminants() int { return len(s.dets) }

// NumParams implements Term.
func (s *Slater) NumParams() int {
	n := 0
	if len(s.dets) > 1 {
		n += len(s.dets)
	}
	if s.optimizeMO {
		n += s.nao * s.nmo
	}
	return n
}

// InitialParams implements Term. CI weights start on the reference
// determinant; MO coefficients start from the supplied matrix.
func (s *Slater) InitialParams() []float64 {
	out := make([]float64, 0, s.NumParams())
	if len(s.dets) > 1 {
		out = append(out, 1)
		out = append(out, make([]float64, len(s.dets)-1)...)
	}
	if s.optimizeMO {
		for i := 0; i < s.nao; i++ {
			for j := 0; j < s.nmo; j++ {
				out = append(out, s.coeffs.At(i, j))
			}
		}
	}
	return out
}

// LogAbs implements AmplitudeTerm.
func (s *Slater) LogAbs(pos, theta []dual.Number) (dual.Number, float64) {
	n := s.nup + s.ndown
	var ci, mo []dual.Number
	if len(s.dets) > 1 {
		ci, theta = theta[:len(s.dets)], theta[len(s.dets):]
	}
	if s.optimizeMO {
		mo = theta[:s.nao*s.nmo]
	}

	ao := make([]dual.Number, s.nao)
	phi := make([][]dual.Number, n)
	for i := 0; i < n; i++ {
		s.basis.Eval([3]dual.Number{pos[3*i], pos[3*i+1], pos[3*i+2]}, ao)
		phi[i] = make([]dual.Number, s.nmo)
		for _, j := range s.used {
			var v dual.Number
			for mu := 0; mu < s.nao; mu++ {
				if mo != nil {
					v = dual.Add(v, dual.Mul(mo[mu*s.nmo+j], ao[mu]))
				} else if c := s.coeffs.At(mu, j); c != 0 {
					v = dual.Add(v, dual.Scale(c, ao[mu]))
				}
			}
			phi[i][j] = v
		}
	}

	logs := make([]dual.Number, len(s.dets))
	signs := make([]float64, len(s.dets))
	for k, d := range s.dets {
		lu, su := spinDeterminant(phi, 0, d.Up)
		ld, sd := spinDeterminant(phi, s.nup, d.Down)
		logs[k] = dual.Add(lu, ld)
		signs[k] = su * sd
	}
	if len(s.dets) == 1 {
		return logs[0], signs[0]
	}
	return dual.LogSumExp(logs, signs, ci)
}

func spinDeterminant(phi [][]dual.Number, first int, occ []int) (dual.Number, float64) {
	m := dual.NewMatrix(len(occ))
	for i := range occ {
		for j, orb := range occ {
			m.Set(i, j, phi[first+i][orb])
		}
	}
	return m.LogDet()
}

// GroundState returns the aufbau determinant.
func GroundState(mol *system.Molecule) Determinant {
	return Determinant{Up: seq(0, mol.NUp), Down: seq(0, mol.NDown)}
}

var excitationPattern = regexp.MustCompile(`^(single|single_double)\((\d+),\s*(\d+)\)$`)

// Configurations expands a configuration keyword into determinants.
//
// Description:
//
//	Accepts "ground_state", "single(n,m)" and "single_double(n,m)".
//	The excitation forms place n electrons in an active space of m
//	orbitals around the highest occupied level and enumerate the
//	reference plus all single (and, for single_double, double)
//	excitations inside it. nmo bounds the virtual orbitals.
func Configurations(keyword string, mol *system.Molecule, nmo int) ([]Determinant, error) {
	ref := GroundState(mol)
	if keyword == "" || keyword == "ground_state" {
		return []Determinant{ref}, nil
	}
	match := excitationPattern.FindStringSubmatch(keyword)
	if match == nil {
		return nil, fmt.Errorf("unknown configuration keyword %q", keyword)
	}
	nact, _ := strconv.Atoi(match[2])
	mact, _ := strconv.Atoi(match[3])
	doubles := match[1] == "single_double"

	upAct := min(mol.NUp, (nact+1)/2)
	downAct := min(mol.NDown, nact/2)
	upSingles := singles(ref.Up, mol.NUp-upAct, min(nmo, mol.NUp-upAct+mact))
	downSingles := singles(ref.Down, mol.NDown-downAct, min(nmo, mol.NDown-downAct+mact))

	out := []Determinant{ref}
	for _, u := range upSingles {
		out = append(out, Determinant{Up: u, Down: ref.Down})
	}
	for _, d := range downSingles {
		out = append(out, Determinant{Up: ref.Up, Down: d})
	}
	if doubles {
		for _, u := range upSingles {
			for _, d := range downSingles {
				out = append(out, Determinant{Up: u, Down: d})
			}
		}
	}
	return out, nil
}

// singles replaces one occupied orbital in [lo, len(occ)) by one virtual
// orbital in [len(occ), hi).
func singles(occ []int, lo, hi int) [][]int {
	var out [][]int
	for i := lo; i < len(occ); i++ {
		for a := len(occ); a < hi; a++ {
			ex := append([]int(nil), occ...)
			ex[i] = a
			out = append(out, ex)
		}
	}
	return out
}

func seq(lo, hi int) []int {
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}
