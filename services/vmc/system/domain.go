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
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// InitMethod selects how walkers are first placed.
type InitMethod string

const (
	// InitCenter places every electron around the charge centre.
	InitCenter InitMethod = "center"
	// InitUniform places electrons uniformly in a box.
	InitUniform InitMethod = "uniform"
	// InitNormal places electrons from a normal distribution around a
	// configurable mean.
	InitNormal InitMethod = "normal"
	// InitAtomic places electrons around nuclei in proportion to their
	// charge.
	InitAtomic InitMethod = "atomic"
)

// Domain describes the initial walker distribution.
type Domain struct {
	Method InitMethod `yaml:"method" json:"method"`
	Sigma  float64    `yaml:"sigma" json:"sigma"`
	Min    float64    `yaml:"min" json:"min"`
	Max    float64    `yaml:"max" json:"max"`
	Mean   [3]float64 `yaml:"mean" json:"mean"`
}

// DefaultDomain returns the domain used when a method is given without
// explicit bounds.
func (m *Molecule) DefaultDomain(method InitMethod) Domain {
	d := Domain{Method: method, Sigma: 1.0, Min: -2, Max: 2}
	if method == InitNormal {
		d.Mean = m.Center()
	}
	return d
}

// Validate checks that the domain can be sampled.
func (d Domain) Validate() error {
	switch d.Method {
	case InitCenter, InitNormal, InitAtomic:
		if d.Sigma <= 0 {
			return fmt.Errorf("init domain %s: sigma must be > 0", d.Method)
		}
	case InitUniform:
		if d.Max <= d.Min {
			return fmt.Errorf("init domain uniform: max must exceed min")
		}
	default:
		return fmt.Errorf("unknown init method %q", d.Method)
	}
	return nil
}

// Place writes one initial configuration for mol into dst (length 3N).
func (d Domain) Place(mol *Molecule, src rand.Source, dst []float64) {
	n := mol.NumElectrons()
	switch d.Method {
	case InitUniform:
		u := distuv.Uniform{Min: d.Min, Max: d.Max, Src: src}
		for k := range dst[:3*n] {
			dst[k] = u.Rand()
		}
	case InitNormal:
		g := distuv.Normal{Mu: 0, Sigma: d.Sigma, Src: src}
		for i := 0; i < n; i++ {
			for c := 0; c < 3; c++ {
				dst[3*i+c] = d.Mean[c] + g.Rand()
			}
		}
	case InitAtomic:
		g := distuv.Normal{Mu: 0, Sigma: d.Sigma, Src: src}
		owners := atomicOwners(mol)
		for i := 0; i < n; i++ {
			a := mol.Atoms[owners[i]]
			for c := 0; c < 3; c++ {
				dst[3*i+c] = a.Pos[c] + g.Rand()
			}
		}
	default:
		g := distuv.Normal{Mu: 0, Sigma: d.Sigma, Src: src}
		center := mol.Center()
		for i := 0; i < n; i++ {
			for c := 0; c < 3; c++ {
				dst[3*i+c] = center[c] + g.Rand()
			}
		}
	}
}

// atomicOwners assigns each electron to a nucleus. Up and down electrons
// are dealt round-robin over nuclei weighted by charge so that the
// spin channels are spread over the same atoms. A nucleus with charge
// below one still gets a single slot.
func atomicOwners(mol *Molecule) []int {
	var slots []int
	for a, atom := range mol.Atoms {
		n := max(int(math.Round(atom.Charge)), 1)
		for k := 0; k < n; k++ {
			slots = append(slots, a)
		}
	}
	owners := make([]int, mol.NumElectrons())
	for i := 0; i < mol.NUp; i++ {
		owners[i] = slots[(2*i)%len(slots)]
	}
	for i := 0; i < mol.NDown; i++ {
		owners[mol.NUp+i] = slots[(2*i+1)%len(slots)]
	}
	return owners
}
