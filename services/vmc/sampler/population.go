// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampler

import (
	"fmt"
	"math"
)

// WalkerState is the lifecycle state of one walker.
type WalkerState uint8

const (
	// Uninitialized walkers have no configuration yet.
	Uninitialized WalkerState = iota
	// Equilibrating walkers are in burn-in; their positions are not samples.
	Equilibrating
	// Producing walkers contribute samples.
	Producing
)

// String returns the state name.
func (s WalkerState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Equilibrating:
		return "equilibrating"
	case Producing:
		return "producing"
	default:
		return "unknown"
	}
}

// Population is a fixed-size arena of walkers.
//
// Description:
//
//	Positions, cached log-amplitudes, drift vectors and acceptance
//	counters are stored in flat slices indexed by walker id and updated
//	in place; a step allocates nothing per walker. The population is
//	owned by the Sampler and mutated only by its moves.
type Population struct {
	nwalkers int
	dim      int

	pos      []float64
	logAbs   []float64
	drift    []float64
	state    []WalkerState
	accepted []uint64
	proposed []uint64
}

// NewPopulation allocates an arena of nwalkers configurations of
// length dim.
func NewPopulation(nwalkers, dim int) *Population {
	p := &Population{}
	p.allocate(nwalkers, dim)
	return p
}

func (p *Population) allocate(nwalkers, dim int) {
	p.nwalkers = nwalkers
	p.dim = dim
	p.pos = make([]float64, nwalkers*dim)
	p.logAbs = make([]float64, nwalkers)
	p.drift = make([]float64, nwalkers*dim)
	p.state = make([]WalkerState, nwalkers)
	p.accepted = make([]uint64, nwalkers)
	p.proposed = make([]uint64, nwalkers)
	for i := range p.logAbs {
		p.logAbs[i] = math.Inf(-1)
	}
}

// Len returns the number of walkers.
func (p *Population) Len() int { return p.nwalkers }

// Dim returns the configuration length.
func (p *Population) Dim() int { return p.dim }

// Walker returns walker i's configuration. The slice aliases the arena.
func (p *Population) Walker(i int) []float64 {
	return p.pos[i*p.dim : (i+1)*p.dim]
}

// LogAbs returns walker i's cached log|Ψ|.
func (p *Population) LogAbs(i int) float64 { return p.logAbs[i] }

// State returns walker i's lifecycle state.
func (p *Population) State(i int) WalkerState { return p.state[i] }

// Positions returns a copy of every configuration.
func (p *Population) Positions() []float64 {
	return append([]float64(nil), p.pos...)
}

// Acceptance returns the accepted fraction of all moves since the last
// counter reset.
func (p *Population) Acceptance() float64 {
	var acc, prop uint64
	for i := range p.accepted {
		acc += p.accepted[i]
		prop += p.proposed[i]
	}
	if prop == 0 {
		return 0
	}
	return float64(acc) / float64(prop)
}

func (p *Population) resetCounters() {
	clear(p.accepted)
	clear(p.proposed)
}

func (p *Population) setState(s WalkerState) {
	for i := range p.state {
		p.state[i] = s
	}
}

// Reset returns every walker to the uninitialized state.
func (p *Population) Reset() {
	p.allocate(p.nwalkers, p.dim)
}

// Resize reallocates the arena for nwalkers; every walker is reset.
func (p *Population) Resize(nwalkers int) {
	p.allocate(nwalkers, p.dim)
}

// load copies positions into the arena and marks walkers equilibrating.
func (p *Population) load(positions []float64) error {
	if len(positions) != len(p.pos) {
		return fmt.Errorf("population: %d coordinates for %d walkers of dim %d", len(positions), p.nwalkers, p.dim)
	}
	copy(p.pos, positions)
	for i := range p.logAbs {
		p.logAbs[i] = math.Inf(-1)
	}
	clear(p.drift)
	p.setState(Equilibrating)
	p.resetCounters()
	return nil
}
