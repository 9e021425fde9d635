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

	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
)

// MoveType selects how many electrons a proposal moves.
type MoveType string

const (
	// AllElectron moves every electron at once.
	AllElectron MoveType = "all-elec"
	// OneElectron moves one randomly chosen electron.
	OneElectron MoveType = "one-elec"
)

// ProposalKind selects the noise distribution.
type ProposalKind string

const (
	// NormalProposal draws isotropic Gaussian displacements.
	NormalProposal ProposalKind = "normal"
	// UniformProposal draws displacements uniformly in [-δ, δ].
	UniformProposal ProposalKind = "uniform"
)

// Policy holds the tunable control-loop constants. They may be swapped
// between passes.
type Policy struct {
	// TargetLow and TargetHigh bound the desired acceptance rate.
	TargetLow  float64 `yaml:"target_low" json:"target_low"`
	TargetHigh float64 `yaml:"target_high" json:"target_high"`

	// AdaptFactor (> 1) scales the step size once per adaptation.
	AdaptFactor float64 `yaml:"adapt_factor" json:"adapt_factor"`

	// DivergenceLow and DivergenceHigh flag a collapsed or saturated
	// chain when the windowed acceptance leaves [low, high].
	DivergenceLow  float64 `yaml:"divergence_low" json:"divergence_low"`
	DivergenceHigh float64 `yaml:"divergence_high" json:"divergence_high"`
}

// DefaultPolicy returns a 40-60% acceptance band.
func DefaultPolicy() Policy {
	return Policy{
		TargetLow:      0.4,
		TargetHigh:     0.6,
		AdaptFactor:    1.2,
		DivergenceLow:  0.02,
		DivergenceHigh: 0.995,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	if p.TargetLow <= 0 || p.TargetHigh >= 1 || p.TargetLow >= p.TargetHigh {
		return fmt.Errorf("acceptance band [%v, %v] must satisfy 0 < low < high < 1", p.TargetLow, p.TargetHigh)
	}
	if p.AdaptFactor <= 1 {
		return fmt.Errorf("adapt_factor must be > 1, got %v", p.AdaptFactor)
	}
	if p.DivergenceLow < 0 || p.DivergenceHigh > 1 || p.DivergenceLow >= p.DivergenceHigh {
		return fmt.Errorf("divergence band [%v, %v] is invalid", p.DivergenceLow, p.DivergenceHigh)
	}
	return nil
}

// Config configures a Sampler.
type Config struct {
	NWalkers int
	Burnin   int

	// Samples is the number of configurations recorded per walker in a
	// pass; Stride is the number of moves between recordings.
	Samples int
	Stride  int

	StepSize float64
	MinStep  float64
	MaxStep  float64

	Move     MoveType
	Proposal ProposalKind

	// Langevin enables drift-diffusion proposals. MaxDrift caps the
	// per-electron drift displacement; 0 disables the cap.
	Langevin bool
	MaxDrift float64

	// AdaptInterval is the number of burn-in moves between step-size
	// adjustments; 0 disables adaptation.
	AdaptInterval int

	// DivergenceWindow is the number of recent moves used to detect a
	// collapsed or saturated chain.
	DivergenceWindow int

	Seed   uint64
	Init   system.Domain
	Policy Policy

	// Workers bounds walker parallelism; 0 uses GOMAXPROCS.
	Workers int
}

// DefaultConfig returns a configuration suitable for small molecules.
func DefaultConfig() Config {
	return Config{
		NWalkers:         1000,
		Burnin:           200,
		Samples:          1,
		Stride:           10,
		StepSize:         0.2,
		MinStep:          1e-4,
		MaxStep:          2.0,
		Move:             AllElectron,
		Proposal:         NormalProposal,
		MaxDrift:         0.5,
		AdaptInterval:    20,
		DivergenceWindow: 50,
		Seed:             1,
		Init:             system.Domain{Method: system.InitAtomic, Sigma: 1},
		Policy:           DefaultPolicy(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NWalkers <= 0 {
		return fmt.Errorf("nwalkers must be > 0, got %d", c.NWalkers)
	}
	if c.Burnin < 0 {
		return fmt.Errorf("burnin must be >= 0, got %d", c.Burnin)
	}
	if c.Samples <= 0 || c.Stride <= 0 {
		return fmt.Errorf("samples and stride must be > 0, got %d and %d", c.Samples, c.Stride)
	}
	if c.MinStep <= 0 || c.MaxStep < c.MinStep || c.StepSize < c.MinStep || c.StepSize > c.MaxStep {
		return fmt.Errorf("step size %v must lie in [%v, %v] with min > 0", c.StepSize, c.MinStep, c.MaxStep)
	}
	switch c.Move {
	case AllElectron, OneElectron:
	default:
		return fmt.Errorf("unknown move type %q", c.Move)
	}
	switch c.Proposal {
	case NormalProposal:
	case UniformProposal:
		if c.Langevin {
			return fmt.Errorf("langevin moves require normal proposals")
		}
	default:
		return fmt.Errorf("unknown proposal %q", c.Proposal)
	}
	if c.MaxDrift < 0 || c.AdaptInterval < 0 || c.DivergenceWindow < 0 || c.Workers < 0 {
		return fmt.Errorf("max_drift, adapt_interval, divergence_window and workers must be >= 0")
	}
	if err := c.Init.Validate(); err != nil {
		return err
	}
	return c.Policy.Validate()
}
