// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package energy computes local energies.
//
// The local energy of a configuration R is
//
//	E_L = -½ Σ_i ∇²_i log|Ψ| - ½ Σ_i |∇_i log|Ψ||² + V(R)
//
// where V is the Coulomb potential of electrons and fixed nuclei. The
// kinetic part is rebuilt from log-amplitude derivatives, never by
// dividing by Ψ. Singular Coulomb terms at r = 0 are kept as they are;
// a resulting non-finite energy marks the sample invalid.
package energy

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianVMC/services/vmc/derivative"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// Sample is one local energy evaluation.
type Sample struct {
	Energy    float64
	Kinetic   float64
	Potential float64
	LogAbs    float64

	// LogDeriv holds ∂log|Ψ|/∂θ_k, nil unless requested.
	LogDeriv []float64

	Valid  bool
	Reason string
}

// BatchStats summarises a batch evaluation.
type BatchStats struct {
	Total   int
	Invalid int
	Reasons map[string]int
}

// Estimator evaluates local energies for one system.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Estimator struct {
	mol    *system.Molecule
	engine *derivative.Engine
	vnn    float64
	logger *slog.Logger
	warn   *rate.Sometimes
}

// NewEstimator returns an estimator using engine for derivatives.
func NewEstimator(mol *system.Molecule, engine *derivative.Engine, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		mol:    mol,
		engine: engine,
		vnn:    mol.NuclearRepulsion(),
		logger: logger.With("component", "energy"),
		warn:   &rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Potential returns the Coulomb potential V(R).
func (e *Estimator) Potential(pos []float64) float64 {
	n := e.mol.NumElectrons()
	v := e.vnn
	for i := 0; i < n; i++ {
		ri := system.Electron(pos, i)
		for _, a := range e.mol.Atoms {
			v -= a.Charge / dist(ri, a.Pos[:])
		}
		for j := i + 1; j < n; j++ {
			v += 1 / dist(ri, system.Electron(pos, j))
		}
	}
	return v
}

// Kinetic returns -½(∇²log|Ψ| + |∇log|Ψ||²).
func Kinetic(laplacian float64, grad []float64) float64 {
	var g2 float64
	for _, g := range grad {
		g2 += g * g
	}
	return -0.5 * (laplacian + g2)
}

// LocalEnergy evaluates one configuration under snapshot p. Parameter
// log-derivatives are included when withParams is set.
func (e *Estimator) LocalEnergy(pos []float64, p wavefunction.Params, withParams bool) Sample {
	res := e.engine.Evaluate(pos, p, withParams)
	s := Sample{LogAbs: res.LogAbs, LogDeriv: res.ParamGrad, Valid: res.Valid, Reason: res.Reason}
	if !res.Valid {
		s.Energy = math.NaN()
		return s
	}
	s.Kinetic = Kinetic(res.Laplacian, res.Grad)
	s.Potential = e.Potential(pos)
	s.Energy = s.Kinetic + s.Potential
	if math.IsNaN(s.Energy) || math.IsInf(s.Energy, 0) {
		s.Valid, s.Reason = false, derivative.ReasonSingular
	}
	return s
}

// Batch evaluates every configuration of a flat W·3N slice in parallel.
//
// Description:
//
//	All configurations see the same snapshot p. Invalid samples are
//	returned flagged, counted in BatchStats and logged at a throttled
//	rate; they never fail the batch.
//
// Outputs:
//
//	[]Sample - One entry per configuration, in order.
//	BatchStats - Invalid counts by reason.
//	error - Only on context cancellation.
func (e *Estimator) Batch(ctx context.Context, positions []float64, p wavefunction.Params, withParams bool) ([]Sample, BatchStats, error) {
	dim := e.mol.Dim()
	w := len(positions) / dim
	out := make([]Sample, w)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < w; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.LocalEnergy(positions[i*dim:(i+1)*dim], p, withParams)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, BatchStats{}, err
	}

	stats := BatchStats{Total: w, Reasons: make(map[string]int)}
	for _, s := range out {
		if !s.Valid {
			stats.Invalid++
			stats.Reasons[s.Reason]++
		}
	}
	if stats.Invalid > 0 {
		e.warn.Do(func() {
			e.logger.Warn("invalid local energy samples",
				"invalid", stats.Invalid,
				"total", stats.Total,
				"reasons", stats.Reasons,
				"params_version", p.Version(),
			)
		})
	}
	return out, stats, nil
}

func dist(a, b []float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
