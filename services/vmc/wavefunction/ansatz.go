// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wavefunction implements the parameterised many-electron ansatz.
//
// # Structure
//
// The ansatz is a product of polymorphic terms:
//
//	Ψ(R; θ) = D(B(R; θ_B); θ_D) · Π_k J_k(R; θ_k)
//
// where D is the determinant term, B an optional coordinate transform
// (backflow) applied only to D, and J_k positive correlation factors.
// Log-magnitudes add and signs multiply.
//
// # Derivatives
//
// Every term evaluates on hyper-dual numbers (package dual), so a single
// code path yields values, coordinate gradients and Laplacians, and
// parameter gradients depending on how the caller seeds its inputs.
//
// # Thread Safety
//
// Ansatz is immutable after construction and safe for concurrent use.
// Parameters are always passed in explicitly as a Params snapshot.
package wavefunction

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
)

// rankChecker is implemented by determinant terms that can detect a
// degenerate orbital space before any sampling.
type rankChecker interface {
	CheckRank() error
}

// Option configures an Ansatz.
type Option func(*Ansatz)

// WithCorrelation multiplies the ansatz by a correlation factor.
func WithCorrelation(t AmplitudeTerm) Option {
	return func(a *Ansatz) {
		if t != nil {
			a.correlators = append(a.correlators, t)
		}
	}
}

// WithBackflow applies t to the coordinates seen by the determinant term.
func WithBackflow(t CoordinateTransform) Option {
	return func(a *Ansatz) {
		a.transform = t
	}
}

// Ansatz composes the determinant, correlation and backflow terms.
type Ansatz struct {
	mol         *system.Molecule
	determinant AmplitudeTerm
	correlators []AmplitudeTerm
	transform   CoordinateTransform
	layout      []Block
}

// New composes an ansatz.
//
// Outputs:
//
//	*Ansatz - The composed ansatz.
//	error - Wraps ErrDegenerateAnsatz when the determinant term reports a
//	        rank-deficient orbital set.
func New(mol *system.Molecule, determinant AmplitudeTerm, opts ...Option) (*Ansatz, error) {
	if determinant == nil {
		return nil, fmt.Errorf("ansatz: determinant term is required")
	}
	a := &Ansatz{mol: mol, determinant: determinant}
	for _, opt := range opts {
		opt(a)
	}
	if rc, ok := determinant.(rankChecker); ok {
		if err := rc.CheckRank(); err != nil {
			return nil, fmt.Errorf("ansatz: %w", err)
		}
	}
	offset := 0
	for _, t := range a.terms() {
		a.layout = append(a.layout, Block{Name: t.Name(), Offset: offset, Len: t.NumParams()})
		offset += t.NumParams()
	}
	return a, nil
}

// terms lists every term in parameter-layout order.
func (a *Ansatz) terms() []Term {
	out := []Term{a.determinant}
	for _, c := range a.correlators {
		out = append(out, c)
	}
	if a.transform != nil {
		out = append(out, a.transform)
	}
	return out
}

// Molecule returns the system description.
func (a *Ansatz) Molecule() *system.Molecule { return a.mol }

// NumElectrons returns N.
func (a *Ansatz) NumElectrons() int { return a.mol.NumElectrons() }

// NumParams returns the total parameter count.
func (a *Ansatz) NumParams() int {
	n := 0
	for _, b := range a.layout {
		n += b.Len
	}
	return n
}

// Layout returns the parameter block layout.
func (a *Ansatz) Layout() []Block {
	return append([]Block(nil), a.layout...)
}

// InitialParams returns version 0 of the parameter snapshot.
func (a *Ansatz) InitialParams() (Params, error) {
	values := make([]float64, 0, a.NumParams())
	for _, t := range a.terms() {
		init := t.InitialParams()
		if len(init) != t.NumParams() {
			return Params{}, fmt.Errorf("term %s: %d initial values for %d parameters", t.Name(), len(init), t.NumParams())
		}
		values = append(values, init...)
	}
	return NewParams(a.layout, values)
}

// EvaluateDual returns log|Ψ| and sign for seeded coordinates and
// parameters.
func (a *Ansatz) EvaluateDual(pos, theta []dual.Number) (dual.Number, float64) {
	k := 0
	block := func() []dual.Number {
		b := a.layout[k]
		k++
		return theta[b.Offset : b.Offset+b.Len]
	}

	detTheta := block()
	q := pos
	logAbs := dual.Number{}
	sign := 1.0

	corrThetas := make([][]dual.Number, len(a.correlators))
	for i := range a.correlators {
		corrThetas[i] = block()
	}
	if a.transform != nil {
		q = a.transform.Transform(pos, block())
	}

	l, s := a.determinant.LogAbs(q, detTheta)
	logAbs = dual.Add(logAbs, l)
	sign *= s
	for i, c := range a.correlators {
		l, s := c.LogAbs(pos, corrThetas[i])
		logAbs = dual.Add(logAbs, l)
		sign *= s
	}
	if sign == 0 {
		return dual.Number{V: math.Inf(-1)}, 0
	}
	return logAbs, sign
}

// LogAmplitude returns log|Ψ(pos; p)| and its sign.
func (a *Ansatz) LogAmplitude(pos []float64, p Params) (float64, float64) {
	l, s := a.EvaluateDual(constants(pos), constants(p.values))
	return l.V, s
}

// Amplitudes evaluates log|Ψ| and sign for a flat batch of
// configurations (len = W·3N) in parallel.
func (a *Ansatz) Amplitudes(ctx context.Context, batch []float64, p Params) ([]float64, []float64, error) {
	dim := a.mol.Dim()
	if len(batch)%dim != 0 {
		return nil, nil, fmt.Errorf("batch length %d is not a multiple of %d", len(batch), dim)
	}
	w := len(batch) / dim
	logs := make([]float64, w)
	signs := make([]float64, w)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < w; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			logs[i], signs[i] = a.LogAmplitude(batch[i*dim:(i+1)*dim], p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return logs, signs, nil
}

func constants(xs []float64) []dual.Number {
	out := make([]dual.Number, len(xs))
	for i, x := range xs {
		out[i] = dual.Const(x)
	}
	return out
}
