// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package derivative computes exact derivatives of log|Ψ|.
//
// The engine seeds hyper-dual inputs of any Function and reads the
// derivative parts of the result:
//
//   - coordinate gradient: two coordinates per evaluation (ε1, ε2)
//   - coordinate Laplacian: one coordinate per evaluation (ε1 = ε2)
//   - parameter gradient: two parameters per evaluation
//
// Nothing is finite-differenced. Configurations near coincident
// particles may produce non-finite values; these are reported through
// Result.Valid instead of an error.
package derivative

import (
	"math"

	"github.com/AleutianAI/AleutianVMC/services/vmc/dual"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// Reasons attached to invalid results.
const (
	ReasonSingular = "numerical_singularity"
	ReasonNode     = "zero_amplitude"
)

// Function is a dual-evaluable log-amplitude.
type Function interface {
	NumElectrons() int
	NumParams() int
	EvaluateDual(pos, theta []dual.Number) (dual.Number, float64)
}

// Result holds the derivatives of log|Ψ| at one configuration.
type Result struct {
	LogAbs    float64
	Sign      float64
	Grad      []float64
	Laplacian float64
	ParamGrad []float64
	Valid     bool
	Reason    string
}

// Engine differentiates a Function.
//
// Thread Safety:
//
//	Safe for concurrent use when the Function is.
type Engine struct {
	f Function
}

// New returns an engine for f.
func New(f Function) *Engine {
	return &Engine{f: f}
}

// Function returns the differentiated function.
func (e *Engine) Function() Function { return e.f }

// LogAmplitude returns log|Ψ| and sign with no derivatives.
func (e *Engine) LogAmplitude(pos []float64, p wavefunction.Params) (float64, float64) {
	l, s := e.f.EvaluateDual(constants(pos), p.Dual())
	return l.V, s
}

// Gradient returns ∇log|Ψ| (the drift), log|Ψ| and sign.
func (e *Engine) Gradient(pos []float64, p wavefunction.Params) ([]float64, float64, float64, bool) {
	x := constants(pos)
	theta := p.Dual()
	grad := make([]float64, len(pos))
	logAbs, sign := math.Inf(-1), 0.0
	ok := true
	for k := 0; k < len(pos); k += 2 {
		x[k].D1 = 1
		if k+1 < len(pos) {
			x[k+1].D2 = 1
		}
		l, s := e.f.EvaluateDual(x, theta)
		grad[k] = l.D1
		if k+1 < len(pos) {
			grad[k+1] = l.D2
			x[k+1].D2 = 0
		}
		x[k].D1 = 0
		logAbs, sign = l.V, s
		ok = ok && l.IsFinite()
	}
	if len(pos) == 0 {
		l, s := e.f.EvaluateDual(x, theta)
		logAbs, sign = l.V, s
	}
	return grad, logAbs, sign, ok && sign != 0
}

// GradLaplacian returns the coordinate gradient and Laplacian of
// log|Ψ|.
func (e *Engine) GradLaplacian(pos []float64, p wavefunction.Params) Result {
	x := constants(pos)
	theta := p.Dual()
	res := Result{Grad: make([]float64, len(pos)), Valid: true}
	for k := range pos {
		x[k].D1, x[k].D2 = 1, 1
		l, s := e.f.EvaluateDual(x, theta)
		x[k].D1, x[k].D2 = 0, 0

		res.LogAbs, res.Sign = l.V, s
		res.Grad[k] = l.D1
		res.Laplacian += l.D12
		if !l.IsFinite() {
			res.Valid = false
		}
	}
	res.check()
	return res
}

// ParameterGradient returns ∂log|Ψ|/∂θ_k for every parameter.
func (e *Engine) ParameterGradient(pos []float64, p wavefunction.Params) ([]float64, bool) {
	x := constants(pos)
	theta := p.Dual()
	out := make([]float64, len(theta))
	ok := true
	for k := 0; k < len(theta); k += 2 {
		theta[k].D1 = 1
		if k+1 < len(theta) {
			theta[k+1].D2 = 1
		}
		l, s := e.f.EvaluateDual(x, theta)
		out[k] = l.D1
		if k+1 < len(theta) {
			out[k+1] = l.D2
			theta[k+1].D2 = 0
		}
		theta[k].D1 = 0
		ok = ok && l.IsFinite() && s != 0
	}
	return out, ok
}

// Evaluate returns the full derivative set at pos. Parameter gradients
// are computed only when withParams is set.
func (e *Engine) Evaluate(pos []float64, p wavefunction.Params, withParams bool) Result {
	res := e.GradLaplacian(pos, p)
	if len(pos) == 0 {
		res.LogAbs, res.Sign = e.LogAmplitude(pos, p)
		res.check()
	}
	if withParams && res.Valid {
		grad, ok := e.ParameterGradient(pos, p)
		res.ParamGrad = grad
		if !ok {
			res.Valid = false
			res.Reason = ReasonSingular
		}
	}
	return res
}

// check finalises validity after all fields are populated.
func (r *Result) check() {
	switch {
	case r.Sign == 0 || math.IsInf(r.LogAbs, -1):
		r.Valid, r.Reason = false, ReasonNode
	case !r.Valid || !finite(r.Laplacian) || !allFinite(r.Grad):
		r.Valid, r.Reason = false, ReasonSingular
	default:
		r.Valid, r.Reason = true, ""
	}
}

func constants(xs []float64) []dual.Number {
	out := make([]dual.Number, len(xs))
	for i, x := range xs {
		out[i] = dual.Const(x)
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if !finite(x) {
			return false
		}
	}
	return true
}

// NumElectrons returns N for the differentiated function.
func (e *Engine) NumElectrons() int { return e.f.NumElectrons() }
