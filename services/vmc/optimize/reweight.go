// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrResampleRequired signals that a reused batch no longer represents
// the current ansatz and must be redrawn. It is not a failure.
var ErrResampleRequired = errors.New("resample required")

// Reweighting holds importance weights for reusing a batch.
type Reweighting struct {
	Weights  []float64
	ESS      float64
	Fraction float64
}

// Reweight returns weights |Ψ_new/Ψ_draw|² for configurations drawn
// under one snapshot and evaluated under another.
//
// Description:
//
//	Weights are scaled by the largest ratio before exponentiation; the
//	scale cancels in every weighted mean. Identical log-amplitudes give
//	weights of exactly 1. Configurations with zero new amplitude get
//	weight 0.
//
// Outputs:
//
//	Reweighting - Weights, ESS and ESS / N.
//	error - Wraps ErrResampleRequired when ESS / N < threshold; the
//	        weights are still returned.
func Reweight(logDraw, logNew []float64, threshold float64) (Reweighting, error) {
	if len(logDraw) != len(logNew) {
		return Reweighting{}, fmt.Errorf("reweight: %d draw and %d new amplitudes", len(logDraw), len(logNew))
	}
	n := len(logDraw)
	delta := make([]float64, n)
	maxDelta := math.Inf(-1)
	for i := range logDraw {
		d := 2 * (logNew[i] - logDraw[i])
		if math.IsNaN(d) || math.IsInf(logNew[i], -1) {
			d = math.Inf(-1)
		}
		delta[i] = d
		if d > maxDelta {
			maxDelta = d
		}
	}
	rw := Reweighting{Weights: make([]float64, n)}
	if n == 0 || math.IsInf(maxDelta, -1) {
		return rw, fmt.Errorf("reweight: %w: every configuration has zero weight", ErrResampleRequired)
	}
	if math.IsInf(maxDelta, 1) {
		return rw, fmt.Errorf("reweight: %w: unbounded weight ratio", ErrResampleRequired)
	}
	for i, d := range delta {
		rw.Weights[i] = math.Exp(d - maxDelta)
	}
	sum := floats.Sum(rw.Weights)
	rw.ESS = sum * sum / floats.Dot(rw.Weights, rw.Weights)
	rw.Fraction = rw.ESS / float64(n)
	if rw.Fraction < threshold {
		return rw, fmt.Errorf("reweight: %w: effective sample size %.1f of %d", ErrResampleRequired, rw.ESS, n)
	}
	return rw, nil
}
