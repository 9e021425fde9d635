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
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianVMC/services/vmc/energy"
)

// ErrNoValidSamples is returned when every sample of a batch is flagged
// invalid or carries zero weight.
var ErrNoValidSamples = errors.New("no valid samples")

// Estimate aggregates a local energy batch.
type Estimate struct {
	Mean     float64
	Variance float64
	StdErr   float64

	// Gradient is 2·⟨O_k (E_L - Ē)⟩, nil when the batch carries no
	// log-derivatives.
	Gradient []float64

	// ESS is (Σw)²/Σw² over the valid samples; it equals N for
	// unit weights.
	ESS float64

	N       int
	Invalid int
}

// EstimateBatch computes energy statistics and the parameter gradient.
//
// Description:
//
//	Invalid samples are excluded and counted. weights may be nil, which
//	is identical to unit weights: both take the same weighted code path
//	so a reweighting that yields all ones reproduces the unweighted
//	result exactly.
//
// Inputs:
//
//	samples - Local energy samples of one batch.
//	weights - Optional importance weights, len == len(samples).
//
// Outputs:
//
//	Estimate - Mean, variance, standard error, gradient and ESS.
//	error - ErrNoValidSamples when nothing usable remains.
func EstimateBatch(samples []energy.Sample, weights []float64) (Estimate, error) {
	if weights != nil && len(weights) != len(samples) {
		return Estimate{}, fmt.Errorf("estimate: %d weights for %d samples", len(weights), len(samples))
	}
	var est Estimate
	e := make([]float64, 0, len(samples))
	w := make([]float64, 0, len(samples))
	idx := make([]int, 0, len(samples))
	for i, s := range samples {
		wi := 1.0
		if weights != nil {
			wi = weights[i]
		}
		if !s.Valid || wi == 0 || math.IsNaN(wi) {
			est.Invalid++
			continue
		}
		e = append(e, s.Energy)
		w = append(w, wi)
		idx = append(idx, i)
	}
	if len(e) == 0 {
		return est, ErrNoValidSamples
	}
	est.N = len(e)

	sumW := floats.Sum(w)
	est.Mean = stat.Mean(e, w)
	var ss float64
	for i, x := range e {
		d := x - est.Mean
		ss += w[i] * d * d
	}
	est.Variance = ss / sumW
	est.ESS = sumW * sumW / floats.Dot(w, w)
	if est.ESS > 1 {
		est.StdErr = math.Sqrt(est.Variance / (est.ESS - 1))
	}

	nparams := len(samples[idx[0]].LogDeriv)
	if nparams == 0 {
		return est, nil
	}
	est.Gradient = make([]float64, nparams)
	for j, i := range idx {
		o := samples[i].LogDeriv
		if len(o) != nparams {
			return Estimate{}, fmt.Errorf("estimate: sample %d has %d log-derivatives, want %d", i, len(o), nparams)
		}
		floats.AddScaled(est.Gradient, w[j]*(e[j]-est.Mean), o)
	}
	floats.Scale(2/sumW, est.Gradient)
	return est, nil
}
