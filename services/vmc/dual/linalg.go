// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dual

import "math"

// Matrix is a dense row-major square matrix of hyper-dual numbers.
type Matrix struct {
	N    int
	Data []Number
}

// NewMatrix returns an n×n zero matrix.
func NewMatrix(n int) *Matrix {
	return &Matrix{N: n, Data: make([]Number, n*n)}
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) Number {
	return m.Data[i*m.N+j]
}

// Set stores v at row i, column j.
func (m *Matrix) Set(i, j int, v Number) {
	m.Data[i*m.N+j] = v
}

// LogDet returns log|det(m)| and the sign of the determinant.
//
// Description:
//
//	Uses LU decomposition with partial pivoting on the value part. The
//	derivative parts follow through the elimination, so the returned
//	log-magnitude carries exact first and second derivatives of
//	log|det| with respect to the seeded input.
//
// Outputs:
//
//	Number - log|det|. V is -Inf when a pivot is exactly zero.
//	float64 - +1 or -1, or 0 for a singular matrix.
//
// Limitations:
//
//	The matrix is overwritten with its LU factors.
func (m *Matrix) LogDet() (Number, float64) {
	n := m.N
	if n == 0 {
		return Const(0), 1
	}
	sign := 1.0
	var logAbs Number
	for k := 0; k < n; k++ {
		p := k
		best := math.Abs(m.At(k, k).V)
		for i := k + 1; i < n; i++ {
			if a := math.Abs(m.At(i, k).V); a > best {
				best, p = a, i
			}
		}
		if best == 0 {
			return Number{V: math.Inf(-1)}, 0
		}
		if p != k {
			for j := 0; j < n; j++ {
				a, b := m.At(k, j), m.At(p, j)
				m.Set(k, j, b)
				m.Set(p, j, a)
			}
			sign = -sign
		}
		pivot := m.At(k, k)
		if pivot.V < 0 {
			sign = -sign
		}
		logAbs = Add(logAbs, Log(Abs(pivot)))
		for i := k + 1; i < n; i++ {
			f := Div(m.At(i, k), pivot)
			if f == (Number{}) {
				continue
			}
			for j := k + 1; j < n; j++ {
				m.Set(i, j, Sub(m.At(i, j), Mul(f, m.At(k, j))))
			}
		}
	}
	return logAbs, sign
}

// LogSumExp combines signed log-magnitudes with weights:
//
//	Σ_k w_k · s_k · exp(l_k)
//
// and returns the log-magnitude and sign of the result. Terms with a
// zero sign are skipped.
func LogSumExp(logs []Number, signs []float64, weights []Number) (Number, float64) {
	maxV := math.Inf(-1)
	for k, l := range logs {
		if signs[k] != 0 && l.V > maxV {
			maxV = l.V
		}
	}
	if math.IsInf(maxV, -1) {
		return Number{V: math.Inf(-1)}, 0
	}
	var total Number
	for k, l := range logs {
		if signs[k] == 0 {
			continue
		}
		term := Scale(signs[k], Exp(AddConst(l, -maxV)))
		if weights != nil {
			term = Mul(weights[k], term)
		}
		total = Add(total, term)
	}
	if total.V == 0 {
		return Number{V: math.Inf(-1)}, 0
	}
	sign := 1.0
	if total.V < 0 {
		sign = -1
	}
	return AddConst(Log(Abs(total)), maxV), sign
}
