// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orbital

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Coefficients returns an nao×nmo molecular orbital coefficient matrix.
// A nil rows argument yields the identity.
func Coefficients(nao int, rows [][]float64) (*mat.Dense, error) {
	if rows == nil {
		c := mat.NewDense(nao, nao, nil)
		for i := 0; i < nao; i++ {
			c.Set(i, i, 1)
		}
		return c, nil
	}
	if len(rows) != nao {
		return nil, fmt.Errorf("%w: %d coefficient rows for %d atomic orbitals", ErrInvalidBasis, len(rows), nao)
	}
	nmo := len(rows[0])
	if nmo == 0 {
		return nil, fmt.Errorf("%w: empty coefficient row", ErrInvalidBasis)
	}
	c := mat.NewDense(nao, nmo, nil)
	for i, row := range rows {
		if len(row) != nmo {
			return nil, fmt.Errorf("%w: ragged coefficient row %d", ErrInvalidBasis, i)
		}
		c.SetRow(i, row)
	}
	return c, nil
}

// Rank returns the numerical rank of the columns cols of c.
//
// Description:
//
//	Computes singular values of the selected sub-matrix and counts those
//	above tol times the largest. Used to reject orbital sets whose
//	occupied space cannot support a non-zero determinant.
func Rank(c *mat.Dense, cols []int, tol float64) int {
	nao, _ := c.Dims()
	if len(cols) == 0 {
		return 0
	}
	sub := mat.NewDense(nao, len(cols), nil)
	for j, col := range cols {
		for i := 0; i < nao; i++ {
			sub.Set(i, j, c.At(i, col))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(sub, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	rank := 0
	for _, s := range values {
		if s > tol*values[0] {
			rank++
		}
	}
	return rank
}
