// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dual implements hyper-dual numbers for exact first and second
// order differentiation.
//
// A hyper-dual number carries a value and three infinitesimal parts:
//
//	x = V + D1·ε1 + D2·ε2 + D12·ε1ε2,  with ε1² = ε2² = 0
//
// Evaluating f at Var(a) yields f(a) in V, f'(a) in D1 and D2, and
// f''(a) in D12, with no truncation error. Seeding a single input with
// D1 only yields a first derivative along that input.
//
// # Thread Safety
//
// Number is a plain value type; all operations are pure.
package dual

import (
	"math"

	"gonum.org/v1/gonum/num/hyperdual"
)

// Number is a hyper-dual number.
type Number struct {
	V   float64
	D1  float64
	D2  float64
	D12 float64
}

// Const returns a constant (all infinitesimal parts zero).
func Const(v float64) Number {
	return Number{V: v}
}

// Var returns v seeded for first and second derivatives along both
// infinitesimal directions.
func Var(v float64) Number {
	return Number{V: v, D1: 1, D2: 1}
}

// VarFirst returns v seeded for a first derivative only.
func VarFirst(v float64) Number {
	return Number{V: v, D1: 1}
}

// IsFinite reports whether every component is finite.
func (x Number) IsFinite() bool {
	return finite(x.V) && finite(x.D1) && finite(x.D2) && finite(x.D12)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Add returns x + y.
func Add(x, y Number) Number {
	return Number{x.V + y.V, x.D1 + y.D1, x.D2 + y.D2, x.D12 + y.D12}
}

// Sub returns x - y.
func Sub(x, y Number) Number {
	return Number{x.V - y.V, x.D1 - y.D1, x.D2 - y.D2, x.D12 - y.D12}
}

// Neg returns -x.
func Neg(x Number) Number {
	return Number{-x.V, -x.D1, -x.D2, -x.D12}
}

// Scale returns s·x for a real s.
func Scale(s float64, x Number) Number {
	return Number{s * x.V, s * x.D1, s * x.D2, s * x.D12}
}

// AddConst returns x + c for a real c.
func AddConst(x Number, c float64) Number {
	x.V += c
	return x
}

// Mul returns x·y.
func Mul(x, y Number) Number {
	return fromHyper(hyperdual.Mul(x.hyper(), y.hyper()))
}

// Inv returns 1/x.
func Inv(x Number) Number {
	return fromHyper(hyperdual.Inv(x.hyper()))
}

// Div returns x/y. The value part is an exact floating point quotient,
// so Div(x, x).V == 1.
func Div(x, y Number) Number {
	q := x.V / y.V
	d1 := (x.D1 - q*y.D1) / y.V
	d2 := (x.D2 - q*y.D2) / y.V
	return Number{
		V:   q,
		D1:  d1,
		D2:  d2,
		D12: (x.D12 - q*y.D12 - d1*y.D2 - d2*y.D1) / y.V,
	}
}

// Exp returns e^x.
func Exp(x Number) Number {
	return fromHyper(hyperdual.Exp(x.hyper()))
}

// Log returns the natural logarithm of x.
func Log(x Number) Number {
	return fromHyper(hyperdual.Log(x.hyper()))
}

// Sqrt returns the square root of x.
func Sqrt(x Number) Number {
	s := math.Sqrt(x.V)
	return chain(x, s, 0.5/s, -0.25/(s*s*s))
}

// PowInt returns x^n for an integer n.
func PowInt(x Number, n int) Number {
	switch n {
	case 0:
		return Const(1)
	case 1:
		return x
	}
	fn := float64(n)
	return chain(x, math.Pow(x.V, fn), fn*math.Pow(x.V, fn-1), fn*(fn-1)*math.Pow(x.V, fn-2))
}

// Abs returns |x|. The derivative at zero is taken from the positive side.
func Abs(x Number) Number {
	if x.V < 0 {
		return Neg(x)
	}
	return x
}

// Sum returns the sum of xs.
func Sum(xs ...Number) Number {
	var out Number
	for _, x := range xs {
		out = Add(out, x)
	}
	return out
}

func (x Number) hyper() hyperdual.Number {
	return hyperdual.Number{Real: x.V, E1mag: x.D1, E2mag: x.D2, E1E2mag: x.D12}
}

func fromHyper(h hyperdual.Number) Number {
	return Number{V: h.Real, D1: h.E1mag, D2: h.E2mag, D12: h.E1E2mag}
}

// chain applies a scalar function with value f, first derivative fp and
// second derivative fpp at x.V.
func chain(x Number, f, fp, fpp float64) Number {
	return Number{
		V:   f,
		D1:  fp * x.D1,
		D2:  fp * x.D2,
		D12: fp*x.D12 + fpp*x.D1*x.D2,
	}
}
