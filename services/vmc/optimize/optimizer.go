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
	"fmt"
	"math"
)

// Optimizer turns a gradient and the current parameters into new
// parameters. Implementations may keep internal state such as
// momentum; State and Restore carry it across checkpoints.
type Optimizer interface {
	Name() string
	Step(params, grad []float64) ([]float64, error)
	State() OptimizerState
	Restore(st OptimizerState) error
}

// OptimizerState is the resumable internal state of an optimizer.
// Slices are nil until the first step.
type OptimizerState struct {
	Name     string    `json:"name"`
	T        int       `json:"t,omitempty"`
	M        []float64 `json:"m,omitempty"`
	V        []float64 `json:"v,omitempty"`
	Velocity []float64 `json:"velocity,omitempty"`
}

// Len returns the parameter count the state was built for, 0 before the
// first step.
func (s OptimizerState) Len() int {
	return max(len(s.M), len(s.Velocity))
}

func checkRestore(name string, st OptimizerState) error {
	if st.Name != name {
		return fmt.Errorf("%s: cannot restore %q state", name, st.Name)
	}
	return nil
}

func clone(xs []float64) []float64 {
	if xs == nil {
		return nil
	}
	return append([]float64(nil), xs...)
}

// SGD is gradient descent with optional heavy-ball momentum.
type SGD struct {
	LR       float64
	Momentum float64
	velocity []float64
}

// NewSGD returns plain gradient descent with learning rate lr.
func NewSGD(lr, momentum float64) *SGD {
	return &SGD{LR: lr, Momentum: momentum}
}

// Name implements Optimizer.
func (o *SGD) Name() string { return "sgd" }

// Step implements Optimizer.
func (o *SGD) Step(params, grad []float64) ([]float64, error) {
	if len(params) != len(grad) {
		return nil, fmt.Errorf("sgd: %d params, %d gradients", len(params), len(grad))
	}
	if o.velocity == nil {
		o.velocity = make([]float64, len(params))
	}
	out := append([]float64(nil), params...)
	for i, g := range grad {
		o.velocity[i] = o.Momentum*o.velocity[i] + g
		out[i] -= o.LR * o.velocity[i]
	}
	return out, nil
}

// State implements Optimizer.
func (o *SGD) State() OptimizerState {
	return OptimizerState{Name: o.Name(), Velocity: clone(o.velocity)}
}

// Restore implements Optimizer.
func (o *SGD) Restore(st OptimizerState) error {
	if err := checkRestore(o.Name(), st); err != nil {
		return err
	}
	o.velocity = clone(st.Velocity)
	return nil
}

// Adam is the bias-corrected adaptive moment optimizer.
type Adam struct {
	M, V  []float64
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	T     int
}

// NewAdam returns Adam with the usual β1 = 0.9, β2 = 0.999.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
}

// Name implements Optimizer.
func (o *Adam) Name() string { return "adam" }

// Step implements Optimizer.
func (o *Adam) Step(params, grad []float64) ([]float64, error) {
	if len(params) != len(grad) {
		return nil, fmt.Errorf("adam: %d params, %d gradients", len(params), len(grad))
	}
	if o.M == nil {
		o.M = make([]float64, len(params))
		o.V = make([]float64, len(params))
	}
	o.T++
	bc1 := 1.0 - math.Pow(o.Beta1, float64(o.T))
	bc2 := 1.0 - math.Pow(o.Beta2, float64(o.T))

	out := append([]float64(nil), params...)
	for i, g := range grad {
		o.M[i] = o.Beta1*o.M[i] + (1-o.Beta1)*g
		o.V[i] = o.Beta2*o.V[i] + (1-o.Beta2)*g*g
		mHat := o.M[i] / bc1
		vHat := o.V[i] / bc2
		out[i] -= o.LR * mHat / (math.Sqrt(vHat) + o.Eps)
	}
	return out, nil
}

// State implements Optimizer.
func (o *Adam) State() OptimizerState {
	return OptimizerState{Name: o.Name(), T: o.T, M: clone(o.M), V: clone(o.V)}
}

// Restore implements Optimizer.
func (o *Adam) Restore(st OptimizerState) error {
	if err := checkRestore(o.Name(), st); err != nil {
		return err
	}
	if len(st.M) != len(st.V) || st.T < 0 {
		return fmt.Errorf("adam: inconsistent state (t=%d, %d/%d moments)", st.T, len(st.M), len(st.V))
	}
	o.T, o.M, o.V = st.T, clone(st.M), clone(st.V)
	return nil
}

// NewOptimizer builds an optimizer by name ("sgd" or "adam").
func NewOptimizer(name string, lr, momentum float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(lr, momentum), nil
	case "adam", "":
		return NewAdam(lr), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}
