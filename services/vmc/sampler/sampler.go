// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sampler draws electron configurations from |Ψ|² with a
// Metropolis-Hastings random walk.
//
// # Description
//
// A Sampler owns a fixed population of walkers. Each pass runs burn-in
// (with periodic step-size adaptation toward a target acceptance band),
// then records Samples configurations per walker separated by Stride
// moves. Moves are either symmetric random-walk proposals or
// drift-diffusion (Langevin) proposals whose asymmetric transition
// density enters the acceptance ratio.
//
// # Determinism
//
// Every walker has its own PCG stream seeded by (Seed, walker id), so a
// pass is bit-reproducible for a fixed seed regardless of how walkers
// are scheduled across goroutines.
//
// # Thread Safety
//
// Sample, SetPolicy, Snapshot and Restore serialise on an internal
// mutex. Within a pass walkers are advanced in parallel; a step is a
// barrier.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// ErrSamplerDivergence is the diagnostic attached to a pass whose
// acceptance collapsed toward zero or saturated toward one. It is never
// returned as a fatal error.
var ErrSamplerDivergence = errors.New("sampler divergence")

// Target is the density the sampler walks on.
type Target interface {
	NumElectrons() int
	LogAmplitude(pos []float64, p wavefunction.Params) (float64, float64)
	Gradient(pos []float64, p wavefunction.Params) ([]float64, float64, float64, bool)
}

// Observer receives per-move control-loop events. Implementations must
// be safe for concurrent use.
type Observer interface {
	MoveCompleted(phase string, acceptance, stepSize float64)
	Diverged(kind string)
}

// Phases reported to the Observer.
const (
	PhaseBurnin     = "burnin"
	PhaseProduction = "production"
)

// Diagnostics summarise one pass.
type Diagnostics struct {
	Acceptance       float64
	BurninAcceptance float64
	StepSize         float64
	Moves            int
	Adaptations      int
	Divergence       error
	DivergenceKind   string
	Duration         time.Duration
}

// Batch is the output of a pass.
type Batch struct {
	Positions []float64
	LogAbs    []float64
	Dim       int
	Version   uint64
	Diag      Diagnostics
}

// Len returns the number of configurations.
func (b *Batch) Len() int { return len(b.LogAbs) }

// Config returns configuration i.
func (b *Batch) Config(i int) []float64 { return b.Positions[i*b.Dim : (i+1)*b.Dim] }

// Sampler advances a walker population.
type Sampler struct {
	mu       sync.Mutex
	cfg      Config
	mol      *system.Molecule
	target   Target
	pop      *Population
	pcgs     []*rand.PCG
	rngs     []*rand.Rand
	stepSize float64
	cached   uint64
	fresh    bool
	window   *acceptWindow
	observer Observer
	logger   *slog.Logger
	warn     *rate.Sometimes
}

// New returns a sampler for target on mol.
func New(cfg Config, mol *system.Molecule, target Target, logger *slog.Logger) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	if target.NumElectrons() != mol.NumElectrons() {
		return nil, fmt.Errorf("sampler: target has %d electrons, molecule %d", target.NumElectrons(), mol.NumElectrons())
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sampler{
		cfg:      cfg,
		mol:      mol,
		target:   target,
		pop:      NewPopulation(cfg.NWalkers, mol.Dim()),
		stepSize: cfg.StepSize,
		logger:   logger.With("component", "sampler"),
		warn:     &rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	s.seed()
	return s, nil
}

// SetObserver installs an observer for move events.
func (s *Sampler) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// SetPolicy swaps the control-loop policy. It waits for an in-flight
// pass to finish, so a new policy always starts at a pass boundary.
func (s *Sampler) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Policy = p
	return nil
}

// StepSize returns the current proposal scale.
func (s *Sampler) StepSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepSize
}

// Population returns the walker arena. Callers must not mutate it.
func (s *Sampler) Population() *Population { return s.pop }

// Resize reallocates the population; walkers restart from the
// initialisation domain on the next pass.
func (s *Sampler) Resize(nwalkers int) error {
	if nwalkers <= 0 {
		return fmt.Errorf("sampler: nwalkers must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.NWalkers = nwalkers
	s.pop.Resize(nwalkers)
	s.seed()
	return nil
}

// Reset restarts the chain from the initialisation domain.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pop.Reset()
	s.stepSize = s.cfg.StepSize
	s.seed()
}

func (s *Sampler) seed() {
	s.pcgs = make([]*rand.PCG, s.cfg.NWalkers)
	s.rngs = make([]*rand.Rand, s.cfg.NWalkers)
	for i := range s.pcgs {
		s.pcgs[i] = rand.NewPCG(s.cfg.Seed, uint64(i))
		s.rngs[i] = rand.New(s.pcgs[i])
	}
	s.fresh = true
	s.window = newAcceptWindow(s.cfg.DivergenceWindow)
}

// Sample runs one pass under snapshot p.
//
// Description:
//
//	Initialises walkers if needed, refreshes cached amplitudes when p
//	differs from the snapshot they were computed under, runs burn-in
//	and records Samples configurations per walker. Cancellation is
//	checked at every move boundary; a cancelled pass leaves each walker
//	at its last accepted configuration.
//
// Outputs:
//
//	*Batch - NWalkers·Samples configurations with diagnostics.
//	error - ErrDegenerateAnsatz if every walker has zero amplitude at
//	        initialisation, or the context error on cancellation.
func (s *Sampler) Sample(ctx context.Context, p wavefunction.Params) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.prepare(ctx, p); err != nil {
		return nil, err
	}

	diag := Diagnostics{}
	s.pop.setState(Equilibrating)
	s.pop.resetCounters()
	var intervalAcc, intervalProp uint64
	for m := 0; m < s.cfg.Burnin; m++ {
		acc, err := s.move(ctx, p)
		if err != nil {
			return nil, err
		}
		intervalAcc += acc
		intervalProp += uint64(s.cfg.NWalkers)
		s.observe(PhaseBurnin, float64(acc)/float64(s.cfg.NWalkers))
		if s.cfg.AdaptInterval > 0 && (m+1)%s.cfg.AdaptInterval == 0 {
			if s.adapt(float64(intervalAcc) / float64(intervalProp)) {
				diag.Adaptations++
			}
			intervalAcc, intervalProp = 0, 0
		}
		diag.Moves++
	}
	diag.BurninAcceptance = s.pop.Acceptance()

	s.pop.setState(Producing)
	s.pop.resetCounters()
	dim := s.pop.Dim()
	batch := &Batch{
		Positions: make([]float64, 0, s.cfg.NWalkers*s.cfg.Samples*dim),
		LogAbs:    make([]float64, 0, s.cfg.NWalkers*s.cfg.Samples),
		Dim:       dim,
		Version:   p.Version(),
	}
	for k := 0; k < s.cfg.Samples; k++ {
		for m := 0; m < s.cfg.Stride; m++ {
			acc, err := s.move(ctx, p)
			if err != nil {
				return nil, err
			}
			s.observe(PhaseProduction, float64(acc)/float64(s.cfg.NWalkers))
			diag.Moves++
		}
		batch.Positions = append(batch.Positions, s.pop.pos...)
		batch.LogAbs = append(batch.LogAbs, s.pop.logAbs...)
	}
	diag.Acceptance = s.pop.Acceptance()

	if kind := s.window.divergence(s.cfg.Policy); kind != "" {
		diag.Divergence = fmt.Errorf("%w: windowed acceptance %.4f (%s)", ErrSamplerDivergence, s.window.mean(), kind)
		diag.DivergenceKind = kind
		if s.observer != nil {
			s.observer.Diverged(kind)
		}
		s.warn.Do(func() {
			s.logger.Warn("sampler divergence",
				"kind", kind,
				"acceptance", diag.Acceptance,
				"step_size", s.stepSize,
			)
		})
		// Re-adapt for the next pass; the recorded samples used one kernel.
		if s.adapt(s.window.mean()) {
			diag.Adaptations++
		}
		s.window = newAcceptWindow(s.cfg.DivergenceWindow)
	}
	diag.StepSize = s.stepSize
	diag.Duration = time.Since(start)
	batch.Diag = diag
	return batch, nil
}

// prepare places uninitialised walkers and refreshes cached
// amplitudes for snapshot p.
func (s *Sampler) prepare(ctx context.Context, p wavefunction.Params) error {
	if s.pop.State(0) == Uninitialized {
		positions := make([]float64, s.cfg.NWalkers*s.pop.Dim())
		for i := 0; i < s.cfg.NWalkers; i++ {
			s.cfg.Init.Place(s.mol, s.pcgs[i], positions[i*s.pop.Dim():(i+1)*s.pop.Dim()])
		}
		if err := s.pop.load(positions); err != nil {
			return err
		}
		s.fresh = true
	}
	if !s.fresh && s.cached == p.Version() {
		return nil
	}

	if err := s.forEachWalker(ctx, func(i int, _ []float64) {
		x := s.pop.Walker(i)
		if s.cfg.Langevin {
			grad, l, _, ok := s.target.Gradient(x, p)
			s.pop.logAbs[i] = l
			s.setDrift(i, grad, ok)
		} else {
			s.pop.logAbs[i], _ = s.target.LogAmplitude(x, p)
		}
	}); err != nil {
		return err
	}

	alive := 0
	for _, l := range s.pop.logAbs {
		if !math.IsInf(l, -1) && !math.IsNaN(l) {
			alive++
		}
	}
	if alive == 0 {
		return fmt.Errorf("sampler: initialize population: %w: zero amplitude for all %d walkers",
			wavefunction.ErrDegenerateAnsatz, s.cfg.NWalkers)
	}
	s.cached = p.Version()
	s.fresh = false
	return nil
}

// move advances every walker by one proposal and returns the number
// accepted.
func (s *Sampler) move(ctx context.Context, p wavefunction.Params) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	accepted := make([]bool, s.cfg.NWalkers)
	if err := s.forEachWalker(ctx, func(i int, scratch []float64) {
		accepted[i] = s.moveWalker(i, p, scratch)
	}); err != nil {
		return 0, err
	}
	var n uint64
	for i, ok := range accepted {
		s.pop.proposed[i]++
		if ok {
			s.pop.accepted[i]++
			n++
		}
	}
	s.window.push(float64(n) / float64(s.cfg.NWalkers))
	return n, nil
}

// forEachWalker runs fn over all walkers in contiguous chunks, one
// scratch buffer per chunk.
func (s *Sampler) forEachWalker(ctx context.Context, fn func(i int, scratch []float64)) error {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	n := s.cfg.NWalkers
	chunk := (n + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scratch := make([]float64, s.pop.Dim())
			for i := lo; i < hi; i++ {
				fn(i, scratch)
			}
			return nil
		})
	}
	return g.Wait()
}

// moveWalker proposes and accepts or rejects one move for walker i.
func (s *Sampler) moveWalker(i int, p wavefunction.Params, scratch []float64) bool {
	rng := s.rngs[i]
	x := s.pop.Walker(i)
	copy(scratch, x)
	delta := s.stepSize

	lo, hi := 0, len(x)
	if s.cfg.Move == OneElectron {
		e := rng.IntN(s.mol.NumElectrons())
		lo, hi = 3*e, 3*e+3
	}

	oldL := s.pop.logAbs[i]
	var newL, logT float64
	var newGrad []float64
	var gradOK bool

	if s.cfg.Langevin {
		noise := distuv.Normal{Mu: 0, Sigma: delta, Src: s.pcgs[i]}
		drift := s.pop.drift[i*len(x) : (i+1)*len(x)]
		fwd := s.driftDisplacement(drift, delta)
		for k := lo; k < hi; k++ {
			scratch[k] = x[k] + fwd[k] + noise.Rand()
		}
		newGrad, newL, _, gradOK = s.target.Gradient(scratch, p)
		if !gradOK {
			return s.acceptUnsupported(i, oldL, newL, scratch, nil, false)
		}
		rev := s.driftDisplacement(newGrad, delta)
		for k := lo; k < hi; k++ {
			forward := distuv.Normal{Mu: x[k] + fwd[k], Sigma: delta}
			reverse := distuv.Normal{Mu: scratch[k] + rev[k], Sigma: delta}
			logT += reverse.LogProb(x[k]) - forward.LogProb(scratch[k])
		}
	} else {
		var noise interface{ Rand() float64 }
		if s.cfg.Proposal == UniformProposal {
			noise = distuv.Uniform{Min: -delta, Max: delta, Src: s.pcgs[i]}
		} else {
			noise = distuv.Normal{Mu: 0, Sigma: delta, Src: s.pcgs[i]}
		}
		for k := lo; k < hi; k++ {
			scratch[k] = x[k] + noise.Rand()
		}
		newL, _ = s.target.LogAmplitude(scratch, p)
	}

	if math.IsInf(oldL, -1) || math.IsNaN(oldL) {
		return s.acceptUnsupported(i, oldL, newL, scratch, newGrad, gradOK)
	}
	logA := 2*(newL-oldL) + logT
	if !(logA >= 0 || math.Log(rng.Float64()) < logA) {
		return false
	}
	s.accept(i, newL, scratch, newGrad, gradOK)
	return true
}

// acceptUnsupported handles walkers outside the support of |Ψ|²: any
// finite proposal is taken so the walker can enter the support.
func (s *Sampler) acceptUnsupported(i int, oldL, newL float64, scratch, grad []float64, gradOK bool) bool {
	if !(math.IsInf(oldL, -1) || math.IsNaN(oldL)) || math.IsInf(newL, -1) || math.IsNaN(newL) {
		return false
	}
	s.accept(i, newL, scratch, grad, gradOK)
	return true
}

func (s *Sampler) accept(i int, newL float64, scratch, grad []float64, gradOK bool) {
	copy(s.pop.Walker(i), scratch)
	s.pop.logAbs[i] = newL
	if s.cfg.Langevin {
		s.setDrift(i, grad, gradOK)
	}
}

// setDrift caches ∇log|Ψ| for walker i; an invalid gradient caches zero.
func (s *Sampler) setDrift(i int, grad []float64, ok bool) {
	dst := s.pop.drift[i*s.pop.Dim() : (i+1)*s.pop.Dim()]
	if !ok || grad == nil {
		clear(dst)
		return
	}
	copy(dst, grad)
}

// driftDisplacement returns δ²·∇log|Ψ| with the per-electron magnitude
// capped at MaxDrift.
func (s *Sampler) driftDisplacement(grad []float64, delta float64) []float64 {
	out := make([]float64, len(grad))
	d2 := delta * delta
	for e := 0; e < len(grad)/3; e++ {
		var norm float64
		for c := 0; c < 3; c++ {
			v := d2 * grad[3*e+c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			out[3*e+c] = v
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if s.cfg.MaxDrift > 0 && norm > s.cfg.MaxDrift {
			scale := s.cfg.MaxDrift / norm
			for c := 0; c < 3; c++ {
				out[3*e+c] *= scale
			}
		}
	}
	return out
}

// adapt moves the step size toward the acceptance band. It reports
// whether the step size changed.
func (s *Sampler) adapt(acceptance float64) bool {
	pol := s.cfg.Policy
	next := s.stepSize
	switch {
	case acceptance < pol.TargetLow:
		next /= pol.AdaptFactor
	case acceptance > pol.TargetHigh:
		next *= pol.AdaptFactor
	default:
		return false
	}
	next = math.Max(s.cfg.MinStep, math.Min(s.cfg.MaxStep, next))
	if next == s.stepSize {
		return false
	}
	s.logger.Debug("step size adapted", "from", s.stepSize, "to", next, "acceptance", acceptance)
	s.stepSize = next
	return true
}

func (s *Sampler) observe(phase string, acceptance float64) {
	if s.observer != nil {
		s.observer.MoveCompleted(phase, acceptance, s.stepSize)
	}
}

// acceptWindow is a ring buffer of per-move acceptance rates.
type acceptWindow struct {
	buf  []float64
	next int
	full bool
}

func newAcceptWindow(n int) *acceptWindow {
	return &acceptWindow{buf: make([]float64, n)}
}

func (w *acceptWindow) push(v float64) {
	if len(w.buf) == 0 {
		return
	}
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *acceptWindow) mean() float64 {
	n := w.next
	if w.full {
		n = len(w.buf)
	}
	if n == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range w.buf[:n] {
		sum += v
	}
	return sum / float64(n)
}

// divergence returns "collapse", "saturation" or "".
func (w *acceptWindow) divergence(p Policy) string {
	if !w.full {
		return ""
	}
	m := w.mean()
	switch {
	case m < p.DivergenceLow:
		return "collapse"
	case m > p.DivergenceHigh:
		return "saturation"
	}
	return ""
}
