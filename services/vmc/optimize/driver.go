// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimize aggregates local energies into energy estimates and
// gradients and drives the parameter optimisation loop.
//
// # Loop
//
// Each optimisation step:
//
//  1. draws a batch from the sampler under the current snapshot, or
//     reweights the previous batch when reuse is enabled
//  2. evaluates local energies and log-derivatives on the batch
//  3. forms mean, standard error and gradient 2·⟨O (E_L - Ē)⟩
//  4. emits a StepRecord and, when due, a checkpoint
//  5. hands the gradient to the Optimizer and publishes a new snapshot
//
// The parameter update in step 5 is the only mutation point and is
// serialised against sampling by the driver's mutex.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/AleutianAI/AleutianVMC/services/vmc/energy"
	"github.com/AleutianAI/AleutianVMC/services/vmc/sampler"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// StepRecord is emitted once per optimisation step.
type StepRecord struct {
	RunID         string        `json:"run_id"`
	Step          int           `json:"step"`
	Energy        float64       `json:"energy"`
	StdErr        float64       `json:"stderr"`
	Variance      float64       `json:"variance"`
	Acceptance    float64       `json:"acceptance"`
	ESS           float64       `json:"ess"`
	Samples       int           `json:"samples"`
	Invalid       int           `json:"invalid"`
	Reused        bool          `json:"reused"`
	Resampled     bool          `json:"resampled"`
	Divergence    string        `json:"divergence,omitempty"`
	StepSize      float64       `json:"step_size"`
	ParamsVersion uint64        `json:"params_version"`
	GradNorm      float64       `json:"grad_norm"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Reporter consumes step records.
type Reporter interface {
	Report(ctx context.Context, rec StepRecord) error
}

// State is the resumable state of a run.
type State struct {
	RunID   string
	Step    int
	Params  wavefunction.Params
	Sampler sampler.Snapshot
	Record  StepRecord

	// Optimizer is nil for sample-only runs.
	Optimizer *OptimizerState
}

// Checkpointer persists run state.
type Checkpointer interface {
	Checkpoint(ctx context.Context, st State) error
}

// Instrumentation wraps each step, e.g. with a trace span.
type Instrumentation interface {
	StartStep(ctx context.Context, runID string, step int) (context.Context, func(rec StepRecord, err error))
}

// Amplitudes evaluates log|Ψ| for a flat batch under a snapshot.
type Amplitudes interface {
	Amplitudes(ctx context.Context, batch []float64, p wavefunction.Params) ([]float64, []float64, error)
}

// Policy is the hot-swappable subset of the driver configuration.
type Policy struct {
	Sampler      sampler.Policy
	ESSThreshold float64
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// MaxReuse is the number of additional steps a batch may be reused
	// through reweighting; 0 draws a fresh batch every step.
	MaxReuse int

	// ESSThreshold is the minimum ESS / N before a reused batch is
	// redrawn.
	ESSThreshold float64

	// CheckpointEvery saves state every N steps; 0 disables.
	CheckpointEvery int
}

// Driver runs the optimisation loop.
//
// Thread Safety:
//
//	Step and Run serialise on an internal mutex. SetPolicy may be called
//	from any goroutine; the policy is applied at the next step boundary.
type Driver struct {
	mu sync.Mutex

	cfg       DriverConfig
	runID     string
	sampler   *sampler.Sampler
	estimator *energy.Estimator
	amps      Amplitudes
	optimizer Optimizer
	params    wavefunction.Params
	step      int

	batch      *sampler.Batch
	drawParams wavefunction.Params
	reuse      int

	reporter     Reporter
	checkpointer Checkpointer
	instr        Instrumentation
	pending      atomic.Pointer[Policy]
	logger       *slog.Logger
}

// DriverOption configures optional collaborators.
type DriverOption func(*Driver)

// WithReporter sets the step record consumer.
func WithReporter(r Reporter) DriverOption { return func(d *Driver) { d.reporter = r } }

// WithCheckpointer sets the state sink.
func WithCheckpointer(c Checkpointer) DriverOption { return func(d *Driver) { d.checkpointer = c } }

// WithInstrumentation sets the per-step wrapper.
func WithInstrumentation(i Instrumentation) DriverOption { return func(d *Driver) { d.instr = i } }

// WithRunID overrides the generated run identifier.
func WithRunID(id string) DriverOption { return func(d *Driver) { d.runID = id } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DriverOption { return func(d *Driver) { d.logger = l } }

// NewDriver assembles a driver. A nil optimizer runs sampling and
// estimation only.
func NewDriver(cfg DriverConfig, s *sampler.Sampler, est *energy.Estimator, amps Amplitudes, opt Optimizer, initial wavefunction.Params, opts ...DriverOption) (*Driver, error) {
	if cfg.MaxReuse < 0 || cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("driver: max_reuse and checkpoint_every must be >= 0")
	}
	if cfg.ESSThreshold < 0 || cfg.ESSThreshold > 1 {
		return nil, fmt.Errorf("driver: ess_threshold must be in [0, 1], got %v", cfg.ESSThreshold)
	}
	if cfg.MaxReuse > 0 && amps == nil {
		return nil, fmt.Errorf("driver: batch reuse needs an amplitude evaluator")
	}
	d := &Driver{
		cfg:       cfg,
		runID:     uuid.NewString(),
		sampler:   s,
		estimator: est,
		amps:      amps,
		optimizer: opt,
		params:    initial,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "driver", "run_id", d.runID)
	return d, nil
}

// RunID returns the run identifier.
func (d *Driver) RunID() string { return d.runID }

// Params returns the current snapshot.
func (d *Driver) Params() wavefunction.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// StepIndex returns the number of completed steps.
func (d *Driver) StepIndex() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.step
}

// SetPolicy schedules a policy change for the next step boundary.
func (d *Driver) SetPolicy(p Policy) error {
	if err := p.Sampler.Validate(); err != nil {
		return err
	}
	if p.ESSThreshold < 0 || p.ESSThreshold > 1 {
		return fmt.Errorf("ess_threshold must be in [0, 1], got %v", p.ESSThreshold)
	}
	d.pending.Store(&p)
	return nil
}

// Restore resumes from a saved state.
func (d *Driver) Restore(st State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st.Params.Len() != d.params.Len() {
		return fmt.Errorf("driver: checkpoint has %d parameters, ansatz %d", st.Params.Len(), d.params.Len())
	}
	if st.Sampler.NWalkers > 0 {
		if err := d.sampler.Restore(st.Sampler); err != nil {
			return fmt.Errorf("driver: %w", err)
		}
	}
	if st.RunID != "" {
		d.runID = st.RunID
	}
	if err := d.restoreOptimizer(st.Optimizer); err != nil {
		return err
	}
	d.params = st.Params
	d.step = st.Step
	d.batch = nil
	d.reuse = 0
	return nil
}

// restoreOptimizer loads saved optimizer state. A state saved by a
// different optimizer is dropped with a warning and the run continues
// with fresh moments.
func (d *Driver) restoreOptimizer(st *OptimizerState) error {
	if st == nil || d.optimizer == nil {
		return nil
	}
	if st.Name != d.optimizer.Name() {
		d.logger.Warn("checkpoint optimizer differs, starting with fresh state",
			"saved", st.Name, "current", d.optimizer.Name())
		return nil
	}
	if n := st.Len(); n != 0 && n != d.params.Len() {
		return fmt.Errorf("driver: optimizer state has %d parameters, ansatz %d", n, d.params.Len())
	}
	if err := d.optimizer.Restore(*st); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	return nil
}

// Run executes steps until n have completed in this call or ctx ends.
func (d *Driver) Run(ctx context.Context, n int) ([]StepRecord, error) {
	records := make([]StepRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := d.Step(ctx)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Step performs one optimisation step.
func (d *Driver) Step(ctx context.Context) (rec StepRecord, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.instr != nil {
		var end func(StepRecord, error)
		ctx, end = d.instr.StartStep(ctx, d.runID, d.step)
		defer func() { end(rec, err) }()
	}
	start := time.Now()
	d.applyPolicy()

	rec = StepRecord{RunID: d.runID, Step: d.step, ParamsVersion: d.params.Version()}
	weights, err := d.prepareBatch(ctx, &rec)
	if err != nil {
		return rec, err
	}

	withParams := d.optimizer != nil && d.params.Len() > 0
	samples, stats, err := d.estimator.Batch(ctx, d.batch.Positions, d.params, withParams)
	if err != nil {
		return rec, fmt.Errorf("driver: local energy: %w", err)
	}
	est, err := EstimateBatch(samples, weights)
	if err != nil {
		return rec, fmt.Errorf("driver: step %d: %w", d.step, err)
	}

	rec.Energy = est.Mean
	rec.StdErr = est.StdErr
	rec.Variance = est.Variance
	rec.ESS = est.ESS
	rec.Samples = est.N
	rec.Invalid = stats.Invalid
	rec.Acceptance = d.batch.Diag.Acceptance
	rec.StepSize = d.batch.Diag.StepSize
	rec.Divergence = d.batch.Diag.DivergenceKind
	rec.GradNorm = floats.Norm(est.Gradient, 2)
	rec.Timestamp = time.Now()

	if withParams {
		next, err := d.optimizer.Step(d.params.Values(), est.Gradient)
		if err != nil {
			return rec, fmt.Errorf("driver: optimizer %s: %w", d.optimizer.Name(), err)
		}
		updated, err := d.params.Update(next)
		if err != nil {
			return rec, fmt.Errorf("driver: parameter update: %w", err)
		}
		d.params = updated
	}
	d.step++
	rec.Duration = time.Since(start)

	if d.reporter != nil {
		if rerr := d.reporter.Report(ctx, rec); rerr != nil {
			d.logger.Warn("report step failed", "step", rec.Step, "error", rerr)
		}
	}
	if d.checkpointer != nil && d.cfg.CheckpointEvery > 0 && d.step%d.cfg.CheckpointEvery == 0 {
		if cerr := d.saveLocked(ctx, rec); cerr != nil {
			d.logger.Warn("checkpoint failed", "step", d.step, "error", cerr)
		}
	}
	return rec, nil
}

// Checkpoint saves the current state immediately.
func (d *Driver) Checkpoint(ctx context.Context, last StepRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.checkpointer == nil {
		return fmt.Errorf("driver: no checkpointer configured")
	}
	return d.saveLocked(ctx, last)
}

func (d *Driver) saveLocked(ctx context.Context, rec StepRecord) error {
	snap, err := d.sampler.Snapshot()
	if err != nil {
		return err
	}
	st := State{
		RunID:   d.runID,
		Step:    d.step,
		Params:  d.params,
		Sampler: snap,
		Record:  rec,
	}
	if d.optimizer != nil {
		ost := d.optimizer.State()
		st.Optimizer = &ost
	}
	return d.checkpointer.Checkpoint(ctx, st)
}

// prepareBatch draws a new batch or reweights the held one. It returns
// the importance weights, nil for a fresh batch.
func (d *Driver) prepareBatch(ctx context.Context, rec *StepRecord) ([]float64, error) {
	if d.batch != nil && d.reuse < d.cfg.MaxReuse && d.drawParams.Version() != d.params.Version() {
		logNew, _, err := d.amps.Amplitudes(ctx, d.batch.Positions, d.params)
		if err != nil {
			return nil, fmt.Errorf("driver: reweight amplitudes: %w", err)
		}
		rw, err := Reweight(d.batch.LogAbs, logNew, d.cfg.ESSThreshold)
		switch {
		case err == nil:
			d.reuse++
			rec.Reused = true
			return rw.Weights, nil
		case errors.Is(err, ErrResampleRequired):
			d.logger.Info("reweighting collapsed, resampling",
				"ess", rw.ESS,
				"fraction", rw.Fraction,
				"threshold", d.cfg.ESSThreshold,
			)
			rec.Resampled = true
		default:
			return nil, err
		}
	}

	batch, err := d.sampler.Sample(ctx, d.params)
	if err != nil {
		return nil, fmt.Errorf("driver: sample: %w", err)
	}
	d.batch = batch
	d.drawParams = d.params
	d.reuse = 0
	return nil, nil
}

func (d *Driver) applyPolicy() {
	p := d.pending.Swap(nil)
	if p == nil {
		return
	}
	if err := d.sampler.SetPolicy(p.Sampler); err != nil {
		d.logger.Warn("policy rejected", "error", err)
		return
	}
	d.cfg.ESSThreshold = p.ESSThreshold
	d.logger.Info("policy applied",
		"target_low", p.Sampler.TargetLow,
		"target_high", p.Sampler.TargetHigh,
		"ess_threshold", p.ESSThreshold,
	)
}

