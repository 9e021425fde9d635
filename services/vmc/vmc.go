// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vmc assembles a variational Monte Carlo run from a RunConfig.
//
// # Overview
//
// Build wires the molecule, ansatz, derivative engine, sampler,
// estimator, optimizer, checkpoint sink, reporters and instrumentation
// into an optimize.Driver. The command line tools and tests go through
// Build rather than wiring the packages by hand.
//
//	run, err := vmc.Build(ctx, cfg, logger, vmc.Options{})
//	if err != nil {
//	    return err
//	}
//	defer run.Close()
//	records, err := run.Execute(ctx, cfg.Driver.Steps)
package vmc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianVMC/services/vmc/checkpoint"
	"github.com/AleutianAI/AleutianVMC/services/vmc/config"
	"github.com/AleutianAI/AleutianVMC/services/vmc/derivative"
	"github.com/AleutianAI/AleutianVMC/services/vmc/energy"
	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
	"github.com/AleutianAI/AleutianVMC/services/vmc/orbital"
	"github.com/AleutianAI/AleutianVMC/services/vmc/report"
	"github.com/AleutianAI/AleutianVMC/services/vmc/sampler"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/telemetry"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// InfluxTokenEnv names the variable holding the InfluxDB token.
const InfluxTokenEnv = "VMC_INFLUX_TOKEN"

// Options adjusts how Build assembles a run.
type Options struct {
	// RunID names the run. With Resume, the run continues from its
	// latest checkpoint.
	RunID  string
	Resume bool

	// SampleOnly builds a driver without an optimizer; parameters stay
	// fixed and every step is a plain energy estimate.
	SampleOnly bool

	// InMemory keeps checkpoints in RAM and skips GCS export.
	InMemory bool
}

// Status is a point-in-time view of a run for the status endpoint.
type Status struct {
	RunID         string               `json:"run_id"`
	Step          int                  `json:"step"`
	ParamsVersion uint64               `json:"params_version"`
	NumParams     int                  `json:"num_params"`
	Electrons     int                  `json:"electrons"`
	Walkers       int                  `json:"walkers"`
	StepSize      float64              `json:"step_size"`
	Resumed       bool                 `json:"resumed"`
	Last          *optimize.StepRecord `json:"last,omitempty"`
}

// Run is an assembled, ready-to-step optimisation run.
type Run struct {
	Config    config.RunConfig
	Molecule  *system.Molecule
	Ansatz    *wavefunction.Ansatz
	Sampler   *sampler.Sampler
	Estimator *energy.Estimator
	Driver    *optimize.Driver
	Store     *checkpoint.Store
	Exporter  *checkpoint.Exporter
	History   *report.History

	influx  *report.InfluxReporter
	resumed bool
	logger  *slog.Logger
}

// Build assembles a run from cfg.
//
// Outputs:
//
//	*Run - The assembled run. Close it when done.
//	error - Non-nil if any component fails to build, or if Resume is set
//	        and no checkpoint exists for RunID.
func Build(ctx context.Context, cfg config.RunConfig, logger *slog.Logger, opts Options) (run *Run, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Resume && opts.RunID == "" {
		return nil, errors.New("vmc: resume needs a run id")
	}

	mol, err := system.ParseMolecule(cfg.System.Geometry, cfg.System.Unit, cfg.System.Charge, cfg.System.Spin)
	if err != nil {
		return nil, fmt.Errorf("vmc: molecule: %w", err)
	}
	ansatz, err := BuildAnsatz(cfg, mol)
	if err != nil {
		return nil, err
	}
	engine := derivative.New(ansatz)
	estimator := energy.NewEstimator(mol, engine, logger)
	smp, err := sampler.New(cfg.SamplerOptions(), mol, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("vmc: sampler: %w", err)
	}
	smp.SetObserver(telemetry.SamplerObserver{})

	var opt optimize.Optimizer
	if !opts.SampleOnly {
		opt, err = optimize.NewOptimizer(cfg.Optimizer.Name, cfg.Optimizer.LR, cfg.Optimizer.Momentum)
		if err != nil {
			return nil, fmt.Errorf("vmc: %w", err)
		}
	}
	initial, err := ansatz.InitialParams()
	if err != nil {
		return nil, fmt.Errorf("vmc: %w", err)
	}

	run = &Run{
		Config:    cfg,
		Molecule:  mol,
		Ansatz:    ansatz,
		Sampler:   smp,
		Estimator: estimator,
		History:   report.NewHistory(cfg.Report.History),
		logger:    logger,
	}
	defer func() {
		if err != nil {
			_ = run.Close()
			run = nil
		}
	}()

	if err := run.openCheckpoints(ctx, opts.InMemory); err != nil {
		return run, err
	}
	reporters := report.Multi{report.LogReporter{Logger: logger}, run.History}
	if cfg.Report.Influx.URL != "" {
		run.influx, err = report.NewInfluxReporter(report.InfluxConfig{
			URL:         cfg.Report.Influx.URL,
			Org:         cfg.Report.Influx.Org,
			Bucket:      cfg.Report.Influx.Bucket,
			Measurement: cfg.Report.Influx.Measurement,
			Tags:        map[string]string{"geometry": cfg.System.Geometry},
		}, []byte(os.Getenv(InfluxTokenEnv)))
		if err != nil {
			return run, fmt.Errorf("vmc: %w", err)
		}
		reporters = append(reporters, run.influx)
	}
	instr, err := telemetry.NewInstrumentation()
	if err != nil {
		return run, fmt.Errorf("vmc: %w", err)
	}

	driverOpts := []optimize.DriverOption{
		optimize.WithReporter(reporters),
		optimize.WithCheckpointer(&checkpoint.Sink{Store: run.Store, Exporter: run.Exporter, Logger: logger}),
		optimize.WithInstrumentation(instr),
		optimize.WithLogger(logger),
	}
	if opts.RunID != "" {
		driverOpts = append(driverOpts, optimize.WithRunID(opts.RunID))
	}
	run.Driver, err = optimize.NewDriver(cfg.DriverOptions(), smp, estimator, ansatz, opt, initial, driverOpts...)
	if err != nil {
		return run, fmt.Errorf("vmc: %w", err)
	}
	if err := run.Driver.SetPolicy(cfg.DriverPolicy()); err != nil {
		return run, fmt.Errorf("vmc: %w", err)
	}

	if opts.Resume {
		if err := run.resume(opts.RunID); err != nil {
			return run, err
		}
	}
	logger.Info("vmc run assembled",
		"run_id", run.Driver.RunID(),
		"electrons", mol.NumElectrons(),
		"params", ansatz.NumParams(),
		"walkers", cfg.Sampler.NWalkers,
		"optimizer", optimizerName(opt),
		"resumed", run.resumed,
	)
	return run, nil
}

// BuildAnsatz composes the wavefunction described by cfg.
func BuildAnsatz(cfg config.RunConfig, mol *system.Molecule) (*wavefunction.Ansatz, error) {
	lib := cfg.Basis.Shells
	if len(lib) == 0 {
		var ok bool
		if lib, ok = orbital.Builtin(cfg.Basis.Name); !ok {
			return nil, fmt.Errorf("vmc: unknown basis %q", cfg.Basis.Name)
		}
	}
	basis, err := orbital.NewBasis(cfg.Basis.Name, lib, mol)
	if err != nil {
		return nil, fmt.Errorf("vmc: basis: %w", err)
	}
	coeffs, err := orbital.Coefficients(basis.Size(), cfg.Basis.Coefficients)
	if err != nil {
		return nil, fmt.Errorf("vmc: coefficients: %w", err)
	}
	_, nmo := coeffs.Dims()
	dets := cfg.Ansatz.Determinants
	if len(dets) == 0 {
		dets, err = wavefunction.Configurations(cfg.Ansatz.Configs, mol, nmo)
		if err != nil {
			return nil, fmt.Errorf("vmc: %w", err)
		}
	}
	slater, err := wavefunction.NewSlater(mol, basis, coeffs, wavefunction.SlaterOptions{
		Determinants:     dets,
		OptimizeOrbitals: cfg.Ansatz.OptimizeOrbitals,
	})
	if err != nil {
		return nil, fmt.Errorf("vmc: %w", err)
	}
	var wopts []wavefunction.Option
	if cfg.Ansatz.Jastrow {
		wopts = append(wopts, wavefunction.WithCorrelation(wavefunction.NewPadeJastrow(mol, cfg.Ansatz.JastrowLogB)))
	}
	if cfg.Ansatz.JastrowEN {
		wopts = append(wopts, wavefunction.WithCorrelation(wavefunction.NewElectronNucleusJastrow(mol, cfg.Ansatz.JastrowENLogB)))
	}
	if cfg.Ansatz.Backflow {
		wopts = append(wopts, wavefunction.WithBackflow(wavefunction.NewInverseBackflow(mol.NumElectrons(), cfg.Ansatz.BackflowWeight)))
	}
	ansatz, err := wavefunction.New(mol, slater, wopts...)
	if err != nil {
		return nil, fmt.Errorf("vmc: %w", err)
	}
	return ansatz, nil
}

func (r *Run) openCheckpoints(ctx context.Context, inMemory bool) error {
	ck := r.Config.Checkpoint
	storeCfg := checkpoint.DefaultStoreConfig(ck.Dir)
	if inMemory {
		storeCfg = checkpoint.InMemoryStoreConfig()
	}
	storeCfg.Keep = ck.Keep
	storeCfg.Logger = r.logger
	store, err := checkpoint.OpenStore(storeCfg)
	if err != nil {
		return fmt.Errorf("vmc: %w", err)
	}
	r.Store = store

	if inMemory || ck.GCS.Bucket == "" {
		return nil
	}
	exp, err := checkpoint.NewGCSExporter(ctx, ck.GCS.Bucket, ck.GCS.Prefix, ck.GCS.KeyPath)
	if err != nil {
		return fmt.Errorf("vmc: %w", err)
	}
	r.Exporter = exp
	return nil
}

func (r *Run) resume(runID string) error {
	c, err := r.Store.Latest(runID)
	if err != nil {
		return fmt.Errorf("vmc: resume %s: %w", runID, err)
	}
	st, err := c.State()
	if err != nil {
		return fmt.Errorf("vmc: resume %s: %w", runID, err)
	}
	if err := r.Driver.Restore(st); err != nil {
		return fmt.Errorf("vmc: resume %s: %w", runID, err)
	}
	if !st.Record.Timestamp.IsZero() {
		_ = r.History.Report(context.Background(), st.Record)
	}
	r.resumed = true
	r.logger.Info("resumed from checkpoint", "run_id", runID, "step", st.Step, "params_version", st.Params.Version())
	return nil
}

// Execute runs n steps and saves a final checkpoint.
func (r *Run) Execute(ctx context.Context, n int) ([]optimize.StepRecord, error) {
	records, err := r.Driver.Run(ctx, n)
	if len(records) > 0 {
		last := records[len(records)-1]
		if cerr := r.Driver.Checkpoint(context.WithoutCancel(ctx), last); cerr != nil {
			r.logger.Warn("final checkpoint failed", "error", cerr)
		}
	}
	return records, err
}

// Status reports the current run state.
func (r *Run) Status() Status {
	p := r.Driver.Params()
	st := Status{
		RunID:         r.Driver.RunID(),
		Step:          r.Driver.StepIndex(),
		ParamsVersion: p.Version(),
		NumParams:     p.Len(),
		Electrons:     r.Molecule.NumElectrons(),
		Walkers:       r.Sampler.Population().Len(),
		StepSize:      r.Sampler.StepSize(),
		Resumed:       r.resumed,
	}
	if last, ok := r.History.Last(); ok {
		st.Last = &last
	}
	return st
}

// Close releases the checkpoint store, the exporter and the reporters.
func (r *Run) Close() error {
	var errs []error
	if r.influx != nil {
		errs = append(errs, r.influx.Close())
	}
	if r.Exporter != nil {
		errs = append(errs, r.Exporter.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}

func optimizerName(opt optimize.Optimizer) string {
	if opt == nil {
		return "none"
	}
	return opt.Name()
}
