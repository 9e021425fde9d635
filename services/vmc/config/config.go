// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads run configuration with priority
// env > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
	"github.com/AleutianAI/AleutianVMC/services/vmc/orbital"
	"github.com/AleutianAI/AleutianVMC/services/vmc/sampler"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/telemetry"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

var validate = validator.New()

// SystemConfig describes the molecule.
type SystemConfig struct {
	// Geometry lists atoms as "El x y z" separated by ';' or newlines.
	Geometry string `yaml:"geometry" json:"geometry" validate:"required"`
	Unit     string `yaml:"unit" json:"unit" validate:"oneof=bohr au angs angstrom"`
	Charge   int    `yaml:"charge" json:"charge"`
	Spin     int    `yaml:"spin" json:"spin" validate:"gte=0"`
}

// BasisConfig selects the atomic orbital basis.
type BasisConfig struct {
	// Name is a built-in basis ("sz", "sto-3g") unless Shells is set.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Shells defines a custom basis per element symbol.
	Shells orbital.Library `yaml:"shells,omitempty" json:"shells,omitempty"`

	// Coefficients are molecular orbital rows over the AO basis; empty
	// uses the identity.
	Coefficients [][]float64 `yaml:"coefficients,omitempty" json:"coefficients,omitempty"`
}

// AnsatzConfig selects the wavefunction terms.
type AnsatzConfig struct {
	// Configs is ground_state, single(n,m) or single_double(n,m).
	// Determinants, when set, replaces the keyword with an explicit list.
	Configs          string                     `yaml:"configs" json:"configs"`
	Determinants     []wavefunction.Determinant `yaml:"determinants,omitempty" json:"determinants,omitempty"`
	OptimizeOrbitals bool                       `yaml:"optimize_orbitals" json:"optimize_orbitals"`
	Jastrow          bool                       `yaml:"jastrow" json:"jastrow"`
	JastrowLogB      float64                    `yaml:"jastrow_log_b" json:"jastrow_log_b"`
	JastrowEN        bool                       `yaml:"jastrow_en" json:"jastrow_en"`
	JastrowENLogB    float64                    `yaml:"jastrow_en_log_b" json:"jastrow_en_log_b"`
	Backflow         bool                       `yaml:"backflow" json:"backflow"`
	BackflowWeight   float64                    `yaml:"backflow_weight" json:"backflow_weight"`
}

// PolicyConfig is the hot-reloadable part of the configuration.
type PolicyConfig struct {
	TargetLow      float64 `yaml:"target_low" json:"target_low" validate:"gt=0,lt=1"`
	TargetHigh     float64 `yaml:"target_high" json:"target_high" validate:"gt=0,lt=1,gtfield=TargetLow"`
	AdaptFactor    float64 `yaml:"adapt_factor" json:"adapt_factor" validate:"gt=1"`
	DivergenceLow  float64 `yaml:"divergence_low" json:"divergence_low" validate:"gte=0,lt=1"`
	DivergenceHigh float64 `yaml:"divergence_high" json:"divergence_high" validate:"gt=0,lte=1,gtfield=DivergenceLow"`
	ESSThreshold   float64 `yaml:"ess_threshold" json:"ess_threshold" validate:"gte=0,lte=1"`
}

// SamplerConfig configures walker sampling.
type SamplerConfig struct {
	NWalkers         int           `yaml:"nwalkers" json:"nwalkers" validate:"gt=0"`
	Burnin           int           `yaml:"burnin" json:"burnin" validate:"gte=0"`
	Samples          int           `yaml:"samples" json:"samples" validate:"gt=0"`
	Stride           int           `yaml:"stride" json:"stride" validate:"gt=0"`
	StepSize         float64       `yaml:"step_size" json:"step_size" validate:"gt=0"`
	MinStep          float64       `yaml:"min_step" json:"min_step" validate:"gt=0"`
	MaxStep          float64       `yaml:"max_step" json:"max_step" validate:"gtefield=MinStep"`
	Move             string        `yaml:"move" json:"move" validate:"oneof=all-elec one-elec"`
	Proposal         string        `yaml:"proposal" json:"proposal" validate:"oneof=normal uniform"`
	Langevin         bool          `yaml:"langevin" json:"langevin"`
	MaxDrift         float64       `yaml:"max_drift" json:"max_drift" validate:"gte=0"`
	AdaptInterval    int           `yaml:"adapt_interval" json:"adapt_interval" validate:"gte=0"`
	DivergenceWindow int           `yaml:"divergence_window" json:"divergence_window" validate:"gte=0"`
	Seed             uint64        `yaml:"seed" json:"seed"`
	Workers          int           `yaml:"workers" json:"workers" validate:"gte=0"`
	Init             system.Domain `yaml:"init" json:"init"`
}

// DriverConfig configures the optimisation loop.
type DriverConfig struct {
	Steps           int `yaml:"steps" json:"steps" validate:"gte=0"`
	MaxReuse        int `yaml:"max_reuse" json:"max_reuse" validate:"gte=0"`
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every" validate:"gte=0"`
}

// OptimizerConfig selects the parameter update rule.
type OptimizerConfig struct {
	Name     string  `yaml:"name" json:"name" validate:"oneof=sgd adam"`
	LR       float64 `yaml:"lr" json:"lr" validate:"gt=0"`
	Momentum float64 `yaml:"momentum" json:"momentum" validate:"gte=0,lt=1"`
}

// GCSConfig configures checkpoint export.
type GCSConfig struct {
	Bucket  string `yaml:"bucket" json:"bucket"`
	Prefix  string `yaml:"prefix" json:"prefix"`
	KeyPath string `yaml:"key_path" json:"key_path"`
}

// CheckpointConfig configures local persistence.
type CheckpointConfig struct {
	Dir  string    `yaml:"dir" json:"dir"`
	Keep int       `yaml:"keep" json:"keep" validate:"gte=0"`
	GCS  GCSConfig `yaml:"gcs" json:"gcs"`
}

// InfluxConfig configures the metrics sink. The token is read from
// VMC_INFLUX_TOKEN only and never stored in the file.
type InfluxConfig struct {
	URL         string `yaml:"url" json:"url" validate:"omitempty,url"`
	Org         string `yaml:"org" json:"org" validate:"required_with=URL"`
	Bucket      string `yaml:"bucket" json:"bucket" validate:"required_with=URL"`
	Measurement string `yaml:"measurement" json:"measurement"`
}

// ReportConfig configures step record sinks.
type ReportConfig struct {
	History int          `yaml:"history" json:"history" validate:"gte=1"`
	Influx  InfluxConfig `yaml:"influx" json:"influx"`
}

// ObservabilityConfig configures logs, telemetry and the status server.
type ObservabilityConfig struct {
	LogLevel   string           `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogJSON    bool             `yaml:"log_json" json:"log_json"`
	LogDir     string           `yaml:"log_dir" json:"log_dir"`
	StatusAddr string           `yaml:"status_addr" json:"status_addr"`
	Telemetry  telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// RunConfig is the full configuration of a run.
type RunConfig struct {
	System        SystemConfig        `yaml:"system" json:"system"`
	Basis         BasisConfig         `yaml:"basis" json:"basis"`
	Ansatz        AnsatzConfig        `yaml:"ansatz" json:"ansatz"`
	Sampler       SamplerConfig       `yaml:"sampler" json:"sampler"`
	Policy        PolicyConfig        `yaml:"policy" json:"policy"`
	Driver        DriverConfig        `yaml:"driver" json:"driver"`
	Optimizer     OptimizerConfig     `yaml:"optimizer" json:"optimizer"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint" json:"checkpoint"`
	Report        ReportConfig        `yaml:"report" json:"report"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// Default returns defaults for every section except the geometry.
func Default() RunConfig {
	sc := sampler.DefaultConfig()
	pol := sampler.DefaultPolicy()
	return RunConfig{
		System: SystemConfig{Unit: "bohr"},
		Basis:  BasisConfig{Name: "sz"},
		Ansatz: AnsatzConfig{Configs: "ground_state", JastrowLogB: 0},
		Sampler: SamplerConfig{
			NWalkers:         sc.NWalkers,
			Burnin:           sc.Burnin,
			Samples:          sc.Samples,
			Stride:           sc.Stride,
			StepSize:         sc.StepSize,
			MinStep:          sc.MinStep,
			MaxStep:          sc.MaxStep,
			Move:             string(sc.Move),
			Proposal:         string(sc.Proposal),
			MaxDrift:         sc.MaxDrift,
			AdaptInterval:    sc.AdaptInterval,
			DivergenceWindow: sc.DivergenceWindow,
			Seed:             sc.Seed,
			Init:             sc.Init,
		},
		Policy: PolicyConfig{
			TargetLow:      pol.TargetLow,
			TargetHigh:     pol.TargetHigh,
			AdaptFactor:    pol.AdaptFactor,
			DivergenceLow:  pol.DivergenceLow,
			DivergenceHigh: pol.DivergenceHigh,
			ESSThreshold:   0.5,
		},
		Driver:     DriverConfig{Steps: 100, CheckpointEvery: 10},
		Optimizer:  OptimizerConfig{Name: "adam", LR: 0.01},
		Checkpoint: CheckpointConfig{Dir: "vmc-checkpoints", Keep: 10},
		Report:     ReportConfig{History: 1000},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			Telemetry: telemetry.DefaultConfig(),
		},
	}
}

// Load reads path (optional), applies VMC_* environment overrides and
// validates the result.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *RunConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func applyEnv(cfg *RunConfig) {
	if v := os.Getenv("VMC_GEOMETRY"); v != "" {
		cfg.System.Geometry = v
	}
	if v := os.Getenv("VMC_NWALKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.NWalkers = i
		}
	}
	if v := os.Getenv("VMC_SEED"); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Sampler.Seed = i
		}
	}
	if v := os.Getenv("VMC_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.Workers = i
		}
	}
	if v := os.Getenv("VMC_STEPS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Driver.Steps = i
		}
	}
	if v := os.Getenv("VMC_OPTIMIZER"); v != "" {
		cfg.Optimizer.Name = v
	}
	if v := os.Getenv("VMC_LR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Optimizer.LR = f
		}
	}
	if v := os.Getenv("VMC_ESS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.ESSThreshold = f
		}
	}
	if v := os.Getenv("VMC_CHECKPOINT_DIR"); v != "" {
		cfg.Checkpoint.Dir = v
	}
	if v := os.Getenv("VMC_GCS_BUCKET"); v != "" {
		cfg.Checkpoint.GCS.Bucket = v
	}
	if v := os.Getenv("VMC_INFLUX_URL"); v != "" {
		cfg.Report.Influx.URL = v
	}
	if v := os.Getenv("VMC_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("VMC_LOG_JSON"); v != "" {
		cfg.Observability.LogJSON = v == "true" || v == "1"
	}
	if v := os.Getenv("VMC_STATUS_ADDR"); v != "" {
		cfg.Observability.StatusAddr = v
	}
}

// Validate runs struct tag validation and the cross-section checks the
// tags cannot express.
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.SamplerOptions().Validate(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if _, ok := orbital.Builtin(c.Basis.Name); !ok && len(c.Basis.Shells) == 0 {
		return fmt.Errorf("basis.name %q is not built in and basis.shells is empty", c.Basis.Name)
	}
	if c.Ansatz.Configs == "" && len(c.Ansatz.Determinants) == 0 {
		return fmt.Errorf("ansatz.configs or ansatz.determinants is required")
	}
	if c.Driver.MaxReuse > 0 && c.Policy.ESSThreshold == 0 {
		return fmt.Errorf("driver.max_reuse needs policy.ess_threshold > 0")
	}
	if c.Ansatz.Backflow && c.Ansatz.BackflowWeight < 0 {
		return fmt.Errorf("ansatz.backflow_weight must be >= 0")
	}
	return nil
}

// SamplerPolicy returns the sampler control-loop constants.
func (c RunConfig) SamplerPolicy() sampler.Policy {
	return sampler.Policy{
		TargetLow:      c.Policy.TargetLow,
		TargetHigh:     c.Policy.TargetHigh,
		AdaptFactor:    c.Policy.AdaptFactor,
		DivergenceLow:  c.Policy.DivergenceLow,
		DivergenceHigh: c.Policy.DivergenceHigh,
	}
}

// DriverPolicy returns the hot-swappable driver policy.
func (c RunConfig) DriverPolicy() optimize.Policy {
	return optimize.Policy{Sampler: c.SamplerPolicy(), ESSThreshold: c.Policy.ESSThreshold}
}

// SamplerOptions converts the sampler section.
func (c RunConfig) SamplerOptions() sampler.Config {
	s := c.Sampler
	return sampler.Config{
		NWalkers:         s.NWalkers,
		Burnin:           s.Burnin,
		Samples:          s.Samples,
		Stride:           s.Stride,
		StepSize:         s.StepSize,
		MinStep:          s.MinStep,
		MaxStep:          s.MaxStep,
		Move:             sampler.MoveType(s.Move),
		Proposal:         sampler.ProposalKind(s.Proposal),
		Langevin:         s.Langevin,
		MaxDrift:         s.MaxDrift,
		AdaptInterval:    s.AdaptInterval,
		DivergenceWindow: s.DivergenceWindow,
		Seed:             s.Seed,
		Init:             s.Init,
		Policy:           c.SamplerPolicy(),
		Workers:          s.Workers,
	}
}

// DriverOptions converts the driver section.
func (c RunConfig) DriverOptions() optimize.DriverConfig {
	return optimize.DriverConfig{
		MaxReuse:        c.Driver.MaxReuse,
		ESSThreshold:    c.Policy.ESSThreshold,
		CheckpointEvery: c.Driver.CheckpointEvery,
	}
}
