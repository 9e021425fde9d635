// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampler

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

// gaussianTarget is log|Ψ| = -α|r|² for one electron, so |Ψ|² is a
// normal density with variance 1/(4α) per coordinate.
type gaussianTarget struct{ alpha float64 }

func (g gaussianTarget) NumElectrons() int { return 1 }

func (g gaussianTarget) LogAmplitude(pos []float64, _ wavefunction.Params) (float64, float64) {
	var r2 float64
	for _, x := range pos {
		r2 += x * x
	}
	return -g.alpha * r2, 1
}

func (g gaussianTarget) Gradient(pos []float64, p wavefunction.Params) ([]float64, float64, float64, bool) {
	grad := make([]float64, len(pos))
	for k, x := range pos {
		grad[k] = -2 * g.alpha * x
	}
	l, s := g.LogAmplitude(pos, p)
	return grad, l, s, true
}

// pairTarget is log|Ψ| = -α_0|r_0|² - α_1|r_1|² for two electrons, so
// each electron is normal with its own variance 1/(4α_e).
type pairTarget struct{ alpha [2]float64 }

func (pairTarget) NumElectrons() int { return 2 }

func (g pairTarget) LogAmplitude(pos []float64, _ wavefunction.Params) (float64, float64) {
	var l float64
	for k, x := range pos {
		l -= g.alpha[k/3] * x * x
	}
	return l, 1
}

func (g pairTarget) Gradient(pos []float64, p wavefunction.Params) ([]float64, float64, float64, bool) {
	grad := make([]float64, len(pos))
	for k, x := range pos {
		grad[k] = -2 * g.alpha[k/3] * x
	}
	l, s := g.LogAmplitude(pos, p)
	return grad, l, s, true
}

// nodeTarget has zero amplitude everywhere.
type nodeTarget struct{}

func (nodeTarget) NumElectrons() int { return 1 }
func (nodeTarget) LogAmplitude([]float64, wavefunction.Params) (float64, float64) {
	return math.Inf(-1), 0
}
func (nodeTarget) Gradient(pos []float64, _ wavefunction.Params) ([]float64, float64, float64, bool) {
	return make([]float64, len(pos)), math.Inf(-1), 0, false
}

func hydrogen(t *testing.T) *system.Molecule {
	t.Helper()
	mol, err := system.ParseMolecule("H 0 0 0", "bohr", 0, 1)
	require.NoError(t, err)
	return mol
}

func emptyParams(t *testing.T) wavefunction.Params {
	t.Helper()
	p, err := wavefunction.NewParams(nil, nil)
	require.NoError(t, err)
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NWalkers = 200
	cfg.Burnin = 50
	cfg.Samples = 2
	cfg.Stride = 5
	cfg.StepSize = 0.5
	cfg.Init = system.Domain{Method: system.InitCenter, Sigma: 1}
	return cfg
}

func TestSample_DeterministicUnderSeed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "random walk", mutate: func(*Config) {}},
		{name: "langevin", mutate: func(c *Config) { c.Langevin = true }},
		{name: "one electron uniform", mutate: func(c *Config) { c.Move = OneElectron; c.Proposal = UniformProposal }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func(workers int) *Batch {
				cfg := testConfig()
				cfg.Workers = workers
				tt.mutate(&cfg)
				s, err := New(cfg, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
				require.NoError(t, err)
				b, err := s.Sample(context.Background(), emptyParams(t))
				require.NoError(t, err)
				return b
			}
			a, b := run(1), run(7)
			assert.Equal(t, a.Positions, b.Positions)
			assert.Equal(t, a.Diag.Acceptance, b.Diag.Acceptance)
			assert.Equal(t, a.Diag.StepSize, b.Diag.StepSize)
		})
	}
}

func TestSample_StationaryDistributionMatchesGaussian(t *testing.T) {
	for _, langevin := range []bool{false, true} {
		name := "random walk"
		if langevin {
			name = "langevin"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.NWalkers = 2000
			cfg.Burnin = 100
			cfg.Samples = 5
			cfg.Stride = 10
			cfg.Langevin = langevin
			s, err := New(cfg, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
			require.NoError(t, err)

			b, err := s.Sample(context.Background(), emptyParams(t))
			require.NoError(t, err)
			require.Equal(t, 2000*5, b.Len())

			var sum, sum2 float64
			inside := 0
			sigma := math.Sqrt(0.5)
			for _, x := range b.Positions {
				sum += x
				sum2 += x * x
				if math.Abs(x) < sigma {
					inside++
				}
			}
			n := float64(len(b.Positions))
			mean := sum / n
			variance := sum2/n - mean*mean
			assert.InDelta(t, 0, mean, 0.03)
			assert.InDelta(t, 0.5, variance, 0.04)
			assert.InDelta(t, 0.6827, float64(inside)/n, 0.02)
		})
	}
}

func TestSample_OneElectronStationaryDistribution(t *testing.T) {
	mol, err := system.ParseMolecule("He 0 0 0", "bohr", 0, 0)
	require.NoError(t, err)
	target := pairTarget{alpha: [2]float64{0.5, 1.0}}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "normal", mutate: func(*Config) {}},
		{name: "langevin", mutate: func(c *Config) { c.Langevin = true }},
		{name: "uniform", mutate: func(c *Config) { c.Proposal = UniformProposal }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Move = OneElectron
			cfg.NWalkers = 2000
			cfg.Burnin = 200
			cfg.Samples = 5
			cfg.Stride = 10
			tt.mutate(&cfg)
			s, err := New(cfg, mol, target, nil)
			require.NoError(t, err)

			b, err := s.Sample(context.Background(), emptyParams(t))
			require.NoError(t, err)
			require.Equal(t, 2000*5, b.Len())

			var sum, sum2 [2]float64
			var count [2]float64
			for k, x := range b.Positions {
				e := (k % 6) / 3
				sum[e] += x
				sum2[e] += x * x
				count[e]++
			}
			for e, want := range []float64{0.5, 0.25} {
				mean := sum[e] / count[e]
				variance := sum2[e]/count[e] - mean*mean
				assert.InDelta(t, 0, mean, 0.03, "electron %d mean", e)
				assert.InDelta(t, want, variance, 0.08*want, "electron %d variance", e)
			}
		})
	}
}

func TestSample_StepSizeBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		step     float64
		wantKind string
		check    func(t *testing.T, acceptance float64)
	}{
		{
			name:     "vanishing step",
			step:     1e-6,
			wantKind: "saturation",
			check:    func(t *testing.T, a float64) { assert.Greater(t, a, 0.99) },
		},
		{
			name:     "huge step",
			step:     1e3,
			wantKind: "collapse",
			check:    func(t *testing.T, a float64) { assert.Less(t, a, 0.02) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.StepSize = tt.step
			cfg.MinStep = 1e-8
			cfg.MaxStep = 1e4
			cfg.AdaptInterval = 0
			cfg.Burnin = 60
			cfg.DivergenceWindow = 20
			s, err := New(cfg, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
			require.NoError(t, err)

			b, err := s.Sample(context.Background(), emptyParams(t))
			require.NoError(t, err)
			require.Equal(t, cfg.NWalkers*cfg.Samples, b.Len())
			tt.check(t, b.Diag.Acceptance)
			assert.ErrorIs(t, b.Diag.Divergence, ErrSamplerDivergence)
			assert.Equal(t, tt.wantKind, b.Diag.DivergenceKind)
		})
	}
}

func TestSample_AdaptsTowardBand(t *testing.T) {
	cfg := testConfig()
	cfg.StepSize = 1.9
	cfg.Burnin = 400
	cfg.AdaptInterval = 20
	s, err := New(cfg, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)

	b, err := s.Sample(context.Background(), emptyParams(t))
	require.NoError(t, err)
	assert.Less(t, b.Diag.StepSize, 1.9)
	assert.Greater(t, b.Diag.Adaptations, 0)
	assert.InDelta(t, 0.5, b.Diag.BurninAcceptance, 0.25)
	assert.NoError(t, b.Diag.Divergence)
}

func TestSample_DegenerateTargetFailsAtInit(t *testing.T) {
	s, err := New(testConfig(), hydrogen(t), nodeTarget{}, nil)
	require.NoError(t, err)
	_, err = s.Sample(context.Background(), emptyParams(t))
	assert.ErrorIs(t, err, wavefunction.ErrDegenerateAnsatz)
}

func TestSample_CancelledKeepsLastValidState(t *testing.T) {
	s, err := New(testConfig(), hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)
	_, err = s.Sample(context.Background(), emptyParams(t))
	require.NoError(t, err)
	before := s.Population().Positions()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sample(ctx, emptyParams(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, s.Population().Positions())
	for i := 0; i < s.Population().Len(); i++ {
		assert.False(t, math.IsInf(s.Population().LogAbs(i), 0))
	}
}

func TestSnapshotRestore_ResumesIdentically(t *testing.T) {
	cfg := testConfig()
	cfg.Langevin = true
	a, err := New(cfg, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)
	_, err = a.Sample(context.Background(), emptyParams(t))
	require.NoError(t, err)

	snap, err := a.Snapshot()
	require.NoError(t, err)

	other := cfg
	other.NWalkers = 17
	other.Seed = 99
	b, err := New(other, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Restore(snap))
	assert.Equal(t, cfg.NWalkers, b.Population().Len())

	nextA, err := a.Sample(context.Background(), emptyParams(t))
	require.NoError(t, err)
	nextB, err := b.Sample(context.Background(), emptyParams(t))
	require.NoError(t, err)
	assert.Equal(t, nextA.Positions, nextB.Positions)
}

func TestRestore_RejectsMismatchedDim(t *testing.T) {
	s, err := New(testConfig(), hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)
	assert.Error(t, s.Restore(Snapshot{NWalkers: 2, Dim: 6, Positions: make([]float64, 12)}))
}

func TestSetPolicy(t *testing.T) {
	s, err := New(testConfig(), hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)
	assert.Error(t, s.SetPolicy(Policy{TargetLow: 0.7, TargetHigh: 0.6, AdaptFactor: 1.2, DivergenceHigh: 1}))

	p := DefaultPolicy()
	p.TargetLow, p.TargetHigh = 0.2, 0.3
	assert.NoError(t, s.SetPolicy(p))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no walkers", func(c *Config) { c.NWalkers = 0 }},
		{"negative burnin", func(c *Config) { c.Burnin = -1 }},
		{"zero stride", func(c *Config) { c.Stride = 0 }},
		{"step outside bounds", func(c *Config) { c.StepSize = 10 }},
		{"unknown move", func(c *Config) { c.Move = "teleport" }},
		{"uniform langevin", func(c *Config) { c.Proposal = UniformProposal; c.Langevin = true }},
		{"bad init", func(c *Config) { c.Init.Method = "spiral" }},
		{"bad policy", func(c *Config) { c.Policy.AdaptFactor = 1 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

type recordingObserver struct {
	moves    int
	diverged []string
}

func (r *recordingObserver) MoveCompleted(string, float64, float64) { r.moves++ }
func (r *recordingObserver) Diverged(kind string)                  { r.diverged = append(r.diverged, kind) }

func TestObserver_ReceivesMoves(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg, hydrogen(t), gaussianTarget{alpha: 0.5}, nil)
	require.NoError(t, err)
	obs := &recordingObserver{}
	s.SetObserver(obs)
	b, err := s.Sample(context.Background(), emptyParams(t))
	require.NoError(t, err)
	assert.Equal(t, b.Diag.Moves, obs.moves)
	assert.Equal(t, cfg.Burnin+cfg.Samples*cfg.Stride, obs.moves)
}
