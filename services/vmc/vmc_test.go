// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vmc

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVMC/services/vmc/checkpoint"
	"github.com/AleutianAI/AleutianVMC/services/vmc/config"
	"github.com/AleutianAI/AleutianVMC/services/vmc/orbital"
	"github.com/AleutianAI/AleutianVMC/services/vmc/system"
	"github.com/AleutianAI/AleutianVMC/services/vmc/wavefunction"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// h2Config is a small, fast H2 run with a Jastrow factor.
func h2Config(t *testing.T) config.RunConfig {
	t.Helper()
	cfg := config.Default()
	cfg.System.Geometry = "H 0 0 0; H 0 0 1.4"
	cfg.Ansatz.Jastrow = true
	cfg.Sampler.NWalkers = 100
	cfg.Sampler.Burnin = 20
	cfg.Sampler.Stride = 5
	cfg.Sampler.Workers = 2
	cfg.Driver.CheckpointEvery = 1
	cfg.Checkpoint.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuild_ExecuteInMemory(t *testing.T) {
	cfg := h2Config(t)
	run, err := Build(context.Background(), cfg, quietLogger(), Options{InMemory: true})
	require.NoError(t, err)
	defer run.Close()

	assert.Equal(t, 2, run.Ansatz.NumParams())
	assert.Nil(t, run.Exporter)

	records, err := run.Execute(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i, rec.Step)
		assert.Equal(t, 100, rec.Samples)
		assert.False(t, math.IsNaN(rec.Energy))
		assert.Greater(t, rec.StdErr, 0.0)
	}

	st := run.Status()
	assert.Equal(t, run.Driver.RunID(), st.RunID)
	assert.Equal(t, 3, st.Step)
	assert.Equal(t, uint64(3), st.ParamsVersion)
	assert.Equal(t, 2, st.Electrons)
	assert.Equal(t, 100, st.Walkers)
	require.NotNil(t, st.Last)
	assert.Equal(t, 2, st.Last.Step)
	assert.Len(t, run.History.Records(), 3)

	metas, err := run.Store.List(run.Driver.RunID())
	require.NoError(t, err)
	require.NotEmpty(t, metas)
	assert.Equal(t, 3, metas[len(metas)-1].Step)
}

func TestBuild_SampleOnlyKeepsParameters(t *testing.T) {
	cfg := h2Config(t)
	run, err := Build(context.Background(), cfg, quietLogger(), Options{InMemory: true, SampleOnly: true})
	require.NoError(t, err)
	defer run.Close()

	before := run.Driver.Params().Values()
	_, err = run.Execute(context.Background(), 2)
	require.NoError(t, err)

	after := run.Driver.Params()
	assert.Equal(t, uint64(0), after.Version())
	assert.Equal(t, before, after.Values())
	assert.Zero(t, run.Status().Last.GradNorm)
}

func TestBuild_ResumeFromCheckpoint(t *testing.T) {
	cfg := h2Config(t)
	ctx := context.Background()

	first, err := Build(ctx, cfg, quietLogger(), Options{RunID: "h2-resume"})
	require.NoError(t, err)
	_, err = first.Execute(ctx, 2)
	require.NoError(t, err)
	saved := first.Driver.Params().Values()
	require.NoError(t, first.Close())

	second, err := Build(ctx, cfg, quietLogger(), Options{RunID: "h2-resume", Resume: true})
	require.NoError(t, err)
	defer second.Close()

	st := second.Status()
	assert.True(t, st.Resumed)
	assert.Equal(t, "h2-resume", st.RunID)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, uint64(2), st.ParamsVersion)
	assert.Equal(t, saved, second.Driver.Params().Values())
	require.NotNil(t, st.Last)
	assert.Equal(t, 1, st.Last.Step)

	latest, err := second.Store.Latest("h2-resume")
	require.NoError(t, err)
	require.NotNil(t, latest.Optimizer)
	assert.Equal(t, "adam", latest.Optimizer.Name)
	assert.Equal(t, 2, latest.Optimizer.T)

	records, err := second.Execute(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Step)
	assert.Equal(t, 3, second.Driver.StepIndex())
}

func TestBuild_ResumeErrors(t *testing.T) {
	cfg := h2Config(t)

	_, err := Build(context.Background(), cfg, quietLogger(), Options{Resume: true})
	assert.ErrorContains(t, err, "resume needs a run id")

	_, err = Build(context.Background(), cfg, quietLogger(), Options{RunID: "missing", Resume: true, InMemory: true})
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.RunConfig)
		want   string
	}{
		{
			name:   "bad geometry",
			mutate: func(c *config.RunConfig) { c.System.Geometry = "Xx 0 0 0" },
			want:   "molecule",
		},
		{
			name:   "bad configuration keyword",
			mutate: func(c *config.RunConfig) { c.Ansatz.Configs = "triples" },
			want:   "unknown configuration keyword",
		},
		{
			name:   "ragged coefficients",
			mutate: func(c *config.RunConfig) { c.Basis.Coefficients = [][]float64{{1, 0}, {0}} },
			want:   "coefficients",
		},
		{
			name: "influx without token",
			mutate: func(c *config.RunConfig) {
				c.Report.Influx = config.InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"}
			},
			want: "token is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(InfluxTokenEnv, "")
			cfg := h2Config(t)
			tt.mutate(&cfg)
			_, err := Build(context.Background(), cfg, quietLogger(), Options{InMemory: true})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBuildAnsatz_Terms(t *testing.T) {
	cfg := h2Config(t)
	cfg.Ansatz.Backflow = true
	cfg.Ansatz.BackflowWeight = 0.1
	cfg.Ansatz.JastrowEN = true
	cfg.Ansatz.JastrowENLogB = 0.5
	cfg.Ansatz.Configs = "single(2,2)"

	run, err := Build(context.Background(), cfg, quietLogger(), Options{InMemory: true, SampleOnly: true})
	require.NoError(t, err)
	defer run.Close()

	names := make([]string, 0, 4)
	for _, b := range run.Ansatz.Layout() {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"slater", "jastrow", "jastrow_en", "backflow"}, names)

	p, err := run.Ansatz.InitialParams()
	require.NoError(t, err)
	bf, ok := p.Block("backflow")
	require.True(t, ok)
	assert.Equal(t, 0.1, p.At(bf.Offset))
	en, ok := p.Block("jastrow_en")
	require.True(t, ok)
	assert.Equal(t, 2, en.Len)
	assert.Equal(t, 0.5, p.At(en.Offset))
}

func TestBuildAnsatz_CustomBasisAndDeterminants(t *testing.T) {
	cfg := h2Config(t)
	cfg.Basis.Name = "h-dz"
	cfg.Basis.Shells = orbital.Library{
		"H": {
			{Kind: orbital.Slater, Exponents: []float64{1.2}},
			{Kind: orbital.Slater, Exponents: []float64{0.6}},
		},
	}
	cfg.Ansatz.Determinants = []wavefunction.Determinant{
		{Up: []int{0}, Down: []int{0}},
		{Up: []int{1}, Down: []int{1}},
	}
	require.NoError(t, cfg.Validate())

	mol, err := system.ParseMolecule(cfg.System.Geometry, cfg.System.Unit, 0, 0)
	require.NoError(t, err)
	a, err := BuildAnsatz(cfg, mol)
	require.NoError(t, err)

	// two CI weights plus the two Jastrow parameters
	assert.Equal(t, 4, a.NumParams())
}
