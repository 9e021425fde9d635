// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVMC/services/vmc/checkpoint"
	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

func TestRenderSummary_Plain(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, []optimize.StepRecord{
		{Step: 0, Energy: -1.1, StdErr: 0.01, Acceptance: 0.5, ESS: 100},
		{Step: 1, Energy: -1.12, StdErr: 0.01, Reused: true, ESS: 80},
		{Step: 2, Energy: -1.13, StdErr: 0.01, Resampled: true, Divergence: "collapsed", Invalid: 2},
	}, false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "energy")
	assert.Contains(t, lines[1], "-1.100000")
	assert.Contains(t, lines[1], "fresh")
	assert.Contains(t, lines[2], "reuse")
	assert.Contains(t, lines[3], "redraw")
	assert.Contains(t, lines[3], "collapsed invalid=2")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestRenderSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, nil, false)
	assert.Equal(t, "no steps completed\n", buf.String())
}

func TestCombine(t *testing.T) {
	mean, stderr := combine([]optimize.StepRecord{
		{Energy: -1.0, StdErr: 0.3},
		{Energy: -2.0, StdErr: 0.4},
	})
	assert.InDelta(t, -1.5, mean, 1e-12)
	assert.InDelta(t, 0.25, stderr, 1e-12)
	assert.False(t, math.IsNaN(stderr))
}

func seedStore(t *testing.T, dir string) {
	t.Helper()
	cfg := checkpoint.DefaultStoreConfig(dir)
	cfg.GCInterval = 0
	store, err := checkpoint.OpenStore(cfg)
	require.NoError(t, err)
	for _, step := range []int{2, 4} {
		require.NoError(t, store.Save(context.Background(), checkpoint.Checkpoint{
			Format: checkpoint.FormatVersion,
			RunID:  "h2",
			Step:   step,
			Record: optimize.StepRecord{RunID: "h2", Step: step - 1, Energy: -1.1},
		}))
	}
	require.NoError(t, store.Close())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, storeDir = "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckpointCommands(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)

	out, err := execute(t, "checkpoint", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "h2")
	assert.Equal(t, 3, strings.Count(strings.TrimSpace(out), "\n")+1)

	out, err = execute(t, "checkpoint", "show", "h2", "--dir", dir)
	require.NoError(t, err)
	var c checkpoint.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, 4, c.Step)

	out, err = execute(t, "checkpoint", "show", "h2", "2", "--dir", dir)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, 2, c.Step)

	_, err = execute(t, "checkpoint", "show", "h2", "two", "--dir", dir)
	assert.ErrorContains(t, err, "invalid step")

	_, err = execute(t, "checkpoint", "show", "missing", "--dir", dir)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	_, err = execute(t, "checkpoint", "export", "h2", "--dir", dir)
	assert.ErrorContains(t, err, "gcs.bucket is not configured")
}
