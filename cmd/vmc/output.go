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
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianVMC/services/vmc/checkpoint"
	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

var (
	colorTeal    = lipgloss.Color("#20B9B4")
	colorWarning = lipgloss.Color("#F4D03F")
	colorMuted   = lipgloss.Color("#2C4A54")
)

// styles holds the table styles; the zero value renders plain text.
type styles struct {
	header lipgloss.Style
	cell   lipgloss.Style
	warn   lipgloss.Style
	muted  lipgloss.Style
}

func newStyles(color bool) styles {
	plain := lipgloss.NewStyle()
	if !color {
		return styles{header: plain, cell: plain, warn: plain, muted: plain}
	}
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
		cell:   plain,
		warn:   lipgloss.NewStyle().Foreground(colorWarning),
		muted:  lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// useColor reports whether f is an interactive terminal.
func useColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderSummary writes one row per step record.
func renderSummary(w io.Writer, records []optimize.StepRecord, color bool) {
	st := newStyles(color)
	if len(records) == 0 {
		fmt.Fprintln(w, st.muted.Render("no steps completed"))
		return
	}
	header := fmt.Sprintf("%5s %14s %10s %10s %7s %9s %6s", "step", "energy", "stderr", "variance", "accept", "ess", "batch")
	fmt.Fprintln(w, st.header.Render(header))
	for _, rec := range records {
		origin := "fresh"
		switch {
		case rec.Resampled:
			origin = "redraw"
		case rec.Reused:
			origin = "reuse"
		}
		row := fmt.Sprintf("%5d %14.6f %10.6f %10.6f %7.3f %9.1f %6s",
			rec.Step, rec.Energy, rec.StdErr, rec.Variance, rec.Acceptance, rec.ESS, origin)
		style := st.cell
		if rec.Divergence != "" || rec.Invalid > 0 {
			style = st.warn
			row += " " + strings.TrimSpace(fmt.Sprintf("%s invalid=%d", rec.Divergence, rec.Invalid))
		}
		fmt.Fprintln(w, style.Render(row))
	}
}

// renderCheckpoints writes one row per checkpoint.
func renderCheckpoints(w io.Writer, metas []checkpoint.Meta, color bool) {
	st := newStyles(color)
	if len(metas) == 0 {
		fmt.Fprintln(w, st.muted.Render("no checkpoints"))
		return
	}
	fmt.Fprintln(w, st.header.Render(fmt.Sprintf("%-36s %6s %14s %10s %8s  %s", "run_id", "step", "energy", "stderr", "walkers", "created")))
	for _, m := range metas {
		fmt.Fprintln(w, st.cell.Render(fmt.Sprintf("%-36s %6d %14.6f %10.6f %8d  %s",
			m.RunID, m.Step, m.Energy, m.StdErr, m.Walkers, m.CreatedAt.Format("2006-01-02 15:04:05"))))
	}
}

// combine averages independent batch estimates at fixed parameters.
func combine(records []optimize.StepRecord) (mean, stderr float64) {
	energies := make([]float64, len(records))
	var sumSq float64
	for i, rec := range records {
		energies[i] = rec.Energy
		sumSq += rec.StdErr * rec.StdErr
	}
	n := float64(len(records))
	return stat.Mean(energies, nil), math.Sqrt(sumSq) / n
}
