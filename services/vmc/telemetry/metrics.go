// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepsTotal counts optimisation steps.
	// Labels: status (ok, error)
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmc",
		Subsystem: "driver",
		Name:      "steps_total",
		Help:      "Total optimisation steps",
	}, []string{"status"})

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vmc",
		Subsystem: "driver",
		Name:      "step_duration_seconds",
		Help:      "Wall time of one optimisation step",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	energyGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vmc",
		Subsystem: "driver",
		Name:      "energy_hartree",
		Help:      "Mean local energy of the latest step",
	})

	stderrGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vmc",
		Subsystem: "driver",
		Name:      "energy_stderr_hartree",
		Help:      "Standard error of the latest energy estimate",
	})

	essGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vmc",
		Subsystem: "driver",
		Name:      "effective_sample_size",
		Help:      "Effective sample size of the latest step",
	})

	// batchesTotal counts batches by origin.
	// Labels: origin (fresh, reused, resampled)
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmc",
		Subsystem: "driver",
		Name:      "batches_total",
		Help:      "Batches by origin",
	}, []string{"origin"})

	invalidSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vmc",
		Subsystem: "energy",
		Name:      "invalid_samples_total",
		Help:      "Samples excluded from statistics",
	})

	// acceptanceGauge tracks the latest move acceptance.
	// Labels: phase (burnin, production)
	acceptanceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vmc",
		Subsystem: "sampler",
		Name:      "acceptance_ratio",
		Help:      "Acceptance ratio of the latest move",
	}, []string{"phase"})

	stepSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vmc",
		Subsystem: "sampler",
		Name:      "step_size_bohr",
		Help:      "Current proposal step size",
	})

	// movesTotal counts population moves.
	// Labels: phase (burnin, production)
	movesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmc",
		Subsystem: "sampler",
		Name:      "moves_total",
		Help:      "Population moves",
	}, []string{"phase"})

	// divergencesTotal counts sampler divergence events.
	// Labels: kind (collapse, saturation)
	divergencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmc",
		Subsystem: "sampler",
		Name:      "divergences_total",
		Help:      "Acceptance divergence events",
	}, []string{"kind"})
)
