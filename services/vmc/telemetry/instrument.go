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
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

const instrumentationName = "github.com/AleutianAI/AleutianVMC/services/vmc"

// Instrumentation traces optimisation steps and records their metrics.
// It implements optimize.Instrumentation.
type Instrumentation struct {
	tracer trace.Tracer
	energy metric.Float64Histogram
}

// NewInstrumentation uses the global providers installed by Init.
func NewInstrumentation() (*Instrumentation, error) {
	return NewInstrumentationWith(otel.Tracer(instrumentationName), otel.Meter(instrumentationName))
}

// NewInstrumentationWith uses explicit providers.
func NewInstrumentationWith(tracer trace.Tracer, meter metric.Meter) (*Instrumentation, error) {
	h, err := meter.Float64Histogram(
		"vmc_step_energy",
		metric.WithDescription("Mean local energy per optimisation step"),
		metric.WithUnit("Eh"),
	)
	if err != nil {
		return nil, fmt.Errorf("create vmc_step_energy: %w", err)
	}
	return &Instrumentation{tracer: tracer, energy: h}, nil
}

// StartStep implements optimize.Instrumentation.
func (i *Instrumentation) StartStep(ctx context.Context, runID string, step int) (context.Context, func(optimize.StepRecord, error)) {
	ctx, span := i.tracer.Start(ctx, "vmc.Driver.Step",
		trace.WithAttributes(
			attribute.String("vmc.run_id", runID),
			attribute.Int("vmc.step", step),
		),
	)
	return ctx, func(rec optimize.StepRecord, err error) {
		defer span.End()
		if err != nil {
			stepsTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		stepsTotal.WithLabelValues("ok").Inc()
		stepDuration.Observe(rec.Duration.Seconds())
		energyGauge.Set(rec.Energy)
		stderrGauge.Set(rec.StdErr)
		essGauge.Set(rec.ESS)
		invalidSamplesTotal.Add(float64(rec.Invalid))
		batchesTotal.WithLabelValues(batchOrigin(rec)).Inc()
		i.energy.Record(ctx, rec.Energy, metric.WithAttributes(attribute.String("vmc.run_id", rec.RunID)))

		span.SetAttributes(
			attribute.Float64("vmc.energy", rec.Energy),
			attribute.Float64("vmc.stderr", rec.StdErr),
			attribute.Float64("vmc.acceptance", rec.Acceptance),
			attribute.Float64("vmc.ess", rec.ESS),
			attribute.Int("vmc.invalid", rec.Invalid),
			attribute.String("vmc.batch", batchOrigin(rec)),
		)
		if rec.Divergence != "" {
			span.AddEvent("sampler divergence", trace.WithAttributes(attribute.String("kind", rec.Divergence)))
		}
		span.SetStatus(codes.Ok, "")
	}
}

func batchOrigin(rec optimize.StepRecord) string {
	switch {
	case rec.Reused:
		return "reused"
	case rec.Resampled:
		return "resampled"
	default:
		return "fresh"
	}
}

// SamplerObserver exports sampler progress. It implements
// sampler.Observer.
type SamplerObserver struct{}

// MoveCompleted implements sampler.Observer.
func (SamplerObserver) MoveCompleted(phase string, acceptance, stepSize float64) {
	movesTotal.WithLabelValues(phase).Inc()
	acceptanceGauge.WithLabelValues(phase).Set(acceptance)
	stepSizeGauge.Set(stepSize)
}

// Diverged implements sampler.Observer.
func (SamplerObserver) Diverged(kind string) {
	divergencesTotal.WithLabelValues(kind).Inc()
}
