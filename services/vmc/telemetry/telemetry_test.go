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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
	"github.com/AleutianAI/AleutianVMC/services/vmc/sampler"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	cfg := DefaultConfig()
	assert.Equal(t, "aleutian-vmc", cfg.ServiceName)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)

	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	assert.Equal(t, "stdout", DefaultConfig().TraceExporter)
}

func TestInit(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.True(t, errors.Is(err, ErrNilContext))

	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	cfg.TraceExporter = "zipkin"
	_, err = Init(context.Background(), cfg)
	assert.True(t, errors.Is(err, ErrUnknownExporter))

	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"
	shutdown, err = Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestMetricsHandler_ServesRegistry(t *testing.T) {
	SamplerObserver{}.MoveCompleted(sampler.PhaseBurnin, 0.5, 0.3)

	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vmc_sampler_moves_total")
}

func TestSamplerObserver(t *testing.T) {
	before := testutil.ToFloat64(movesTotal.WithLabelValues(sampler.PhaseProduction))
	obs := SamplerObserver{}
	obs.MoveCompleted(sampler.PhaseProduction, 0.42, 0.25)
	obs.MoveCompleted(sampler.PhaseProduction, 0.44, 0.25)
	obs.Diverged("collapse")

	assert.Equal(t, before+2, testutil.ToFloat64(movesTotal.WithLabelValues(sampler.PhaseProduction)))
	assert.Equal(t, 0.44, testutil.ToFloat64(acceptanceGauge.WithLabelValues(sampler.PhaseProduction)))
	assert.Equal(t, 0.25, testutil.ToFloat64(stepSizeGauge))
	assert.GreaterOrEqual(t, testutil.ToFloat64(divergencesTotal.WithLabelValues("collapse")), 1.0)
}

func newTestInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	instr, err := NewInstrumentationWith(tp.Tracer("test"), mp.Meter("test"))
	require.NoError(t, err)
	return instr, sr, reader
}

func TestInstrumentation_SuccessfulStep(t *testing.T) {
	instr, sr, reader := newTestInstrumentation(t)
	okBefore := testutil.ToFloat64(stepsTotal.WithLabelValues("ok"))

	_, end := instr.StartStep(context.Background(), "run-a", 4)
	end(optimize.StepRecord{
		RunID:      "run-a",
		Step:       4,
		Energy:     -1.13,
		StdErr:     0.002,
		ESS:        800,
		Reused:     true,
		Divergence: "saturation",
		Duration:   150 * time.Millisecond,
	}, nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "vmc.Driver.Step", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "sampler divergence", spans[0].Events()[0].Name)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(stepsTotal.WithLabelValues("ok")))
	assert.Equal(t, -1.13, testutil.ToFloat64(energyGauge))
	assert.Equal(t, 800.0, testutil.ToFloat64(essGauge))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	hist, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestInstrumentation_FailedStep(t *testing.T) {
	instr, sr, _ := newTestInstrumentation(t)
	errBefore := testutil.ToFloat64(stepsTotal.WithLabelValues("error"))

	_, end := instr.StartStep(context.Background(), "run-a", 0)
	end(optimize.StepRecord{}, errors.New("no valid samples"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, errBefore+1, testutil.ToFloat64(stepsTotal.WithLabelValues("error")))
}

func TestBatchOrigin(t *testing.T) {
	assert.Equal(t, "fresh", batchOrigin(optimize.StepRecord{}))
	assert.Equal(t, "reused", batchOrigin(optimize.StepRecord{Reused: true}))
	assert.Equal(t, "resampled", batchOrigin(optimize.StepRecord{Resampled: true}))
}
