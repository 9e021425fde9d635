// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianVMC/services/vmc/optimize"
)

// InfluxConfig configures the InfluxDB reporter.
type InfluxConfig struct {
	URL         string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration

	// Tags are attached to every point, e.g. the molecule name.
	Tags map[string]string
}

// InfluxReporter writes each step record as an InfluxDB point.
type InfluxReporter struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	tags        map[string]string
	timeout     time.Duration
}

// NewInfluxReporter connects to InfluxDB. token is sealed in a memguard
// enclave and wiped from the caller's slice; it is only unsealed while
// the client is built.
func NewInfluxReporter(cfg InfluxConfig, token []byte) (*InfluxReporter, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: url, org and bucket are required")
	}
	if len(token) == 0 {
		return nil, errors.New("influx: token is required")
	}
	enclave := memguard.NewEnclave(token)
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("influx: open token enclave: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, buf.String())
	buf.Destroy()

	return newInfluxReporter(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg), nil
}

func newInfluxReporter(client influxdb2.Client, w api.WriteAPIBlocking, cfg InfluxConfig) *InfluxReporter {
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "vmc_step"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &InfluxReporter{
		client:      client,
		writer:      w,
		measurement: measurement,
		tags:        cfg.Tags,
		timeout:     timeout,
	}
}

// Point converts a record into an InfluxDB point.
func (r *InfluxReporter) Point(rec optimize.StepRecord) *write.Point {
	tags := map[string]string{"run_id": rec.RunID}
	for k, v := range r.tags {
		tags[k] = v
	}
	fields := map[string]interface{}{
		"step":           rec.Step,
		"energy":         rec.Energy,
		"stderr":         rec.StdErr,
		"variance":       rec.Variance,
		"acceptance":     rec.Acceptance,
		"ess":            rec.ESS,
		"samples":        rec.Samples,
		"invalid":        rec.Invalid,
		"reused":         rec.Reused,
		"resampled":      rec.Resampled,
		"step_size":      rec.StepSize,
		"grad_norm":      rec.GradNorm,
		"params_version": strconv.FormatUint(rec.ParamsVersion, 10),
		"duration_ms":    rec.Duration.Milliseconds(),
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(r.measurement, tags, fields, ts)
}

// Report implements optimize.Reporter.
func (r *InfluxReporter) Report(ctx context.Context, rec optimize.StepRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.writer.WritePoint(ctx, r.Point(rec)); err != nil {
		return fmt.Errorf("influx: write step %d: %w", rec.Step, err)
	}
	return nil
}

// Close flushes and releases the client.
func (r *InfluxReporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.writer.Flush(ctx)
	if r.client != nil {
		r.client.Close()
	}
	return err
}
