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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVMC/pkg/logging"
	"github.com/AleutianAI/AleutianVMC/services/vmc"
	"github.com/AleutianAI/AleutianVMC/services/vmc/checkpoint"
	"github.com/AleutianAI/AleutianVMC/services/vmc/config"
	"github.com/AleutianAI/AleutianVMC/services/vmc/telemetry"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	steps      int
	runID      string
	resume     bool
	inMemory   bool
	watch      bool
	statusAddr string
	storeDir   string

	rootCmd = &cobra.Command{
		Use:          "vmc",
		Short:        "Variational Monte Carlo for small molecules",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Optimise the wavefunction parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimisation(cmd, false)
		},
	}

	sampleCmd = &cobra.Command{
		Use:   "sample",
		Short: "Estimate the energy at fixed parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimisation(cmd, true)
		},
	}

	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and export saved checkpoints",
	}

	checkpointListCmd = &cobra.Command{
		Use:   "list [run_id]",
		Short: "List checkpoints, optionally for one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheckpointList,
	}

	checkpointShowCmd = &cobra.Command{
		Use:   "show <run_id> [step]",
		Short: "Print a checkpoint as JSON; the latest when step is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runCheckpointShow,
	}

	checkpointExportCmd = &cobra.Command{
		Use:   "export <run_id> [step]",
		Short: "Upload a checkpoint to the configured GCS bucket",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runCheckpointExport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Run configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override observability.log_level")

	for _, cmd := range []*cobra.Command{runCmd, sampleCmd} {
		cmd.Flags().IntVar(&steps, "steps", 0, "Number of steps; 0 uses driver.steps")
		cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier; generated when empty")
		cmd.Flags().BoolVar(&resume, "resume", false, "Continue --run-id from its latest checkpoint")
		cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Keep checkpoints in memory only")
		cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Override observability.status_addr")
	}
	checkpointCmd.PersistentFlags().StringVar(&storeDir, "dir", "", "Override checkpoint.dir")
	runCmd.Flags().BoolVar(&watch, "watch", false, "Reload the policy section when the config file changes")

	checkpointCmd.AddCommand(checkpointListCmd, checkpointShowCmd, checkpointExportCmd)
	rootCmd.AddCommand(runCmd, sampleCmd, checkpointCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (config.RunConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if statusAddr != "" {
		cfg.Observability.StatusAddr = statusAddr
	}
	return cfg, nil
}

func newLogger(cfg config.RunConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Observability.LogDir,
		Service: "vmc",
		JSON:    cfg.Observability.LogJSON,
	}), nil
}

func runOptimisation(cmd *cobra.Command, sampleOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Observability.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	run, err := vmc.Build(ctx, cfg, logger.Slog(), vmc.Options{
		RunID:      runID,
		Resume:     resume,
		SampleOnly: sampleOnly,
		InMemory:   inMemory,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := run.Close(); err != nil {
			logger.Warn("close run failed", "error", err)
		}
	}()

	if addr := cfg.Observability.StatusAddr; addr != "" {
		srv := startStatusServer(addr, newRouter(run, run.History, telemetry.MetricsHandler()), logger.Slog())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if watch && !sampleOnly {
		if configPath == "" {
			return errors.New("--watch needs --config")
		}
		w, err := config.NewPolicyWatcher(configPath, run.Driver.SetPolicy, logger.Slog())
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	n := steps
	if n <= 0 {
		n = cfg.Driver.Steps
	}
	records, runErr := run.Execute(ctx, n)

	out := cmd.OutOrStdout()
	renderSummary(out, records, useColor(os.Stdout))
	if sampleOnly && len(records) > 0 {
		mean, stderr := combine(records)
		fmt.Fprintf(out, "E = %.6f +/- %.6f Eh over %d batches\n", mean, stderr, len(records))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// checkpointSettings returns the checkpoint section. The geometry is
// not needed here, so a missing --config falls back to the defaults.
func checkpointSettings() (config.CheckpointConfig, error) {
	ck := config.Default().Checkpoint
	if configPath != "" {
		cfg, err := loadConfig()
		if err != nil {
			return ck, err
		}
		ck = cfg.Checkpoint
	}
	if storeDir != "" {
		ck.Dir = storeDir
	}
	return ck, nil
}

func openStore(ck config.CheckpointConfig) (*checkpoint.Store, error) {
	storeCfg := checkpoint.DefaultStoreConfig(ck.Dir)
	storeCfg.Keep = ck.Keep
	storeCfg.GCInterval = 0
	return checkpoint.OpenStore(storeCfg)
}

// loadCheckpoint reads args[0] at step args[1], or its latest.
func loadCheckpoint(store *checkpoint.Store, args []string) (checkpoint.Checkpoint, error) {
	if len(args) == 1 {
		return store.Latest(args[0])
	}
	step, err := strconv.Atoi(args[1])
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("invalid step %q: %w", args[1], err)
	}
	return store.Load(args[0], step)
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	ck, err := checkpointSettings()
	if err != nil {
		return err
	}
	store, err := openStore(ck)
	if err != nil {
		return err
	}
	defer store.Close()

	run := ""
	if len(args) == 1 {
		run = args[0]
	}
	metas, err := store.List(run)
	if err != nil {
		return err
	}
	renderCheckpoints(cmd.OutOrStdout(), metas, useColor(os.Stdout))
	return nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	ck, err := checkpointSettings()
	if err != nil {
		return err
	}
	store, err := openStore(ck)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := loadCheckpoint(store, args)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func runCheckpointExport(cmd *cobra.Command, args []string) error {
	ck, err := checkpointSettings()
	if err != nil {
		return err
	}
	gcs := ck.GCS
	if gcs.Bucket == "" {
		return errors.New("checkpoint.gcs.bucket is not configured")
	}
	store, err := openStore(ck)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := loadCheckpoint(store, args)
	if err != nil {
		return err
	}
	exp, err := checkpoint.NewGCSExporter(cmd.Context(), gcs.Bucket, gcs.Prefix, gcs.KeyPath)
	if err != nil {
		return err
	}
	defer exp.Close()
	if err := exp.Export(cmd.Context(), c); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), exp.URI(c.RunID, c.Step))
	return nil
}
