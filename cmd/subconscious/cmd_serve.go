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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/api"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/maintenance"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/observability"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/telemetry"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := observability.NewServiceMetrics(reg)

	tp, err := telemetry.Init(ctx, cfg.Telemetry, reg)
	if err != nil {
		return err
	}

	queue := worker.NewQueue(cfg.Worker, metrics)
	a, err := newApp(ctx, cfg, queue)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return err
	}

	scheduler := maintenance.NewMergeScheduler(a.merger, a.states, metrics, cfg.Maintenance.SchedulerConfig)
	if cfg.Maintenance.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			slog.Warn("Maintenance scheduler not started", "error", err)
		}
	}

	router := api.NewRouter(api.Deps{
		Pipeline:       a.pipeline,
		States:         a.states,
		Tracker:        a.tracker,
		Merger:         a.merger,
		Queue:          queue,
		Metrics:        metrics,
		MetricsHandler: tp.MetricsHandler(),
		RequireToken:   cfg.Server.RequireToken,
		ServiceName:    cfg.Telemetry.ServiceName,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Subconscious listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case runErr = <-serveErr:
		slog.Error("Server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := errors.Join(
		srv.Shutdown(shutdownCtx),
		scheduler.Stop(),
		queue.Shutdown(shutdownCtx),
		a.Close(),
		tp.Shutdown(shutdownCtx),
	)
	if shutdownErr != nil {
		slog.Warn("Unclean shutdown", "error", shutdownErr)
	}
	if runErr != nil {
		return fmt.Errorf("serve: %w", runErr)
	}
	return nil
}

