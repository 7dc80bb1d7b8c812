package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/indiepalbien/app-finzas/internal/dispatch"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run periodic batch runs and expose metrics until interrupted",
		Long: `Start the scheduler that applies rules to every owner on batch.schedule and
retires stale rules on maintenance.schedule, and serve Prometheus metrics on
metrics.addr.`,
		RunE: runServe,
	}

	cmd.Flags().Bool("run-now", false, "Run one periodic pass before waiting for the schedule")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	runNow, _ := cmd.Flags().GetBool("run-now")

	a, cleanup, err := newApp(ctx, engineOptions())
	if err != nil {
		return err
	}
	defer cleanup()

	scheduler, err := dispatch.NewScheduler(a.coordinator, a.maintainer, dispatch.SchedulerOptions{
		RunSchedule:    cfg.Batch.Schedule,
		RetireSchedule: cfg.Maintenance.Schedule,
		Criteria:       retireCriteria(),
		PeriodicCap:    cfg.Batch.PeriodicCap,
	})
	if err != nil {
		return err
	}

	a.queue.Start(ctx)
	if runNow {
		scheduler.RunPeriodic(ctx)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Serving metrics", "addr", cfg.Metrics.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received interrupt signal, shutting down gracefully...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
