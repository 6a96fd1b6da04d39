package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rtm/internal/jobs"
	"rtm/internal/metrics"
	"rtm/internal/slogutil"
)

var (
	workerMetricsAddr string
	workerNoMetrics   bool
	workerRetention   time.Duration
	workerStopTimeout time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued commit jobs",
	Long: `Runs the commits queued with 'rtm commit --async' until interrupted. Jobs
that were running when a previous worker died are queued again on start.

Prometheus metrics are served on --metrics-addr unless disabled in config or
with --no-metrics.

Examples:
  rtm worker
  rtm worker --metrics-addr=:9131 --retention=168h`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "Metrics listen address (default from config)")
	workerCmd.Flags().BoolVar(&workerNoMetrics, "no-metrics", false, "Do not serve metrics")
	workerCmd.Flags().DurationVar(&workerRetention, "retention", 0, "Delete finished jobs older than this on start (0 keeps all)")
	workerCmd.Flags().DurationVar(&workerStopTimeout, "stop-timeout", 30*time.Second, "How long to wait for running jobs on shutdown")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	reg, collectors := metrics.NewRegistry()

	a, err := openApp(collectors)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.loggers.FileLogger(slogutil.SubsystemJobs)
	store := jobs.NewStore(a.db, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if workerRetention > 0 {
		removed, err := store.CleanupOldJobs(ctx, workerRetention)
		if err != nil {
			return err
		}
		logger.Info("Removed finished jobs", "count", removed, "retention", workerRetention.String())
	}

	serverErr := make(chan error, 1)
	var server *http.Server
	if a.cfg.Metrics.Enabled && !workerNoMetrics {
		addr := a.cfg.Metrics.Addr
		if workerMetricsAddr != "" {
			addr = workerMetricsAddr
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	runner := jobs.NewRunner(store, a.service, logger, collectors, jobs.RunnerConfigFrom(a.cfg.Jobs))
	if err := runner.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "rtm worker running. Press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErr:
		logger.Error("Metrics server failed", "error", runErr.Error())
	}

	if err := runner.Stop(workerStopTimeout); err != nil {
		logger.Error("Error stopping runner", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during metrics shutdown", "error", err.Error())
		}
	}

	stats := runner.Stats()
	logger.Info("Worker stopped", "processed", stats["processedTotal"], "failed", stats["failedTotal"])
	return runErr
}
