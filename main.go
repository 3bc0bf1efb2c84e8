package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/director"
	"github.com/pthm-cable/fusion/telemetry"
)

// Failures are logged; the process always exits successfully.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("run failed", "error", err)
	}
}

// run parses args, executes one simulation and writes its outputs. The event
// history is printed to stdout unless -quiet is set.
func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fusion", flag.ContinueOnError)

	// CLI flags
	configPath := fs.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := fs.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTime := fs.Float64("max-time", 0, "Simulated time budget (0 = use config)")
	outputDir := fs.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	logStats := fs.Bool("log-stats", false, "Output window stats via slog")
	quiet := fs.Bool("quiet", false, "Do not print the event history")
	dbPath := fs.String("db", "", "SQLite database collecting runs (empty = disabled)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.Init(*configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	runTime := cfg.Simulation.MaxTime
	if *maxTime > 0 {
		runTime = *maxTime
	}

	output, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}

	ctx := context.Background()
	store, err := telemetry.OpenRunStore(ctx, *dbPath)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer store.Close()
	runID, err := store.BeginRun(ctx, rngSeed, runTime, cfg)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	var metrics *telemetry.Metrics
	if *metricsAddr != "" {
		metrics = telemetry.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(ctx)
		slog.Info("serving metrics", "addr", *metricsAddr)
	}

	historyOut := stdout
	if *quiet {
		historyOut = io.Discard
	}
	observer := telemetry.NewObserver(historyOut)

	d, err := director.NewFromConfig(cfg, director.Options{
		Seed:       rngSeed,
		Observer:   observer,
		Collector:  telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		Lineage:    telemetry.NewLineageTracker(),
		Milestones: telemetry.NewMilestoneDetector(cfg.Telemetry.MilestoneHistory, cfg.Telemetry.CrashDropPercent, cfg.Telemetry.CrashMinDrop),
		Perf:       telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		Output:     output,
		Metrics:    metrics,
		Store:      store,
		RunID:      runID,
		LogStats:   *logStats,
	})
	if err != nil {
		return fmt.Errorf("creating simulation: %w", err)
	}

	slog.Info("starting simulation", "seed", rngSeed, "max_time", runTime)

	if err := d.RunSimulation(runTime); err != nil {
		return fmt.Errorf("simulation aborted at t=%g: %w", d.Clock(), err)
	}

	if err := output.WriteEvents(observer.History()); err != nil {
		slog.Error("failed to write events", "error", err)
	}
	if err := store.WriteEvents(ctx, runID, observer.History()); err != nil {
		slog.Error("failed to store events", "error", err)
	}
	if err := store.FinishRun(ctx, runID, d.Clock(), d.Steps(), d.System().PopulationCount()); err != nil {
		slog.Error("failed to finish run record", "error", err)
	}
	return nil
}
