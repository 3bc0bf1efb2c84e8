// Package main runs replicate simulations from consecutive seeds and fits the
// empirical per-capita growth rate of the mean population trajectory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/fusion/config"
	"github.com/pthm-cable/fusion/telemetry"
)

// EnsembleRow is one checkpoint of the ensemble summary.
type EnsembleRow struct {
	Time   float64 `csv:"time"`
	Mean   float64 `csv:"mean_populations"`
	Std    float64 `csv:"std_populations"`
	P10    float64 `csv:"p10"`
	P50    float64 `csv:"p50"`
	P90    float64 `csv:"p90"`
	Fitted float64 `csv:"fitted"`
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	runs := flag.Int("runs", 100, "Number of replicate runs")
	maxTime := flag.Float64("max-time", 0, "Simulated time per run (0 = use config)")
	points := flag.Int("points", 20, "Number of checkpoints per run")
	outputDir := flag.String("output", "", "Output directory for results")
	dbPath := flag.String("db", "", "SQLite database to add every replicate to (empty = disabled)")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if *runs < 1 || *points < 1 {
		log.Fatal("--runs and --points must be positive")
	}

	// Individual runs log at info level; keep the driver output readable.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	runTime := cfg.Simulation.MaxTime
	if *maxTime > 0 {
		runTime = *maxTime
	}

	ctx := context.Background()
	store, err := telemetry.OpenRunStore(ctx, *dbPath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer store.Close()

	times := checkpoints(runTime, *points)
	perPoint := make([][]float64, len(times))
	startTime := time.Now()

	for i := 0; i < *runs; i++ {
		seed := int64(i*1000 + 42)
		res, err := runReplicate(ctx, store, cfg, seed, runTime, times)
		if err != nil {
			log.Fatalf("run %d (seed %d) failed: %v", i, seed, err)
		}
		for k, c := range res.counts {
			perPoint[k] = append(perPoint[k], c)
		}
		fmt.Printf("Run %d/%d: seed=%d steps=%d final=%.0f\n", i+1, *runs, seed, res.steps, res.counts[len(res.counts)-1])
	}

	rows := make([]EnsembleRow, len(times))
	means := make([]float64, len(times))
	for k, t := range times {
		s := telemetry.SummarizeTrait(perPoint[k])
		rows[k] = EnsembleRow{Time: t, Mean: s.Mean, Std: s.Std, P10: s.P10, P50: s.P50, P90: s.P90}
		means[k] = s.Mean
	}

	rate, err := fitGrowthRate(times, means, 1)
	if err != nil {
		log.Printf("growth rate fit failed: %v", err)
	} else {
		for k := range rows {
			rows[k].Fitted = math.Exp(rate * rows[k].Time)
		}
	}

	outPath := filepath.Join(*outputDir, "ensemble.csv")
	f, err := os.Create(outPath)
	if err != nil {
		log.Fatalf("failed to create %s: %v", outPath, err)
	}
	defer f.Close()
	if err := gocsv.Marshal(rows, f); err != nil {
		log.Fatalf("failed to write %s: %v", outPath, err)
	}
	if err := cfg.WriteYAML(filepath.Join(*outputDir, "config.yaml")); err != nil {
		log.Printf("failed to write config: %v", err)
	}

	fmt.Printf("\nEnsemble of %d runs complete in %s\n", *runs, time.Since(startTime).Round(time.Millisecond))
	fmt.Printf("Fitted growth rate: %.4f per unit time (birth - death = %.4f)\n",
		rate, cfg.Simulation.BirthRate-cfg.Simulation.DeathRate)
	fmt.Printf("Results saved to: %s\n", outPath)
}
